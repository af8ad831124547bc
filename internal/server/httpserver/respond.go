package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

func respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// setBatchHeaders attaches the cache-coordination headers required on every
// publication response, success and empty alike.
func setBatchHeaders(w http.ResponseWriter, publishedUntil int64, expires time.Time) {
	w.Header().Set("X-PUBLISHED-UNTIL", strconv.FormatInt(publishedUntil, 10))
	w.Header().Set("Expires", expires.UTC().Format(http.TimeFormat))
}
