package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/exposure-systems/gaen-backend/internal/errs"
	"github.com/exposure-systems/gaen-backend/internal/model"
)

// addExposed handles the day-1 submission.
func (s *Server) addExposed(w http.ResponseWriter, r *http.Request) {
	var req model.GaenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondText(w, http.StatusBadRequest, "malformed request body")
		return
	}

	token, err := s.svc.AddExposed(r.Context(), req, r.Header.Get("User-Agent"), ClaimsFromCtx(r.Context()))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if token != "" {
		// issued under both names, older clients read X-Exposed-Token
		w.Header().Set("Authorization", "Bearer "+token)
		w.Header().Set("X-Exposed-Token", "Bearer "+token)
	}
	respondText(w, http.StatusOK, "OK")
}

// addExposedSecond handles the day-2 finalization.
func (s *Server) addExposedSecond(w http.ResponseWriter, r *http.Request) {
	var req model.GaenSecondDay
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondText(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := s.svc.AddExposedSecond(r.Context(), req, r.Header.Get("User-Agent"), ClaimsFromCtx(r.Context())); err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondText(w, http.StatusOK, "OK")
}

// getExposed serves the signed binary batch for a key date.
func (s *Server) getExposed(w http.ResponseWriter, r *http.Request) {
	keyDate, publishedAfter, ok := publicationParams(w, r)
	if !ok {
		return
	}

	batch, err := s.svc.GetExposed(r.Context(), keyDate, publishedAfter)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	setBatchHeaders(w, batch.PublishedUntil, batch.Expires)
	if len(batch.Zip) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(batch.Zip)
}

// getExposedJSON serves the plain JSON batch for a key date.
func (s *Server) getExposedJSON(w http.ResponseWriter, r *http.Request) {
	keyDate, publishedAfter, ok := publicationParams(w, r)
	if !ok {
		return
	}

	batch, err := s.svc.GetExposedJSON(r.Context(), keyDate, publishedAfter)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	setBatchHeaders(w, batch.PublishedUntil, batch.Expires)
	if len(batch.Keys) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, model.ExposedJSON{GaenKeys: batch.Keys})
}

// getBuckets serves the bucket index of a calendar day.
func (s *Server) getBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.svc.GetBuckets(chi.URLParam(r, "dayDateStr"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, buckets)
}

// publicationParams parses the keyDate path segment and the optional
// publishedafter query parameter. Parse failures are answered directly.
func publicationParams(w http.ResponseWriter, r *http.Request) (int64, *int64, bool) {
	keyDate, err := strconv.ParseInt(chi.URLParam(r, "keyDate"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return 0, nil, false
	}
	var publishedAfter *int64
	if raw := r.URL.Query().Get("publishedafter"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return 0, nil, false
		}
		publishedAfter = &v
	}
	return keyDate, publishedAfter, true
}

// respondServiceError maps pipeline sentinels onto HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrProtocolViolation):
		respondText(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		respondText(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	default:
		s.log.Error("internal error", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}
