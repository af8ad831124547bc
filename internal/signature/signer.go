// Package signature renders publication batches into the signed archive
// served by the binary endpoint.
package signature

import (
	"archive/zip"
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/exposure-systems/gaen-backend/internal/model"
)

const (
	payloadName   = "export.json"
	signatureName = "export.sig"
)

// ZipSigner signs batches with ECDSA P-256 and packs payload and signature
// into a zip archive.
type ZipSigner struct {
	key *ecdsa.PrivateKey
}

// NewZipSigner constructs a signer around the given private key.
func NewZipSigner(key *ecdsa.PrivateKey) *ZipSigner { return &ZipSigner{key: key} }

// Sign serializes the batch and returns a zip containing the payload and an
// ASN.1 ECDSA signature over its SHA-256 digest.
func (s *ZipSigner) Sign(keys []model.GaenKey) ([]byte, error) {
	payload, err := json.Marshal(model.ExposedJSON{GaenKeys: keys})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}
	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign batch: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(payloadName)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(payload); err != nil {
		return nil, err
	}
	if w, err = zw.Create(signatureName); err != nil {
		return nil, err
	}
	if _, err = w.Write(sig); err != nil {
		return nil, err
	}
	if err = zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GenerateKey creates a fresh P-256 signing key, used when no key material
// is configured (development only).
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ParsePrivateKeyPEM reads an EC or PKCS#8 encoded ECDSA private key.
func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in signing key")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("signing key is not an ECDSA key")
	}
	return key, nil
}
