// Package fhircodec is the external-collaborator boundary spec.md §1 names
// as explicitly out of scope: "the FHIR XML/JSON codec is a named external
// collaborator, not part of this server's own logic". This package supplies
// only the JSON half (encoding/json, no third-party JSON library — none of
// the pack's FHIR-adjacent repos pull one in either) and returns
// ErrUnsupportedMediaType for XML, so pkg/api can render 406 Not Acceptable
// without needing to know why.
package fhircodec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
)

// ErrUnsupportedMediaType is returned by Decode when the
// negotiated media type isn't application/fhir+json or application/json.
var ErrUnsupportedMediaType = errors.New("fhircodec: unsupported media type")

// Codec turns FHIR resources into wire bytes and back. pkg/api handlers do
// not go through this interface: they encode and decode with encoding/json
// directly, and pkg/api uses only ErrUnsupportedMediaType from this package.
type Codec interface {
	Encode(w io.Writer, resource any) error
	Decode(r io.Reader, accept string) (any, error)
}

// JSONCodec implements Codec for application/fhir+json only.
type JSONCodec struct{}

// New returns the shipped Codec implementation.
func New() *JSONCodec {
	return &JSONCodec{}
}

// Encode writes resource as FHIR JSON.
func (c *JSONCodec) Encode(w io.Writer, resource any) error {
	if err := json.NewEncoder(w).Encode(resource); err != nil {
		return fmt.Errorf("fhircodec: encoding: %w", err)
	}
	return nil
}

// Decode reads a FHIR resource from r. accept is the request's
// Content-Type (for request bodies) or Accept header (for negotiating a
// response); either way it must resolve to a JSON media type or Decode
// returns ErrUnsupportedMediaType.
func (c *JSONCodec) Decode(r io.Reader, accept string) (any, error) {
	if !acceptsJSON(accept) {
		return nil, ErrUnsupportedMediaType
	}
	var v any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, fmt.Errorf("fhircodec: decoding body: %w", err)
	}
	return v, nil
}

// acceptsJSON reports whether header names (or defaults to, when blank) a
// JSON FHIR media type. A blank header is treated as JSON since that's this
// server's only supported representation.
func acceptsJSON(header string) bool {
	if header == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	switch mt {
	case "application/fhir+json", "application/json", "*/*":
		return true
	default:
		return false
	}
}
