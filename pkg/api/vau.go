package api

import (
	"bufio"
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/vau"
)

// Tunnel is the outer VAU transport. It terminates the ECIES-encrypted
// envelope a client POSTs to /VAU/{pseudonym}, dispatches the decrypted
// inner HTTP request to the FHIR router, and symmetrically encrypts the
// inner response back to the client with the response key the client chose.
//
// Grounded on original_source/server/src/service/middleware/vau.rs's
// handle_request (path dispatch), handle_vau_request (decrypt, decode,
// cross-check, dispatch, encode, encrypt) and handle_vau_cert_request.
type Tunnel struct {
	priv       *ecdsa.PrivateKey
	certDER    []byte
	pseudonyms *vau.PseudonymGenerator
	inner      http.Handler
}

// NewTunnel builds a Tunnel serving the given inner handler (the chi
// Router from router.go) behind the VAU envelope.
func NewTunnel(priv *ecdsa.PrivateKey, certDER []byte, pseudonyms *vau.PseudonymGenerator, inner http.Handler) *Tunnel {
	return &Tunnel{priv: priv, certDER: certDER, pseudonyms: pseudonyms, inner: inner}
}

// Handler builds the outer mux spec.md §6 describes: /VAUCertificate and
// /VAU/{pseudonym} are special-cased ahead of the FHIR router, which is
// never reached except through a decrypted tunnel request.
func (t *Tunnel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/VAUCertificate", t.handleCertificate)
	mux.HandleFunc("/VAU/", t.handleTunnel)
	return mux
}

// handleCertificate serves the server's encryption certificate so a client
// can encrypt its first envelope. Per spec.md §6 this bypasses the tunnel
// entirely — there's nothing to decrypt yet.
func (t *Tunnel) handleCertificate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/pkcs8")
	_, _ = w.Write(t.certDER)
}

// handleTunnel implements vau.rs's handle_vau_request: verify-or-mint the
// caller's pseudonym, decrypt the envelope, decode the inner message,
// cross-check the inner request's own Authorization header against the
// access token the client bound into the envelope, dispatch to the FHIR
// router, then encrypt the response back with the client's response key.
func (t *Tunnel) handleTunnel(w http.ResponseWriter, r *http.Request) {
	np := strings.TrimPrefix(r.URL.Path, "/VAU/")
	if np == "" || strings.Contains(np, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !t.pseudonyms.Verify(np) {
		fresh, err := t.pseudonyms.Generate()
		if err != nil {
			writeError(w, apperr.New(apperr.KindStateCorrupt, err))
			return
		}
		np = fresh
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/octet-stream" {
		writeError(w, apperr.New(apperr.KindBadFrame, fmt.Errorf("unsupported content type %q", ct)))
		return
	}

	envelope, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.New(apperr.KindBadFrame, err))
		return
	}

	plain, err := vau.DecryptRequest(t.priv, envelope)
	if err != nil {
		writeError(w, apperr.New(apperr.KindBadFrame, err))
		return
	}

	msg, err := vau.DecodeMessage(plain)
	if err != nil {
		writeError(w, apperr.New(apperr.KindBadFrame, err))
		return
	}

	innerReq, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(msg.Body)))
	if err != nil {
		writeError(w, apperr.New(apperr.KindBadFrame, err))
		return
	}
	innerReq = innerReq.WithContext(r.Context())

	token := strings.TrimPrefix(innerReq.Header.Get("Authorization"), "Bearer ")
	if token != msg.AccessToken {
		writeError(w, apperr.New(apperr.KindTokenMismatch, nil))
		return
	}

	rec := httptest.NewRecorder()
	t.inner.ServeHTTP(rec, innerReq)
	innerRes := rec.Result()

	var buf bytes.Buffer
	if err := innerRes.Write(&buf); err != nil {
		writeError(w, apperr.New(apperr.KindStateCorrupt, err))
		return
	}

	plainResponse := vau.EncodeResponse(msg.RequestId, buf.Bytes())
	encrypted, err := vau.EncryptResponse(msg.ResponseKey, plainResponse)
	if err != nil {
		writeError(w, apperr.New(apperr.KindStateCorrupt, err))
		return
	}

	w.Header().Set("Userpseudonym", np)
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(encrypted)
}
