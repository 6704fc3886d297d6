package api

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gematik/erezept-fachdienst/pkg/vau"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTunnel(t *testing.T, inner http.Handler) (*Tunnel, *vau.PseudonymGenerator) {
	t.Helper()

	priv, err := vau.GenerateKey()
	require.NoError(t, err)

	pseudonyms := vau.NewPseudonymGenerator([]byte("01234567890123456789012345678901"))

	return NewTunnel(priv, []byte("fake-cert-der"), pseudonyms, inner), pseudonyms
}

func encryptEnvelope(t *testing.T, tunnel *Tunnel, accessToken, requestId string, responseKey []byte, innerRequest []byte) []byte {
	t.Helper()

	msg := vau.Message{
		AccessToken: accessToken,
		RequestId:   requestId,
		ResponseKey: responseKey,
		Body:        innerRequest,
	}
	encrypted, err := vau.EncryptRequest(&tunnel.priv.PublicKey, msg.Encode())
	require.NoError(t, err)
	return encrypted
}

func TestTunnelCertificateServesRawDER(t *testing.T) {
	tunnel, _ := newTestTunnel(t, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/VAUCertificate", nil)
	w := httptest.NewRecorder()
	tunnel.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pkcs8", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte("fake-cert-der"), w.Body.Bytes())
}

func TestTunnelCertificateRejectsPost(t *testing.T) {
	tunnel, _ := newTestTunnel(t, http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodPost, "/VAUCertificate", nil)
	w := httptest.NewRecorder()
	tunnel.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestTunnelRoundTripDispatchesInnerRequest(t *testing.T) {
	var gotPath, gotAuth string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	tunnel, pseudonyms := newTestTunnel(t, inner)

	responseKey := make([]byte, 16)
	_, err := rand.Read(responseKey)
	require.NoError(t, err)

	innerHTTP := "GET /Task/123 HTTP/1.1\r\nHost: erp.example\r\nAuthorization: Bearer tok-abc\r\n\r\n"
	envelope := encryptEnvelope(t, tunnel, "tok-abc", "req-1", responseKey, []byte(innerHTTP))

	np, err := pseudonyms.Generate()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/VAU/"+np, strings.NewReader(string(envelope)))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	tunnel.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, np, w.Header().Get("Userpseudonym"))
	assert.Equal(t, "/Task/123", gotPath)
	assert.Equal(t, "Bearer tok-abc", gotAuth)

	plainResponse, err := vau.DecryptResponse(responseKey, w.Body.Bytes())
	require.NoError(t, err)

	requestId, rawHTTPResponse, err := vau.DecodeResponse(plainResponse)
	require.NoError(t, err)
	assert.Equal(t, "req-1", requestId)
	assert.Contains(t, string(rawHTTPResponse), "201")
	assert.Contains(t, string(rawHTTPResponse), `{"ok":true}`)
}

func TestTunnelRegeneratesUnknownPseudonym(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	tunnel, _ := newTestTunnel(t, inner)

	responseKey := make([]byte, 16)
	_, err := rand.Read(responseKey)
	require.NoError(t, err)

	innerHTTP := "GET /Task HTTP/1.1\r\nHost: erp.example\r\nAuthorization: Bearer tok\r\n\r\n"
	envelope := encryptEnvelope(t, tunnel, "tok", "req-2", responseKey, []byte(innerHTTP))

	req := httptest.NewRequest(http.MethodPost, "/VAU/not-a-real-pseudonym", strings.NewReader(string(envelope)))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	tunnel.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "not-a-real-pseudonym", w.Header().Get("Userpseudonym"))
	assert.NotEmpty(t, w.Header().Get("Userpseudonym"))
}

func TestTunnelRejectsAccessTokenMismatch(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not be reached on access token mismatch")
	})
	tunnel, pseudonyms := newTestTunnel(t, inner)

	responseKey := make([]byte, 16)
	_, err := rand.Read(responseKey)
	require.NoError(t, err)

	innerHTTP := "GET /Task HTTP/1.1\r\nHost: erp.example\r\nAuthorization: Bearer different-token\r\n\r\n"
	envelope := encryptEnvelope(t, tunnel, "envelope-token", "req-3", responseKey, []byte(innerHTTP))

	np, err := pseudonyms.Generate()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/VAU/"+np, strings.NewReader(string(envelope)))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	tunnel.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTunnelRejectsWrongContentType(t *testing.T) {
	tunnel, pseudonyms := newTestTunnel(t, http.NotFoundHandler())
	np, err := pseudonyms.Generate()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/VAU/"+np, strings.NewReader("garbage"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	tunnel.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTunnelRejectsMalformedEnvelope(t *testing.T) {
	tunnel, pseudonyms := newTestTunnel(t, http.NotFoundHandler())
	np, err := pseudonyms.Generate()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/VAU/"+np, strings.NewReader("not-a-real-envelope"))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	tunnel.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTunnelGetOnVauPathIsMethodNotAllowed(t *testing.T) {
	tunnel, pseudonyms := newTestTunnel(t, http.NotFoundHandler())
	np, err := pseudonyms.Generate()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/VAU/"+np, nil)
	w := httptest.NewRecorder()
	tunnel.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// sanity check that the response key round-trips through hex the way
// vau.Message's wire format expects, guarding against an accidental
// encoding mismatch between this test file and pkg/vau.
func TestResponseKeyHexRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	_, err := io.ReadFull(rand.Reader, key)
	require.NoError(t, err)

	encoded := hex.EncodeToString(key)
	decoded, err := hex.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}
