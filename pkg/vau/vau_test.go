package vau

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestEnvelopeRoundTrip(t *testing.T) {
	server, err := GenerateKey()
	require.NoError(t, err)

	plaintext := []byte("1 abc.def 42 00112233445566778899aabbccddeeff GET /Task/123 HTTP/1.1")

	envelope, err := EncryptRequest(&server.PublicKey, plaintext)
	require.NoError(t, err)

	decrypted, err := DecryptRequest(server, envelope)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestRequestEnvelopeRejectsWrongKey(t *testing.T) {
	server, err := GenerateKey()
	require.NoError(t, err)
	other, err := GenerateKey()
	require.NoError(t, err)

	envelope, err := EncryptRequest(&server.PublicKey, []byte("hello"))
	require.NoError(t, err)

	_, err = DecryptRequest(other, envelope)
	assert.Error(t, err)
}

func TestRequestEnvelopeRejectsTruncation(t *testing.T) {
	server, err := GenerateKey()
	require.NoError(t, err)

	envelope, err := EncryptRequest(&server.PublicKey, []byte("hello"))
	require.NoError(t, err)

	_, err = DecryptRequest(server, envelope[:10])
	assert.Error(t, err)
}

func TestResponseEnvelopeRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}

	plaintext := []byte("HTTP/1.1 200 OK\r\n\r\n{}")
	envelope, err := EncryptResponse(key, plaintext)
	require.NoError(t, err)

	decrypted, err := DecryptResponse(key, envelope)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestMessageRoundTrip(t *testing.T) {
	m := Message{
		AccessToken: "token-value",
		RequestId:   "req-1",
		ResponseKey: []byte{0x01, 0x02, 0x03, 0x04},
		Body:        []byte("GET /Task HTTP/1.1\r\n\r\n"),
	}

	decoded, err := DecodeMessage(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m.AccessToken, decoded.AccessToken)
	assert.Equal(t, m.RequestId, decoded.RequestId)
	assert.Equal(t, m.ResponseKey, decoded.ResponseKey)
	assert.Equal(t, m.Body, decoded.Body)
}

func TestDecodeMessageRejectsBadVersion(t *testing.T) {
	_, err := DecodeMessage([]byte("2 tok req 0011 body"))
	assert.Error(t, err)
}

func TestPseudonymGenerateAndVerify(t *testing.T) {
	g := NewPseudonymGenerator([]byte("a stable 32+ byte server secret!"))

	np, err := g.Generate()
	require.NoError(t, err)
	assert.True(t, g.Verify(np))
}

func TestPseudonymRejectsForgedToken(t *testing.T) {
	g := NewPseudonymGenerator([]byte("server secret"))
	other := NewPseudonymGenerator([]byte("different secret"))

	np, err := other.Generate()
	require.NoError(t, err)
	assert.False(t, g.Verify(np))
}

func TestPseudonymRejectsMalformedToken(t *testing.T) {
	g := NewPseudonymGenerator([]byte("server secret"))
	assert.False(t, g.Verify("not-a-pseudonym"))
}
