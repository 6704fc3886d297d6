package vau

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// innerVersion is the only inner-message version this server accepts.
const innerVersion = "1"

// Message is the decrypted request vau.rs's handle_vau_request pulls
// apart: "{version} {access_token} {request_id} {response_key} {body}",
// space-separated except the body, which may itself contain anything
// (it's the raw inner HTTP request).
type Message struct {
	AccessToken string
	RequestId   string
	ResponseKey []byte
	Body        []byte
}

// DecodeMessage parses a decrypted VAU request payload.
func DecodeMessage(raw []byte) (Message, error) {
	parts := bytes.SplitN(raw, []byte(" "), 5)
	if len(parts) != 5 {
		return Message{}, fmt.Errorf("vau: malformed inner message")
	}
	if string(parts[0]) != innerVersion {
		return Message{}, fmt.Errorf("vau: unsupported inner message version %q", parts[0])
	}

	responseKey, err := hex.DecodeString(string(parts[3]))
	if err != nil {
		return Message{}, fmt.Errorf("vau: decoding response key: %w", err)
	}

	return Message{
		AccessToken: string(parts[1]),
		RequestId:   string(parts[2]),
		ResponseKey: responseKey,
		Body:        parts[4],
	}, nil
}

// Encode reassembles a Message into its wire form, used by this package's
// tests in place of a standalone client tool.
func (m Message) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(innerVersion)
	buf.WriteByte(' ')
	buf.WriteString(m.AccessToken)
	buf.WriteByte(' ')
	buf.WriteString(m.RequestId)
	buf.WriteByte(' ')
	buf.WriteString(hex.EncodeToString(m.ResponseKey))
	buf.WriteByte(' ')
	buf.Write(m.Body)
	return buf.Bytes()
}

// EncodeResponse builds the plaintext that is symmetrically encrypted with
// the client's response key before being sent back through the tunnel: the
// same "{version} {request_id} {body}" framing as the request side, minus
// the fields (access token, response key) the response has no need to
// carry since the client already knows them.
func EncodeResponse(requestId string, httpResponse []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(innerVersion)
	buf.WriteByte(' ')
	buf.WriteString(requestId)
	buf.WriteByte(' ')
	buf.Write(httpResponse)
	return buf.Bytes()
}

// DecodeResponse reverses EncodeResponse, used by clients (and this
// package's own tests) to pull the request id and raw HTTP response back
// apart after decrypting the tunnel response.
func DecodeResponse(raw []byte) (requestId string, httpResponse []byte, err error) {
	parts := bytes.SplitN(raw, []byte(" "), 3)
	if len(parts) != 3 {
		return "", nil, fmt.Errorf("vau: malformed response message")
	}
	if string(parts[0]) != innerVersion {
		return "", nil, fmt.Errorf("vau: unsupported response message version %q", parts[0])
	}
	return string(parts[1]), parts[2], nil
}
