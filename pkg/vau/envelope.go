package vau

import "fmt"

// requestVersion is the only envelope version this server accepts, per
// vau_encrypt.rs's leading 0x01 byte.
const requestVersion = 0x01

const (
	coordSize = 32
	ivSize    = 12
	tagSize   = 16
)

// requestEnvelope is the decoded wire format of an encrypted VAU request:
// version | X(32) | Y(32) | IV(12) | ciphertext | tag(16), with ciphertext
// and tag kept concatenated since that's how crypto/cipher.GCM produces
// and consumes them.
type requestEnvelope struct {
	x, y          []byte
	iv            []byte
	ciphertextTag []byte
}

func decodeRequestEnvelope(raw []byte) (requestEnvelope, error) {
	minLen := 1 + coordSize + coordSize + ivSize + tagSize
	if len(raw) < minLen {
		return requestEnvelope{}, fmt.Errorf("vau: request envelope too short (%d bytes)", len(raw))
	}
	if raw[0] != requestVersion {
		return requestEnvelope{}, fmt.Errorf("vau: unsupported envelope version %#x", raw[0])
	}

	offset := 1
	x := raw[offset : offset+coordSize]
	offset += coordSize
	y := raw[offset : offset+coordSize]
	offset += coordSize
	iv := raw[offset : offset+ivSize]
	offset += ivSize
	ciphertextTag := raw[offset:]

	return requestEnvelope{x: x, y: y, iv: iv, ciphertextTag: ciphertextTag}, nil
}

func encodeRequestEnvelope(x, y, iv, ciphertextTag []byte) []byte {
	out := make([]byte, 0, 1+coordSize+coordSize+len(iv)+len(ciphertextTag))
	out = append(out, requestVersion)
	out = append(out, leftPad(x, coordSize)...)
	out = append(out, leftPad(y, coordSize)...)
	out = append(out, iv...)
	out = append(out, ciphertextTag...)
	return out
}

// leftPad zero-pads b on the left to size, matching vau_encrypt.rs's pad()
// for EC coordinates shorter than the curve's field size.
func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}
