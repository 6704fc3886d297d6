package vau

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// EncryptResponse symmetrically encrypts the inner HTTP response with the
// response key the client chose and sent inside its decrypted request —
// no ECDH here, the key is already shared. Wire format: IV(12) |
// ciphertext | tag(16), the response-side counterpart of the request
// envelope without the ephemeral public key prefix.
func EncryptResponse(responseKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(responseKey)
	if err != nil {
		return nil, fmt.Errorf("vau: response key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vau: building GCM: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("vau: generating IV: %w", err)
	}

	ciphertextTag := gcm.Seal(nil, iv, plaintext, nil)
	return append(iv, ciphertextTag...), nil
}

// DecryptResponse reverses EncryptResponse — used by clients, and by this
// package's own tests to check round-tripping.
func DecryptResponse(responseKey, raw []byte) ([]byte, error) {
	if len(raw) < ivSize+tagSize {
		return nil, fmt.Errorf("vau: response envelope too short (%d bytes)", len(raw))
	}

	block, err := aes.NewCipher(responseKey)
	if err != nil {
		return nil, fmt.Errorf("vau: response key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vau: building GCM: %w", err)
	}

	iv := raw[:ivSize]
	ciphertextTag := raw[ivSize:]

	plain, err := gcm.Open(nil, iv, ciphertextTag, nil)
	if err != nil {
		return nil, fmt.Errorf("vau: decrypting response: %w", err)
	}
	return plain, nil
}
