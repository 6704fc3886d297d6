package vau

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"math/big"

	"github.com/ebfe/brainpool"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo is the HKDF "info" string binding the derived key to this
// protocol, verbatim from vau_encrypt.rs's set_info(b"ecies-vau-transport").
const hkdfInfo = "ecies-vau-transport"

// requestKeySize is the AES key length the request envelope's HKDF output
// is truncated to (AES-128), matching vau_encrypt.rs's derive(16).
const requestKeySize = 16

// Curve is the curve every VAU keypair and ephemeral ECDH exchange uses:
// Brainpool P-256r1, gematik's standard curve for this protocol.
func Curve() elliptic.Curve {
	return brainpool.P256r1()
}

// GenerateKey creates a fresh Brainpool P-256r1 keypair, for servers
// minting their VAU certificate or for tests building a client request.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(Curve(), rand.Reader)
}

// deriveSharedKey runs ECDH between priv and the peer's (x, y) coordinates
// and HKDF-SHA256-expands the shared X coordinate into an AES key of the
// requested size.
func deriveSharedKey(priv *ecdsa.PrivateKey, x, y []byte, keySize int) ([]byte, error) {
	curve := priv.Curve
	peerX := new(big.Int).SetBytes(x)
	peerY := new(big.Int).SetBytes(y)

	if !curve.IsOnCurve(peerX, peerY) {
		return nil, fmt.Errorf("vau: peer public key point is not on the curve")
	}

	sx, _ := curve.ScalarMult(peerX, peerY, priv.D.Bytes())
	shared := leftPad(sx.Bytes(), (curve.Params().BitSize+7)/8)

	h := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("vau: deriving key: %w", err)
	}
	return key, nil
}

// DecryptRequest decrypts a client's VAU request envelope using the
// server's static private key.
func DecryptRequest(priv *ecdsa.PrivateKey, raw []byte) ([]byte, error) {
	env, err := decodeRequestEnvelope(raw)
	if err != nil {
		return nil, err
	}

	key, err := deriveSharedKey(priv, env.x, env.y, requestKeySize)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vau: building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vau: building GCM: %w", err)
	}

	plain, err := gcm.Open(nil, env.iv, env.ciphertextTag, nil)
	if err != nil {
		return nil, fmt.Errorf("vau: decrypting request: %w", err)
	}
	return plain, nil
}

// EncryptRequest builds a client-side VAU request envelope against the
// server's public key, the counterpart to DecryptRequest — used by this
// package's own tests in place of the original's standalone tool.
func EncryptRequest(pub *ecdsa.PublicKey, plaintext []byte) ([]byte, error) {
	ephemeral, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	key, err := deriveSharedKey(ephemeral, pub.X.Bytes(), pub.Y.Bytes(), requestKeySize)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	ciphertextTag := gcm.Seal(nil, iv, plaintext, nil)

	return encodeRequestEnvelope(ephemeral.X.Bytes(), ephemeral.Y.Bytes(), iv, ciphertextTag), nil
}
