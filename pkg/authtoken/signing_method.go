package authtoken

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/golang-jwt/jwt/v4"
)

// errBP256R1Verification mirrors jwt/v4's own ErrECDSAVerification, kept
// local since jwt/v4 does not export a constructor for third-party curves.
var errBP256R1Verification = errors.New("authtoken: BP256R1 signature verification failed")

// signingMethodBP256R1 verifies the "BP256R1" JWS algorithm the IDP uses:
// ECDSA over Brainpool P-256r1 with SHA-256, signature encoded as the
// concatenation of raw r and s (IEEE P1363), the same framing jwt/v4 uses
// for its built-in NIST ES256/384/512 methods. Only Verify is implemented —
// this server is a relying party, never an issuer of access tokens.
type signingMethodBP256R1 struct{}

func (m *signingMethodBP256R1) Alg() string {
	return "BP256R1"
}

func (m *signingMethodBP256R1) Sign(signingString string, key any) (string, error) {
	return "", jwt.ErrInvalidKeyType
}

func (m *signingMethodBP256R1) Verify(signingString, signature string, key any) error {
	sig, err := jwt.DecodeSegment(signature)
	if err != nil {
		return err
	}

	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return jwt.ErrInvalidKeyType
	}

	keySize := (pub.Curve.Params().BitSize + 7) / 8
	if len(sig) != 2*keySize {
		return errBP256R1Verification
	}

	r := new(big.Int).SetBytes(sig[:keySize])
	s := new(big.Int).SetBytes(sig[keySize:])

	hash := sha256.Sum256([]byte(signingString))
	if ecdsa.Verify(pub, hash[:], r, s) {
		return nil
	}
	return errBP256R1Verification
}

func init() {
	jwt.RegisterSigningMethod("BP256R1", func() jwt.SigningMethod {
		return &signingMethodBP256R1{}
	})
}
