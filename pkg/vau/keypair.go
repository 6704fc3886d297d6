package vau

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadKeyPair reads the server's VAU certificate and private key from PEM
// files on disk, the Go counterpart of vau_encrypt.rs's X509::from_pem /
// PKey::private_key_from_pem. The certificate is returned still DER-encoded
// since GET /VAUCertificate serves it verbatim; the key is parsed since the
// server actually uses it to decrypt request envelopes.
func LoadKeyPair(certPath, keyPath string) (certDER []byte, priv *ecdsa.PrivateKey, err error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("vau: reading certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("vau: no PEM block found in %s", certPath)
	}
	certDER = block.Bytes

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("vau: reading private key: %w", err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("vau: no PEM block found in %s", keyPath)
	}

	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("vau: parsing private key: %w", err)
	}
	return certDER, key, nil
}
