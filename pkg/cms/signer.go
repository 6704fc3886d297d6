package cms

import (
	"crypto"
	"crypto/x509"
	"encoding/json"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"go.mozilla.org/pkcs7"
)

// closingReceipt is the minimal ERX-Bundle the Fachdienst signs at close,
// grounded on original_source/server/src/fhir/definitions/erx_bundle.rs's
// identifier (prescription id) plus the dispense record it wraps.
type closingReceipt struct {
	ResourceType   string         `json:"resourceType"`
	Identifier     fhirIdentifier `json:"identifier"`
	WhenHandedOver string         `json:"whenHandedOver"`
	WhenPrepared   string         `json:"whenPrepared"`
	Performer      string         `json:"performer"`
	Medication     string         `json:"medication"`
}

// Signer produces the server-signed closing receipt at task close, the
// counterpart to signed.rs's Signed::sign_cades but over a JSON payload
// rather than the canonical XML the original signs, since pkg/fhircodec's
// own scope is JSON-only.
type Signer struct {
	cert *x509.Certificate
	key  crypto.Signer
}

// NewSigner builds a Signer using the Fachdienst's own signing certificate
// and private key (C.FD.SIG in gematik's PKI, a Brainpool ECDSA keypair
// like everything else in this stack).
func NewSigner(cert *x509.Certificate, key crypto.Signer) *Signer {
	return &Signer{cert: cert, key: key}
}

// SignReceipt implements pkg/state.ReceiptSigner.
func (s *Signer) SignReceipt(taskId string, dispense types.MedicationDispense) ([]byte, error) {
	receipt := closingReceipt{
		ResourceType: "Bundle",
		Identifier: fhirIdentifier{
			System: prescriptionIdSystem,
			Value:  taskId,
		},
		WhenHandedOver: dispense.WhenHandedOver.Format(time.RFC3339),
		WhenPrepared:   dispense.WhenPrepared.Format(time.RFC3339),
		Performer:      string(dispense.Performer),
		Medication:     dispense.Medication,
	}

	payload, err := json.Marshal(receipt)
	if err != nil {
		return nil, apperr.New(apperr.KindStateCorrupt, err)
	}

	sd, err := pkcs7.NewSignedData(payload)
	if err != nil {
		return nil, apperr.New(apperr.KindStateCorrupt, err)
	}
	if err := sd.AddSigner(s.cert, s.key, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, apperr.New(apperr.KindStateCorrupt, err)
	}

	signed, err := sd.Finish()
	if err != nil {
		return nil, apperr.New(apperr.KindStateCorrupt, err)
	}
	return signed, nil
}
