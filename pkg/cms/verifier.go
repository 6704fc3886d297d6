package cms

import (
	"bytes"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/state"
	"github.com/gematik/erezept-fachdienst/pkg/trust"
	"go.mozilla.org/pkcs7"
)

// oidSigningTime is the PKCS#9 signingTime authenticated attribute, the
// same OID openssl's CMS_signed_get0_data_by_OBJ picks up in
// pki_store/mod.rs's verify_cms.
var oidSigningTime = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}

var errNotPEM = errors.New("cms: PEM header present but block did not decode")

// Verifier CMS-verifies prescription bundles signed by a practice/hospital
// information system, checking the signer against the BNetzA-VL. Satisfies
// pkg/state.BundleVerifier.
type Verifier struct {
	bnetza *trust.Store
}

// NewVerifier builds a Verifier checking signers against bnetza's
// BNetzA-VL list. bnetza must never also be used for the TSL list here —
// spec.md §9 forbids cross-using the two lists.
func NewVerifier(bnetza *trust.Store) *Verifier {
	return &Verifier{bnetza: bnetza}
}

// VerifyBundle implements pkg/state.BundleVerifier.
func (v *Verifier) VerifyBundle(signed []byte) (state.VerifiedBundle, error) {
	p7, err := parseContainer(signed)
	if err != nil {
		return state.VerifiedBundle{}, apperr.New(apperr.KindSignatureRejected, err)
	}

	if err := p7.Verify(); err != nil {
		return state.VerifiedBundle{}, apperr.New(apperr.KindSignatureRejected, err)
	}

	signer := p7.GetOnlySigner()
	if signer == nil {
		return state.VerifiedBundle{}, apperr.New(apperr.KindSignatureRejected, nil)
	}

	var signingTime time.Time
	if err := p7.UnmarshalSignedAttribute(oidSigningTime, &signingTime); err != nil {
		return state.VerifiedBundle{}, apperr.New(apperr.KindSignatureRejected, err)
	}

	if err := v.bnetza.VerifyCert(signer, trust.ListBNetzA, signingTime.UTC()); err != nil {
		return state.VerifiedBundle{}, err
	}

	decoded, err := decodeKBVBundle(p7.Content)
	if err != nil {
		return state.VerifiedBundle{}, apperr.New(apperr.KindPayloadMismatch, err)
	}

	return state.VerifiedBundle{
		Kvnr:           decoded.kvnr,
		FlowType:       decoded.flowType,
		PrescriptionId: decoded.prescriptionId,
		ExpiryDate:     decoded.expiryDate,
		AcceptDate:     decoded.acceptDate,
		PatientReceipt: p7.Content,
		SigningTime:    signingTime.UTC(),
	}, nil
}

// parseContainer accepts either a PEM-wrapped or a base64/raw DER CMS
// container, mirroring verify_cms's "starts_with PEM header" branch.
func parseContainer(raw []byte) (*pkcs7.PKCS7, error) {
	trimmed := bytes.TrimSpace(raw)

	if bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		block, _ := pem.Decode(trimmed)
		if block == nil {
			return nil, errNotPEM
		}
		return pkcs7.Parse(block.Bytes)
	}

	if der, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil {
		if p7, err := pkcs7.Parse(der); err == nil {
			return p7, nil
		}
	}

	return pkcs7.Parse(trimmed)
}
