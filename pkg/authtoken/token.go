package authtoken

import (
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/types"
	"github.com/golang-jwt/jwt/v4"
)

// Profession is the access token's professionOID claim value, one of the
// seven gematik profession OIDs (or an unrecognized value).
type Profession string

const (
	ProfessionVersicherter          Profession = "1.2.276.0.76.4.49"
	ProfessionPraxisArzt            Profession = "1.2.276.0.76.4.50"
	ProfessionZahnarztPraxis        Profession = "1.2.276.0.76.4.51"
	ProfessionPraxisPsychotherapeut Profession = "1.2.276.0.76.4.52"
	ProfessionKrankenhaus           Profession = "1.2.276.0.76.4.53"
	ProfessionOeffentlicheApotheke  Profession = "1.2.276.0.76.4.54"
	ProfessionKrankenhausApotheke   Profession = "1.2.276.0.76.4.55"
)

// role maps a professionOID to the Role the lifecycle engine checks
// against. An unrecognized OID has no role.
func (p Profession) role() (types.Role, bool) {
	switch p {
	case ProfessionVersicherter:
		return types.RolePatient, true
	case ProfessionPraxisArzt:
		return types.RoleDoctor, true
	case ProfessionZahnarztPraxis:
		return types.RoleDentist, true
	case ProfessionPraxisPsychotherapeut:
		return types.RolePsychotherapist, true
	case ProfessionKrankenhaus:
		return types.RoleHospital, true
	case ProfessionOeffentlicheApotheke:
		return types.RolePublicPharmacy, true
	case ProfessionKrankenhausApotheke:
		return types.RoleHospitalPharmacy, true
	default:
		return "", false
	}
}

// claims is the access token's JWT payload. exp/nbf are left as raw Unix
// timestamps (matching the IDP's wire format) and checked explicitly in
// Verify against an injectable clock, rather than delegated to
// jwt.Claims.Valid, so tests can supply a fixed "now".
type claims struct {
	Issuer           string `json:"iss"`
	Subject          string `json:"sub"`
	Audience         string `json:"aud"`
	Nonce            string `json:"nonce,omitempty"`
	ExpiresAt        int64  `json:"exp"`
	IssuedAt         int64  `json:"iat"`
	NotBefore        int64  `json:"nbf,omitempty"`
	ProfessionOID    string `json:"professionOID"`
	IdNummer         string `json:"idNummer"`
	GivenName        string `json:"given_name,omitempty"`
	FamilyName       string `json:"family_name,omitempty"`
	OrganizationName string `json:"organizationName,omitempty"`
}

// Valid satisfies jwt.Claims; the real exp/nbf checks happen in Verify
// against an injectable clock, so this is intentionally a no-op.
func (c claims) Valid() error {
	return nil
}

// AccessToken is a verified, decoded access token, ready to answer identity
// and role questions.
type AccessToken struct {
	Subject    string
	Profession Profession
	IdNummer   string
	Name       string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// ParticipantId derives the ParticipantId the token authenticates, per
// access_token.rs's id(): a Versicherter token carries a KVNR, every other
// profession carries a TelematikId.
func (t AccessToken) ParticipantId() types.ParticipantId {
	if t.Profession == ProfessionVersicherter {
		return types.NewPatientParticipant(types.Kvnr(t.IdNummer))
	}
	return types.NewProviderParticipant(types.TelematikId(t.IdNummer))
}

// Role derives the Role the lifecycle engine checks this token against.
func (t AccessToken) Role() (types.Role, error) {
	role, ok := t.Profession.role()
	if !ok {
		return "", apperr.New(apperr.KindWrongRole, nil)
	}
	return role, nil
}

// Kvnr returns the token's KVNR, failing for any non-patient profession.
func (t AccessToken) Kvnr() (types.Kvnr, error) {
	if t.Profession != ProfessionVersicherter {
		return "", apperr.New(apperr.KindWrongRole, nil)
	}
	return types.Kvnr(t.IdNummer), nil
}

// TelematikId returns the token's Telematik-ID, failing for a patient
// profession.
func (t AccessToken) TelematikId() (types.TelematikId, error) {
	if t.Profession == ProfessionVersicherter {
		return "", apperr.New(apperr.KindWrongRole, nil)
	}
	return types.TelematikId(t.IdNummer), nil
}

// Verify parses and signature-checks a JWS access token against key, then
// checks exp/nbf against now. key is whatever the Brainpool/ECDSA signing
// method registered by this package's init accepts — an *ecdsa.PublicKey.
func Verify(token string, key any, now time.Time) (AccessToken, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return AccessToken{}, apperr.New(apperr.KindBadSignature, err)
	}
	if !parsed.Valid {
		return AccessToken{}, apperr.New(apperr.KindBadSignature, nil)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return AccessToken{}, apperr.New(apperr.KindStateCorrupt, nil)
	}

	exp := time.Unix(c.ExpiresAt, 0).UTC()
	iat := time.Unix(c.IssuedAt, 0).UTC()
	nbf := iat
	if c.NotBefore != 0 {
		nbf = time.Unix(c.NotBefore, 0).UTC()
	}

	if now.After(exp) {
		return AccessToken{}, apperr.New(apperr.KindExpired, nil)
	}
	if nbf.After(now) {
		return AccessToken{}, apperr.New(apperr.KindNotYetValid, nil)
	}

	name := joinName(c.GivenName, c.FamilyName, c.OrganizationName)

	return AccessToken{
		Subject:    c.Subject,
		Profession: Profession(c.ProfessionOID),
		IdNummer:   c.IdNummer,
		Name:       name,
		IssuedAt:   iat,
		ExpiresAt:  exp,
	}, nil
}

func joinName(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
