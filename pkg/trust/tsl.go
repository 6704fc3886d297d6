package trust

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
)

// serviceStatusGranted is the only ServiceStatus value that marks a listed
// certificate as currently trusted; anything else (withdrawn, revoked,
// recognisedatnationallevel, etc.) is skipped at extraction time.
const serviceStatusGranted = "http://uri.etsi.org/TrstSvc/Svcstatus/granted"

// trustServiceStatusList mirrors the handful of TSL/BNetzA-VL elements this
// server actually reads; field names follow the schema's own naming.
type trustServiceStatusList struct {
	XMLName      xml.Name               `xml:"TrustServiceStatusList"`
	ProviderList trustServiceProviderList `xml:"TrustServiceProviderList"`
}

type trustServiceProviderList struct {
	Provider []trustServiceProvider `xml:"TrustServiceProvider"`
}

type trustServiceProvider struct {
	Services tspServices `xml:"TSPServices"`
}

type tspServices struct {
	Service []tspService `xml:"TSPService"`
}

type tspService struct {
	Info serviceInformation `xml:"ServiceInformation"`
}

type serviceInformation struct {
	TypeIdentifier string                 `xml:"ServiceTypeIdentifier"`
	Status         string                 `xml:"ServiceStatus"`
	StartingTime   string                 `xml:"StatusStartingTime"`
	Identity       serviceDigitalIdentity `xml:"ServiceDigitalIdentity"`
}

type serviceDigitalIdentity struct {
	Id []digitalId `xml:"DigitalId"`
}

type digitalId struct {
	Cert string `xml:"X509Certificate"`
}

// Entry is one certificate extracted from a trust list, keyed by the
// subject key its verifier looks certificates up by.
type Entry struct {
	Cert           *x509.Certificate
	ServiceTypeOID string
}

// Document is a parsed, ready-to-query trust list: every currently-granted
// certificate, indexed by subject distinguished name — the identity a
// leaf's issuer name is matched against during verify_cert's issued()
// check.
type Document struct {
	bySubjectKey map[string][]Entry
}

// subjectKey is the index key a Document groups certificates under.
func subjectKey(cert *x509.Certificate) string {
	return cert.Subject.String()
}

// Parse decodes a TSL or BNetzA-VL XML document into a queryable Document,
// keeping only services in the "granted" status.
func Parse(raw []byte) (*Document, error) {
	var tsl trustServiceStatusList
	if err := xml.Unmarshal(raw, &tsl); err != nil {
		return nil, fmt.Errorf("trust: decoding trust list: %w", err)
	}

	doc := &Document{bySubjectKey: make(map[string][]Entry)}

	for _, provider := range tsl.ProviderList.Provider {
		for _, svc := range provider.Services.Service {
			info := svc.Info
			if info.Status != serviceStatusGranted {
				continue
			}

			for _, id := range info.Identity.Id {
				raw := strings.TrimSpace(id.Cert)
				if raw == "" {
					continue
				}

				der, err := base64.StdEncoding.DecodeString(raw)
				if err != nil {
					continue
				}
				cert, err := x509.ParseCertificate(der)
				if err != nil {
					continue
				}

				key := subjectKey(cert)
				doc.bySubjectKey[key] = append(doc.bySubjectKey[key], Entry{
					Cert:           cert,
					ServiceTypeOID: info.TypeIdentifier,
				})
			}
		}
	}

	return doc, nil
}

// Lookup returns every currently-granted entry for a certificate's subject
// key, or nil if the document carries none.
func (d *Document) Lookup(cert *x509.Certificate) []Entry {
	if d == nil {
		return nil
	}
	return d.bySubjectKey[subjectKey(cert)]
}

// Contains reports whether a certificate (by subject key) appears anywhere
// in the document, independent of service type.
func (d *Document) Contains(cert *x509.Certificate) bool {
	return len(d.Lookup(cert)) > 0
}

// issuerKey is the index key a leaf certificate's issuer is looked up
// under: the leaf's issuer distinguished name, the mirror of subjectKey on
// the CA side.
func issuerKey(cert *x509.Certificate) string {
	return cert.Issuer.String()
}

// FindIssuer returns every currently-granted CA entry whose subject name
// matches cert's issuer name. The caller still has to verify the signature
// (and, where both certificates carry key ids, that they agree) — this
// only narrows the candidate set by name, the "issued() equality" spec.md
// §4.A calls for before the signature check.
func (d *Document) FindIssuer(cert *x509.Certificate) []Entry {
	if d == nil {
		return nil
	}
	return d.bySubjectKey[issuerKey(cert)]
}

// Size reports the number of distinct subject keys held, for health/metrics
// reporting.
func (d *Document) Size() int {
	if d == nil {
		return 0
	}
	return len(d.bySubjectKey)
}
