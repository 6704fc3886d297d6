package ocspcache

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"golang.org/x/crypto/ocsp"
)

// cacheTTL is how long a fetched OCSP response is trusted, measured from the
// fetch itself rather than the responder's own NextUpdate field — spec.md
// §4.B fixes this at 6h regardless of what any individual responder claims.
const cacheTTL = 6 * time.Hour

// nonceLen is the size of the nonce this cache adds to every OCSP request,
// per RFC 8954's recommended range.
const nonceLen = 16

// idOCSPNonce is the OCSP nonce extension OID (RFC 8954 §2.1).
var idOCSPNonce = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 2}

// entry is one cached OCSP answer for a certificate serial, along with the
// cert/issuer pair needed to renew it without the caller supplying them
// again.
type entry struct {
	cert      *x509.Certificate
	issuer    *x509.Certificate
	status    int
	raw       []byte
	fetchedAt time.Time
	validTo   time.Time
}

// Cache holds one OCSP response per certificate, keyed by serial number,
// refreshed lazily on read and proactively by Renewer.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	client *http.Client
}

// NewCache builds an empty Cache using an *http.Client with the given
// timeout for OCSP responder requests.
func NewCache(timeout time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		client:  &http.Client{Timeout: timeout},
	}
}

func serialKey(cert *x509.Certificate) string {
	return cert.SerialNumber.String()
}

// Check returns the cached revocation status for cert, fetching and caching
// it first if no entry exists yet or the cached entry has passed its 6h
// deadline. issuer must be cert's direct issuer, needed both to build the
// OCSP request and to verify the response signature.
func (c *Cache) Check(cert, issuer *x509.Certificate) (int, error) {
	key := serialKey(cert)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Now().Before(e.validTo) {
		return e.status, nil
	}

	return c.refresh(cert, issuer)
}

func (c *Cache) refresh(cert, issuer *x509.Certificate) (int, error) {
	if len(cert.OCSPServer) == 0 {
		return 0, apperr.New(apperr.KindUpstream, fmt.Errorf("ocspcache: certificate %s carries no OCSP responder", cert.Subject))
	}

	reqBytes, err := nonceRequest(cert, issuer)
	if err != nil {
		return 0, apperr.New(apperr.KindUpstream, fmt.Errorf("ocspcache: building OCSP request: %w", err))
	}

	httpReq, err := http.NewRequest(http.MethodPost, cert.OCSPServer[0], bytes.NewReader(reqBytes))
	if err != nil {
		return 0, apperr.New(apperr.KindUpstream, err)
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, apperr.New(apperr.KindUpstream, fmt.Errorf("ocspcache: OCSP request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, apperr.New(apperr.KindUpstream, err)
	}

	parsed, err := ocsp.ParseResponseForCert(raw, cert, issuer)
	if err != nil {
		return 0, apperr.New(apperr.KindUpstream, fmt.Errorf("ocspcache: parsing OCSP response: %w", err))
	}

	fetchedAt := time.Now()

	c.mu.Lock()
	c.entries[serialKey(cert)] = entry{
		cert:      cert,
		issuer:    issuer,
		status:    parsed.Status,
		raw:       raw,
		fetchedAt: fetchedAt,
		validTo:   fetchedAt.Add(cacheTTL),
	}
	c.mu.Unlock()

	return parsed.Status, nil
}

// nonceRequest builds a DER-encoded OCSP request for cert against issuer,
// carrying a fresh cryptographic nonce extension (RFC 8954) so a replayed
// stale response can't be passed off as current. ocsp.CreateRequest has no
// nonce support, so this reuses its issuer name/key hashing and grafts the
// extension on afterward.
func nonceRequest(cert, issuer *x509.Certificate) ([]byte, error) {
	base, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return nil, err
	}

	var plain struct {
		TBSRequest struct {
			RequestList []asn1.RawValue
		}
	}
	if _, err := asn1.Unmarshal(base, &plain); err != nil {
		return nil, fmt.Errorf("ocspcache: decoding base OCSP request: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("ocspcache: generating nonce: %w", err)
	}
	nonceValue, err := asn1.Marshal(nonce)
	if err != nil {
		return nil, err
	}

	var withExt struct {
		TBSRequest struct {
			RequestList       []asn1.RawValue
			RequestExtensions []pkix.Extension `asn1:"explicit,tag:2"`
		}
	}
	withExt.TBSRequest.RequestList = plain.TBSRequest.RequestList
	withExt.TBSRequest.RequestExtensions = []pkix.Extension{{Id: idOCSPNonce, Value: nonceValue}}

	return asn1.Marshal(withExt)
}

// Revoked is a convenience wrapper over Check for the common case.
func (c *Cache) Revoked(cert, issuer *x509.Certificate) (bool, error) {
	status, err := c.Check(cert, issuer)
	if err != nil {
		return false, err
	}
	return status == ocsp.Revoked, nil
}

// Size reports the number of cached entries, for health/metrics reporting.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Responses returns the base64-encoded DER bytes of every currently cached
// OCSP response, the form spec.md §4.B's handshake status list is served
// in. Order is unspecified.
func (c *Cache) Responses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		if len(e.raw) == 0 {
			continue
		}
		out = append(out, base64.StdEncoding.EncodeToString(e.raw))
	}
	return out
}
