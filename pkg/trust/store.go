package trust

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/log"
)

// defaultRefreshInterval matches the teacher's cached-cert TTL order of
// magnitude; gematik's own TSL update cadence is measured in hours, not
// minutes.
const defaultRefreshInterval = 1 * time.Hour

// Fetcher retrieves the raw bytes of a trust list. Satisfied by *http.Client
// via NewHTTPFetcher; tests substitute an in-memory fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// httpFetcher is the production Fetcher.
type httpFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a Fetcher backed by an *http.Client with the given
// timeout.
func NewHTTPFetcher(timeout time.Duration) Fetcher {
	return httpFetcher{client: &http.Client{Timeout: timeout}}
}

func (f httpFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trust: fetching %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Store holds the two trust lists behind lock-free atomic pointers, swapped
// wholesale on each successful refresh, and refreshes them on a background
// ticker. Read paths (VerifyCert) never block on the refresh loop.
type Store struct {
	fetcher   Fetcher
	tslURL    string
	bnetzaURL string
	interval  time.Duration

	tsl    atomic.Pointer[Document]
	bnetza atomic.Pointer[Document]

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewStore builds a Store that will fetch from the given URLs. Call Start
// to begin the background refresh loop; the store holds no data until the
// first successful refresh (or a call to LoadNow).
func NewStore(fetcher Fetcher, tslURL, bnetzaURL string) *Store {
	return &Store{
		fetcher:   fetcher,
		tslURL:    tslURL,
		bnetzaURL: bnetzaURL,
		interval:  defaultRefreshInterval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// TSL returns the current TSL document, or nil if none has loaded yet.
func (s *Store) TSL() *Document {
	return s.tsl.Load()
}

// BNetzA returns the current BNetzA-VL document, or nil if none has loaded
// yet.
func (s *Store) BNetzA() *Document {
	return s.bnetza.Load()
}

// LoadNow performs one synchronous refresh of both lists, returning the
// first error encountered. Used at startup so the server does not begin
// serving before either list has loaded at least once.
func (s *Store) LoadNow(ctx context.Context) error {
	if err := s.refreshTSL(ctx); err != nil {
		return err
	}
	return s.refreshBNetzA(ctx)
}

func (s *Store) refreshTSL(ctx context.Context) error {
	raw, err := s.fetcher.Fetch(ctx, s.tslURL)
	if err != nil {
		return fmt.Errorf("trust: fetching TSL: %w", err)
	}
	doc, err := Parse(raw)
	if err != nil {
		return err
	}
	s.tsl.Store(doc)
	return nil
}

func (s *Store) refreshBNetzA(ctx context.Context) error {
	raw, err := s.fetcher.Fetch(ctx, s.bnetzaURL)
	if err != nil {
		return fmt.Errorf("trust: fetching BNetzA-VL: %w", err)
	}
	doc, err := Parse(raw)
	if err != nil {
		return err
	}
	s.bnetza.Store(doc)
	return nil
}

// Start runs the periodic refresh loop in a background goroutine.
func (s *Store) Start() {
	go s.run()
}

// Stop signals the refresh loop to exit and waits for it to do so.
func (s *Store) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Store) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.refreshTSL(ctx); err != nil {
				log.Errorf("trust: TSL refresh failed: %w", err)
			}
			if err := s.refreshBNetzA(ctx); err != nil {
				log.Errorf("trust: BNetzA-VL refresh failed: %w", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// List selects which of the two trust lists a verification should run
// against.
type List int

const (
	ListTSL List = iota
	ListBNetzA
)

// ResolveIssuer walks from cert to an issuer entry in the named list,
// requiring issued() equality (issuer/subject name match, plus matching
// authority/subject key ids when both certificates carry them) plus
// signature verification by the issuer's public key. VerifyCert layers the time
// window on top of this; callers that only need the issuer itself — the
// OCSP cache building a request needs the direct issuer, not a verdict —
// call this directly.
func (s *Store) ResolveIssuer(cert *x509.Certificate, list List) (*x509.Certificate, error) {
	var doc *Document
	switch list {
	case ListTSL:
		doc = s.TSL()
	case ListBNetzA:
		doc = s.BNetzA()
	default:
		return nil, apperr.Newf(apperr.KindStateCorrupt, "trust: unknown list %d", list)
	}

	if doc == nil {
		return nil, apperr.New(apperr.KindUpstream, fmt.Errorf("trust: list not yet loaded"))
	}

	for _, candidate := range doc.FindIssuer(cert) {
		if len(cert.AuthorityKeyId) > 0 && len(candidate.Cert.SubjectKeyId) > 0 &&
			!bytes.Equal(cert.AuthorityKeyId, candidate.Cert.SubjectKeyId) {
			continue
		}
		if err := cert.CheckSignatureFrom(candidate.Cert); err == nil {
			return candidate.Cert, nil
		}
	}
	return nil, apperr.New(apperr.KindUnknownIssuer, nil)
}

// VerifyCert resolves cert's issuer in the named list (see ResolveIssuer)
// and checks notBefore <= at <= notAfter for both cert and the matched
// issuer. Per spec.md §9 TSL and BNetzA-VL are never cross-used; callers
// must pass the correct List for their context (participant certificates
// against ListTSL, CMS-signer certificates against ListBNetzA).
func (s *Store) VerifyCert(cert *x509.Certificate, list List, at time.Time) error {
	issuer, err := s.ResolveIssuer(cert, list)
	if err != nil {
		return err
	}

	for _, c := range []*x509.Certificate{cert, issuer} {
		if at.Before(c.NotBefore) {
			return apperr.New(apperr.KindNotValidYet, nil)
		}
		if at.After(c.NotAfter) {
			return apperr.New(apperr.KindNotValidAnymore, nil)
		}
	}
	return nil
}
