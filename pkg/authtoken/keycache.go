package authtoken

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/gematik/erezept-fachdienst/pkg/log"
	"github.com/gematik/erezept-fachdienst/pkg/trust"
)

// defaultKeyRefreshInterval is how often the cached IDP signing key is
// re-fetched, generous relative to how rarely the IDP rotates it.
const defaultKeyRefreshInterval = 15 * time.Minute

// KeyCache holds the IDP's current access-token signing key, fetched by an
// explicit Refresh call and re-fetched on the background ticker Start runs —
// one cached key, not a map
// of many, since the Fachdienst trusts exactly one IDP per environment.
// Grounded on cuemby-warren/pkg/manager/token.go's TokenManager shape
// (map+mutex+expiry for many join tokens), narrowed here to a single slot.
type KeyCache struct {
	mu   sync.RWMutex
	key  *ecdsa.PublicKey
	cert *x509.Certificate

	url      string
	client   *http.Client
	interval time.Duration
	trust    *trust.Store

	// OnRotate, if set, is called with the newly cached certificate every
	// time Refresh replaces it — including the first Refresh at startup.
	// Lets a caller re-run an OCSP check against whichever certificate is
	// currently in use without KeyCache importing ocspcache itself.
	OnRotate func(cert *x509.Certificate)

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewKeyCache builds a KeyCache that fetches the IDP's signing certificate
// (PEM-encoded) from url. Every refresh validates the certificate against
// trustStore's TSL — the identity list, per spec.md §9's split between TSL
// (identity) and BNetzA-VL (prescription signatures) — before caching its
// key.
func NewKeyCache(url string, timeout time.Duration, trustStore *trust.Store) *KeyCache {
	return &KeyCache{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		interval: defaultKeyRefreshInterval,
		trust:    trustStore,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// NewKeyCacheWithKey builds a KeyCache already populated with key, skipping
// the network fetch. Used by tests and by any caller that obtains the IDP's
// signing key some other way than Refresh's HTTP round trip.
func NewKeyCacheWithKey(key *ecdsa.PublicKey) *KeyCache {
	return &KeyCache{
		key:    key,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Key returns the currently cached signing key, or an error if none has
// loaded yet.
func (c *KeyCache) Key() (*ecdsa.PublicKey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.key == nil {
		return nil, apperr.New(apperr.KindKeyUnavailable, nil)
	}
	return c.key, nil
}

// Keyfunc adapts Key to the signature Verify expects as its key argument.
func (c *KeyCache) Keyfunc() (any, error) {
	return c.Key()
}

// Cert returns the currently cached signing certificate, or nil if none has
// loaded yet.
func (c *KeyCache) Cert() *x509.Certificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cert
}

// Refresh performs one synchronous fetch-and-parse of the IDP signing cert.
func (c *KeyCache) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return apperr.New(apperr.KindUpstream, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.New(apperr.KindUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperr.New(apperr.KindUpstream, fmt.Errorf("authtoken: signing key endpoint returned status %d", resp.StatusCode))
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.New(apperr.KindUpstream, err)
	}

	block, _ := pem.Decode(buf)
	if block == nil {
		return apperr.New(apperr.KindUpstream, fmt.Errorf("authtoken: signing key response is not PEM"))
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return apperr.New(apperr.KindUpstream, fmt.Errorf("authtoken: parsing signing certificate: %w", err))
	}

	if c.trust != nil {
		if err := c.trust.VerifyCert(cert, trust.ListTSL, time.Now()); err != nil {
			return fmt.Errorf("authtoken: IDP signing certificate failed trust verification: %w", err)
		}
	}

	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return apperr.New(apperr.KindUpstream, fmt.Errorf("authtoken: signing certificate does not carry an ECDSA key"))
	}

	c.mu.Lock()
	c.key = pub
	c.cert = cert
	c.mu.Unlock()

	if c.OnRotate != nil {
		c.OnRotate(cert)
	}

	return nil
}

// Start runs the periodic refresh loop in a background goroutine.
func (c *KeyCache) Start() {
	go c.run()
}

// Stop signals the loop to exit and waits for it to do so.
func (c *KeyCache) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *KeyCache) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := c.Refresh(ctx); err != nil {
				log.Errorf("authtoken: signing key refresh failed: %w", err)
			}
			cancel()
		case <-c.stopCh:
			return
		}
	}
}
