package trust

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSignedCert(t *testing.T, cn string) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		SubjectKeyId:          []byte(cn),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func tslXML(status string, der []byte) []byte {
	b64 := base64.StdEncoding.EncodeToString(der)
	return []byte(fmt.Sprintf(`<?xml version="1.0"?>
<TrustServiceStatusList>
  <TrustServiceProviderList>
    <TrustServiceProvider>
      <TSPServices>
        <TSPService>
          <ServiceInformation>
            <ServiceTypeIdentifier>http://uri.etsi.org/TrstSvc/Svctype/CA/QC</ServiceTypeIdentifier>
            <ServiceStatus>%s</ServiceStatus>
            <StatusStartingTime>2020-01-01T00:00:00Z</StatusStartingTime>
            <ServiceDigitalIdentity>
              <DigitalId>
                <X509Certificate>%s</X509Certificate>
              </DigitalId>
            </ServiceDigitalIdentity>
          </ServiceInformation>
        </TSPService>
      </TSPServices>
    </TrustServiceProvider>
  </TrustServiceProviderList>
</TrustServiceStatusList>`, status, b64))
}

func TestParseGrantedCertIsIndexed(t *testing.T) {
	cert := selfSignedCert(t, "granted-ca")
	doc, err := Parse(tslXML(serviceStatusGranted, cert.Raw))
	require.NoError(t, err)

	assert.True(t, doc.Contains(cert))
	assert.Equal(t, 1, doc.Size())
}

func TestParseSkipsNonGrantedStatus(t *testing.T) {
	cert := selfSignedCert(t, "withdrawn-ca")
	doc, err := Parse(tslXML("http://uri.etsi.org/TrstSvc/Svcstatus/withdrawn", cert.Raw))
	require.NoError(t, err)

	assert.False(t, doc.Contains(cert))
	assert.Equal(t, 0, doc.Size())
}

type fakeFetcher struct {
	tsl, bnetza []byte
}

func (f fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "tsl" {
		return f.tsl, nil
	}
	return f.bnetza, nil
}

func TestVerifyCertAgainstCorrectList(t *testing.T) {
	tslCert := selfSignedCert(t, "tsl-member")
	bnetzaCert := selfSignedCert(t, "bnetza-member")

	fetcher := fakeFetcher{
		tsl:    tslXML(serviceStatusGranted, tslCert.Raw),
		bnetza: tslXML(serviceStatusGranted, bnetzaCert.Raw),
	}

	store := NewStore(fetcher, "tsl", "bnetza")
	require.NoError(t, store.LoadNow(context.Background()))

	now := time.Now()
	assert.NoError(t, store.VerifyCert(tslCert, ListTSL, now))
	assert.NoError(t, store.VerifyCert(bnetzaCert, ListBNetzA, now))

	err := store.VerifyCert(bnetzaCert, ListTSL, now)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnknownIssuer))
}

func TestVerifyCertBeforeLoad(t *testing.T) {
	store := NewStore(fakeFetcher{}, "tsl", "bnetza")
	cert := selfSignedCert(t, "unloaded")

	err := store.VerifyCert(cert, ListTSL, time.Now())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestVerifyCertRejectsExpiredCert(t *testing.T) {
	cert := selfSignedCert(t, "expiring-ca")
	fetcher := fakeFetcher{tsl: tslXML(serviceStatusGranted, cert.Raw)}

	store := NewStore(fetcher, "tsl", "bnetza")
	require.NoError(t, store.LoadNow(context.Background()))

	err := store.VerifyCert(cert, ListTSL, cert.NotAfter.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotValidAnymore))

	err = store.VerifyCert(cert, ListTSL, cert.NotBefore.Add(-time.Minute))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotValidYet))
}

func TestVerifyCertRejectsTamperedSignature(t *testing.T) {
	ca := selfSignedCert(t, "issuing-ca")
	other := selfSignedCert(t, "unrelated-ca")

	// Claim an issuer name that matches a listed CA without actually being
	// signed by it, so FindIssuer proposes a candidate whose signature
	// check must fail.
	leaf := *other
	leaf.Issuer = ca.Subject

	fetcher := fakeFetcher{tsl: tslXML(serviceStatusGranted, ca.Raw)}
	store := NewStore(fetcher, "tsl", "bnetza")
	require.NoError(t, store.LoadNow(context.Background()))

	err := store.VerifyCert(&leaf, ListTSL, time.Now())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUnknownIssuer))
}
