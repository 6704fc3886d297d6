package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/config"
	"github.com/gematik/erezept-fachdienst/pkg/api"
	"github.com/gematik/erezept-fachdienst/pkg/authtoken"
	"github.com/gematik/erezept-fachdienst/pkg/cms"
	"github.com/gematik/erezept-fachdienst/pkg/events"
	"github.com/gematik/erezept-fachdienst/pkg/log"
	"github.com/gematik/erezept-fachdienst/pkg/metrics"
	"github.com/gematik/erezept-fachdienst/pkg/ocspcache"
	"github.com/gematik/erezept-fachdienst/pkg/snapshot"
	"github.com/gematik/erezept-fachdienst/pkg/state"
	"github.com/gematik/erezept-fachdienst/pkg/trust"
	"github.com/gematik/erezept-fachdienst/pkg/vau"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the VAU tunnel and lifecycle API",
	Long: `serve loads the configuration file, brings up the trust lists, the
VAU keypair, the in-memory lifecycle engine (restored from its last
snapshot if one exists), and the two HTTP listeners (the VAU tunnel and the
admin surface), then blocks until it receives SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("enable-pprof", false, "Serve net/http/pprof handlers on the admin listener")
}

// loadSigningKeyPair reads a PEM certificate and EC private key pair used
// for a purpose other than the VAU tunnel's own (pkg/vau.LoadKeyPair covers
// that one); cms.Signer wants the certificate parsed, not just its DER, so
// this reuses vau.LoadKeyPair for the PEM reading and then parses the
// returned certificate DER with x509.ParseCertificate.
func loadSigningKeyPair(certPath, keyPath string) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	certDER, priv, err := vau.LoadKeyPair(certPath, keyPath)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("erezeptd: parsing certificate %s: %w", certPath, err)
	}
	return cert, priv, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("trust", false, "loading")
	metrics.RegisterComponent("vau", false, "loading")
	metrics.RegisterComponent("idp", false, "loading")
	metrics.RegisterComponent("snapshot", false, "loading")
	metrics.RegisterComponent("state", false, "loading")
	metrics.RegisterComponent("api", false, "initializing")

	log.Info("erezeptd starting")

	trustStore := trust.NewStore(trust.NewHTTPFetcher(cfg.PKI.OCSPTimeout), cfg.PKI.TSLURL, cfg.PKI.BNetzAURL)
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = trustStore.LoadNow(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("loading trust lists: %w", err)
	}
	trustStore.Start()
	defer trustStore.Stop()
	metrics.RegisterComponent("trust", true, "ready")

	ocsp := ocspcache.NewCache(cfg.PKI.OCSPTimeout)
	renewer := ocspcache.NewRenewer(ocsp)
	renewer.Start()
	defer renewer.Stop()

	// checkIDPCertOCSP resolves cert's issuer from the TSL — the identity
	// list, since the IDP's signing certificate is a participant
	// certificate, not a prescription signer — and seeds the OCSP cache
	// with its current status per spec.md §4.B. Logged, not fatal: a
	// responder hiccup shouldn't keep the server down or block key rotation.
	checkIDPCertOCSP := func(cert *x509.Certificate) {
		issuer, err := trustStore.ResolveIssuer(cert, trust.ListTSL)
		if err != nil {
			log.Errorf("ocspcache: resolving IDP certificate issuer: %w", err)
			return
		}
		if _, err := ocsp.Check(cert, issuer); err != nil {
			log.Errorf("ocspcache: checking IDP certificate status: %w", err)
		}
	}

	// cfg.PKI has no IDP-specific timeout of its own; OCSPTimeout is the
	// config file's only "how long may a PKI round trip take" knob, so the
	// IDP key fetch reuses it rather than adding a near-duplicate field.
	idpKeys := authtoken.NewKeyCache(cfg.PKI.IDPKeyURL, cfg.PKI.OCSPTimeout, trustStore)
	idpKeys.OnRotate = checkIDPCertOCSP
	refreshCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = idpKeys.Refresh(refreshCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetching IDP signing key: %w", err)
	}
	idpKeys.Start()
	defer idpKeys.Stop()
	metrics.RegisterComponent("idp", true, "ready")

	vauCertDER, vauPriv, err := vau.LoadKeyPair(cfg.VAU.CertPath, cfg.VAU.KeyPath)
	if err != nil {
		return fmt.Errorf("loading VAU keypair: %w", err)
	}
	vauCert, err := x509.ParseCertificate(vauCertDER)
	if err != nil {
		return fmt.Errorf("parsing VAU certificate: %w", err)
	}
	if issuer, err := trustStore.ResolveIssuer(vauCert, trust.ListTSL); err != nil {
		log.Errorf("ocspcache: resolving VAU certificate issuer: %w", err)
	} else if _, err := ocsp.Check(vauCert, issuer); err != nil {
		log.Errorf("ocspcache: checking VAU certificate status: %w", err)
	}
	pseudonyms := vau.NewPseudonymGenerator([]byte(cfg.VAU.PseudonymKey))
	metrics.RegisterComponent("vau", true, "ready")

	receiptCert, receiptKey, err := loadSigningKeyPair(cfg.Receipt.CertPath, cfg.Receipt.KeyPath)
	if err != nil {
		return fmt.Errorf("loading receipt signing keypair: %w", err)
	}

	bundleVerifier := cms.NewVerifier(trustStore)
	receiptSigner := cms.NewSigner(receiptCert, receiptKey)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	engine := state.New(bundleVerifier, receiptSigner, broker, state.WithRepresentativeMax(cfg.State.RepresentativeMsgCap))

	snapStore, err := snapshot.Open(cfg.State.DataDir)
	if err != nil {
		return fmt.Errorf("opening snapshot store: %w", err)
	}
	defer snapStore.Close()
	metrics.RegisterComponent("snapshot", true, "ready")

	restored, err := snapStore.Load()
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	engine.Restore(restored)
	log.Info("restored engine state from snapshot")
	metrics.RegisterComponent("state", true, "ready")

	persister := snapshot.NewPersister(engine, snapStore)
	persister.Start()
	defer persister.Stop()

	sweeper := state.NewSweeper(engine)
	sweeper.Start()
	defer sweeper.Stop()

	collector := metrics.NewCollector(engine)
	collector.Start(time.Minute)
	defer collector.Stop()

	router := api.Router(engine, idpKeys)
	tunnel := api.NewTunnel(vauPriv, vauCertDER, pseudonyms, router)
	admin := api.NewAdminServer(pprofEnabled)
	if pprofEnabled {
		log.Info("pprof handlers enabled on the admin listener")
	}

	server := api.NewServer(api.ServerConfig{
		ListenAddr:      cfg.Server.ListenAddr,
		AdminAddr:       cfg.Server.AdminAddr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, tunnel, admin)

	metrics.RegisterComponent("api", true, "ready")
	log.Info(fmt.Sprintf("listening on %s (tunnel) and %s (admin)", cfg.Server.ListenAddr, cfg.Server.AdminAddr))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}
