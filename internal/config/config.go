// Package config loads the Fachdienst's YAML configuration file, the way
// cuemby-warren/cmd/warren/apply.go decodes its manifest YAML with
// gopkg.in/yaml.v3, then checks it with internal/validation. Four settings
// have an environment-variable override (ERD_LISTEN_ADDR, ERD_ADMIN_ADDR,
// ERD_DATA_DIR, ERD_LOG_LEVEL; see applyEnvOverrides), and the
// three standard proxy variables (spec.md §6 "Environment") are read
// separately by whichever component makes outbound HTTP calls.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gematik/erezept-fachdienst/internal/validation"
	"gopkg.in/yaml.v3"
)

// ServerConfig is the outer VAU tunnel's listen configuration.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr" validate:"required"`
	AdminAddr       string        `yaml:"adminAddr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PKIConfig points at the trust lists, OCSP responder behavior, and the
// IDP's signing-key endpoint.
type PKIConfig struct {
	TSLURL          string        `yaml:"tslUrl" validate:"required,url"`
	BNetzAURL       string        `yaml:"bnetzaUrl" validate:"required,url"`
	IDPKeyURL       string        `yaml:"idpKeyUrl" validate:"required,url"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	OCSPTimeout     time.Duration `yaml:"ocspTimeout"`
}

// VAUConfig points at the server's own VAU keypair and certificate, and
// the key the pseudonym generator signs with.
type VAUConfig struct {
	CertPath     string `yaml:"certPath" validate:"required"`
	KeyPath      string `yaml:"keyPath" validate:"required"`
	PseudonymKey string `yaml:"pseudonymKey" validate:"required,min=32"`
}

// ReceiptConfig points at the certificate/key the server signs closing
// receipts with (C.FD.SIG in gematik's PKI).
type ReceiptConfig struct {
	CertPath string `yaml:"certPath" validate:"required"`
	KeyPath  string `yaml:"keyPath" validate:"required"`
}

// StateConfig tunes the in-memory lifecycle engine and its snapshot
// persistence.
type StateConfig struct {
	DataDir              string        `yaml:"dataDir" validate:"required"`
	SnapshotInterval     time.Duration `yaml:"snapshotInterval"`
	RepresentativeMsgCap int           `yaml:"representativeMsgCap" validate:"gte=0"`
	SweepInterval        time.Duration `yaml:"sweepInterval"`
}

// LogConfig controls pkg/log.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Config is the full Fachdienst configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	PKI     PKIConfig     `yaml:"pki"`
	VAU     VAUConfig     `yaml:"vau"`
	Receipt ReceiptConfig `yaml:"receipt"`
	State   StateConfig   `yaml:"state"`
	Log     LogConfig     `yaml:"log"`
}

// defaults fills in every duration/count that's fine to leave unset in the
// YAML file.
func defaults() Config {
	return Config{
		Server: ServerConfig{
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		PKI: PKIConfig{
			RefreshInterval: time.Hour,
			OCSPTimeout:     10 * time.Second,
		},
		State: StateConfig{
			SnapshotInterval:     5 * time.Minute,
			RepresentativeMsgCap: 10,
			SweepInterval:        time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads, decodes, and validates the YAML configuration at path.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validation.New().Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the file without
// a redeploy, matching the teacher's own preference for flags/env over
// baked-in values. ERD_* variables take precedence over the YAML file;
// http_proxy/https_proxy/no_proxy are read directly by net/http's default
// transport and are not duplicated here.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ERD_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("ERD_ADMIN_ADDR"); v != "" {
		cfg.Server.AdminAddr = v
	}
	if v := os.Getenv("ERD_DATA_DIR"); v != "" {
		cfg.State.DataDir = v
	}
	if v := os.Getenv("ERD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
