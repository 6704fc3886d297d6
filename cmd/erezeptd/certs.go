package main

import (
	"encoding/pem"
	"fmt"

	"github.com/gematik/erezept-fachdienst/internal/config"
	"github.com/gematik/erezept-fachdienst/pkg/vau"
	"github.com/spf13/cobra"
)

var certsCmd = &cobra.Command{
	Use:     "certs",
	Aliases: []string{"cert", "cert-info"},
	Short:   "Inspect the server's VAU certificate",
}

var certsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the VAU certificate served at GET /VAUCertificate",
	Long: `show loads the certificate configured under vau.certPath and prints it
as PEM, so an operator can confirm the running server's certificate
matches what clients will pin without reaching for openssl.`,
	RunE: runCertsShow,
}

func init() {
	certsShowCmd.Flags().String("cert", "", "Path to the VAU certificate (overrides the config file)")
	certsShowCmd.Flags().String("key", "", "Path to the VAU private key (overrides the config file)")
	certsCmd.AddCommand(certsShowCmd)
}

func runCertsShow(cmd *cobra.Command, args []string) error {
	certPath, _ := cmd.Flags().GetString("cert")
	keyPath, _ := cmd.Flags().GetString("key")

	if certPath == "" || keyPath == "" {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if certPath == "" {
			certPath = cfg.VAU.CertPath
		}
		if keyPath == "" {
			keyPath = cfg.VAU.KeyPath
		}
	}

	certDER, _, err := vau.LoadKeyPair(certPath, keyPath)
	if err != nil {
		return fmt.Errorf("loading VAU keypair: %w", err)
	}

	block := &pem.Block{Type: "CERTIFICATE", Bytes: certDER}
	fmt.Print(string(pem.EncodeToMemory(block)))
	return nil
}
