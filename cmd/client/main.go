package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"query_gateway/internal/cryptographic/signature"
	"query_gateway/internal/service/app"
	"query_gateway/internal/utils/log"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		gateway    string
		keyHex     string
		keyFile    string
		deployment string
		watch      bool
		logFile    string
	)

	cmd := &cobra.Command{
		Use:          "gateway-console [deployment]",
		Short:        "Interactive query console for a gateway node",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				deployment = args[0]
			}
			// The TUI owns the terminal, so logs go to a file or nowhere.
			if logFile != "" {
				if err := log.InitFile("debug", logFile); err != nil {
					return err
				}
				defer log.Sync()
			}

			key, err := loadKey(keyHex, keyFile)
			if err != nil {
				return err
			}
			client, err := app.NewClient(gateway, key)
			if err != nil {
				return err
			}

			console := app.NewApp(client, deployment)
			defer console.Stop()
			return console.Run(cmd.Context(), watch)
		},
	}

	cmd.Flags().StringVarP(&gateway, "gateway", "g", "http://localhost:8003", "gateway base URL")
	cmd.Flags().StringVar(&keyHex, "key", "", "hex secp256k1 private key")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "file holding a hex private key, created if missing")
	cmd.Flags().StringVarP(&deployment, "deployment", "d", "", "deployment to query")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream overlay announcements from the admin socket")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write debug logs to this file")
	return cmd
}

func loadKey(keyHex, keyFile string) (*ecdsa.PrivateKey, error) {
	if keyHex != "" {
		return crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	}
	if keyFile == "" {
		key, _, err := signature.NewSecp256k1Keypair()
		return key, err
	}

	key, err := crypto.LoadECDSA(keyFile)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load key %s: %w", keyFile, err)
	}
	key, _, err = signature.NewSecp256k1Keypair()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveECDSA(keyFile, key); err != nil {
		return nil, fmt.Errorf("save key %s: %w", keyFile, err)
	}
	return key, nil
}
