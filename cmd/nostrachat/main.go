package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"NostraChat/internal/cache"
	"NostraChat/internal/chat"
	"NostraChat/internal/config"
	"NostraChat/internal/shell"
	"NostraChat/internal/store"
	"NostraChat/internal/telemetry"
)

const listingTTL = 10 * time.Minute

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile string
		relayURL   string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "nostrachat",
		Short: "Terminal chat over Nostr relays",
		Long: `Terminal chat over Nostr relays.

Join public channels (kind 40/42) or hold a ratcheted private
conversation (kind 420) with a contact listed in the config file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configFile)
			if err != nil {
				return err
			}
			if debug {
				cfg.Debug = true
			}
			return run(cmd.Context(), cfg, relayURL)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", config.DefaultConfigFile, "configuration file")
	cmd.Flags().StringVarP(&relayURL, "relay", "r", "", "relay to connect to, skipping the relay menu")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newGenKeyCommand())
	return cmd
}

func newGenKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a new identity for the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			sk := nostr.GeneratePrivateKey()
			pk, err := nostr.GetPublicKey(sk)
			if err != nil {
				return fmt.Errorf("failed to derive public key: %w", err)
			}
			nsec, err := nip19.EncodePrivateKey(sk)
			if err != nil {
				return fmt.Errorf("failed to encode private key: %w", err)
			}
			npub, err := nip19.EncodePublicKey(pk)
			if err != nil {
				return fmt.Errorf("failed to encode public key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "privkey = %q\npubkey = %q\n", nsec, npub)
			return nil
		},
	}
}

func run(parent context.Context, cfg *config.Config, relayURL string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	dir, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dir.Close()

	sh, err := shell.New(cfg.HistoryFile, chat.Commands)
	if err != nil {
		return err
	}
	defer sh.Close()

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	client, err := chat.NewClient(chat.Options{
		Config:    cfg,
		Shell:     sh,
		Directory: dir,
		Listings:  cache.NewListings(listingTTL),
		Logger:    logger,
		Tracer:    tracer,
		Meter:     meter,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}

	return client.Run(ctx, relayURL)
}
