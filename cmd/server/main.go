package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"elkhaled/pos/internal/config"
	"elkhaled/pos/internal/kv"
	"elkhaled/pos/internal/service"
	"elkhaled/pos/internal/xid"
)

// rendezvousKey names the kv entry holding this installation's pairing
// rendezvous, shared by the server and the pair-code command.
const rendezvousKey = "pairingRendezvous"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] WARN: failed to read .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pos",
		Short:         "Local-first point of sale backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newRelayCommand())
	cmd.AddCommand(newImportCommand())
	cmd.AddCommand(newPairCodeCommand())
	cmd.AddCommand(newPhoneCommand())
	return cmd
}

// loadConfig reads the configuration and exports the seed administrator
// password for the state store, which reads it from the environment.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if cfg.SeedAdminPassword != "" && os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		_ = os.Setenv("SEED_ADMIN_PASSWORD", cfg.SeedAdminPassword)
	}
	return cfg, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// pairingBaseURL is where phones reach the pairing socket: the relay in
// relay mode, this server otherwise.
func pairingBaseURL(cfg config.Config) string {
	if cfg.PairingMode == service.PairingRelay {
		return cfg.RelayURL
	}
	return cfg.BaseURL()
}

// loadRendezvous returns the persisted rendezvous id, creating it on first
// use so pairing codes stay valid across restarts.
func loadRendezvous(ctx context.Context, entries *kv.Store) (string, error) {
	raw, ok, err := entries.Get(ctx, rendezvousKey)
	if err != nil {
		return "", fmt.Errorf("load rendezvous: %w", err)
	}
	if ok && len(raw) > 0 {
		return string(raw), nil
	}
	id := xid.Rendezvous()
	if err := entries.Put(ctx, rendezvousKey, []byte(id)); err != nil {
		return "", fmt.Errorf("save rendezvous: %w", err)
	}
	return id, nil
}
