package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"elkhaled/pos/internal/cache"
	"elkhaled/pos/internal/config"
	"elkhaled/pos/internal/pairing"
)

func newRelayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run the pairing relay",
		Long: `Run the pairing relay on RELAY_ADDR. Desktops and phones holding a
ticket signed with AUTH_SECRET connect to /pair; every message is fanned out
to all clients. With REDIS_ADDR set, several relay instances share one
channel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runRelay(cmd.Context(), cfg)
		},
	}
}

func runRelay(ctx context.Context, cfg config.Config) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	var broker pairing.Broker = pairing.NewMemoryBroker()
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSessionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			_ = redisCache.Close()
			return fmt.Errorf("redis unavailable and REDIS_ADDR is set: %w", err)
		}
		defer redisCache.Close()
		broker = pairing.NewRedisBroker(redisCache.Client(), pairing.DefaultRelayChannel)
		log.Println("relay broker: redis")
	}

	relay := pairing.NewRelayServer(broker)
	if err := relay.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	defer relay.Close()

	tickets := pairing.NewTickets(cfg.AuthSecret, cfg.PairingTicketTTL())
	server := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           relayHandler(relay, tickets),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("pairing relay listening on %s", cfg.RelayAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	log.Println("relay stopped")
	return runErr
}

func relayHandler(relay *pairing.RelayServer, tickets *pairing.Tickets) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "clients": relay.Clients()})
	})
	mux.Handle("/pair", pairing.WebsocketHandler(
		func(r *http.Request) error {
			_, err := tickets.Verify(r.URL.Query().Get("host"))
			return err
		},
		func(r *http.Request, conn pairing.Conn) {
			if err := relay.Serve(context.Background(), conn); err != nil {
				log.Printf("[relay] client %s dropped: %v", r.RemoteAddr, err)
			}
		},
	))
	return mux
}
