package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"elkhaled/pos/internal/cache"
	"elkhaled/pos/internal/config"
	"elkhaled/pos/internal/docstore"
	"elkhaled/pos/internal/docstore/fsdir"
	"elkhaled/pos/internal/docstore/pgdocs"
	"elkhaled/pos/internal/httpapi"
	"elkhaled/pos/internal/kv"
	"elkhaled/pos/internal/mirror"
	"elkhaled/pos/internal/pairing"
	"elkhaled/pos/internal/scan"
	"elkhaled/pos/internal/service"
	"elkhaled/pos/internal/store/memory"
)

func newServeCommand() *cobra.Command {
	var wedge bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the POS backend",
		Long: `Run the POS backend: the HTTP API, the autosave mirror of the data
directory and, unless PAIRING_MODE=off, the phone pairing channel.

With --wedge, barcodes typed on standard input by a keyboard-wedge scanner
are added to the cart of the signed-in desktop user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var scanner io.Reader
			if wedge {
				scanner = os.Stdin
			}
			return runServe(cmd.Context(), cfg, scanner)
		},
	}

	cmd.Flags().BoolVar(&wedge, "wedge", false, "read keyboard-wedge scans from stdin")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, scanner io.Reader) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	entries, err := kv.Open(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer entries.Close()

	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Printf("close error: %v", err)
			}
		}
	}()

	state := memory.New()

	sessions := cache.SessionCache(cache.NewKVSessionCache(entries))
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSessionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), caching session in %s", err, cfg.StateDB)
			_ = redisCache.Close()
		} else {
			sessions = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("session cache: redis")
		}
	}
	stopSessions := cache.Bind(ctx, state, sessions)
	defer stopSessions()

	openers := map[docstore.Kind]docstore.Opener{docstore.KindDirectory: fsdir.Open}
	if cfg.DatabaseURL != "" {
		pg, err := pgdocs.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		openers[docstore.KindPostgres] = pg.Open
		closers = append(closers, pg.Close)
		log.Println("document store: postgres available")
	}
	docs := docstore.New(entries, fsdir.Picker{Path: cfg.DataDir}, openers)
	defer docs.Subscribe(func(st docstore.State) {
		log.Printf("[docstore] state=%s", st)
	})()
	m := mirror.New(state, docs)

	switch {
	case docs.RestoreCapability(ctx):
		if _, err := m.Load(ctx); err != nil {
			log.Printf("[mirror] WARN: failed to load documents: %v", err)
		}
	case docs.State() == docstore.StatePermissionNeeded:
		log.Println("[docstore] data directory needs permission, reconnect through the API")
	case cfg.DataDir != "":
		if err := docs.SelectDirectory(ctx); err != nil {
			log.Printf("[docstore] WARN: failed to open DATA_DIR %s: %v", cfg.DataDir, err)
		} else if _, err := m.Connect(ctx); err != nil {
			log.Printf("[mirror] WARN: first connect failed: %v", err)
		}
	default:
		log.Println("[docstore] no data directory, running in memory until one is connected")
	}

	scheduler := mirror.NewScheduler(state, docs, cfg.AutosaveDelay())
	scheduler.Start()

	var p *service.Pairing
	if cfg.PairingMode != service.PairingOff {
		rendezvous, err := loadRendezvous(ctx, entries)
		if err != nil {
			return err
		}
		tickets := pairing.NewTickets(cfg.AuthSecret, cfg.PairingTicketTTL())
		p = service.NewPairing(cfg.PairingMode, nil, tickets, pairingBaseURL(cfg))
		p.Rendezvous = rendezvous
	}

	svc := service.New(state, service.WithStorage(docs, m, scheduler), service.WithPairing(p))

	var apiOpts []httpapi.Option
	var host *pairing.Host
	if p != nil {
		host = pairing.NewHost(state.Products, svc.RemoteScanner())
		p.Host = host
		host.Subscribe(func(e pairing.Event) {
			log.Printf("[pairing] %s peers=%d", e.Kind, e.Peers)
		})
		switch cfg.PairingMode {
		case service.PairingPeer:
			apiOpts = append(apiOpts, httpapi.WithPairingHost(host))
		case service.PairingRelay:
			go dialRelay(ctx, cfg.RelayURL, p)
		}
	}

	if scanner != nil {
		go runWedge(ctx, scanner, svc.RemoteScanner())
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL())
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, apiOpts...)

	// The pairing socket is long-lived, so only header and idle timeouts apply.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("POS backend listening on %s (pairing: %s)", cfg.Address(), cfg.PairingMode)
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if host != nil {
		_ = host.Close()
	}
	if err := scheduler.Flush(shutdownCtx); err != nil && !errors.Is(err, docstore.ErrNotConnected) {
		log.Printf("[autosave] WARN: final flush failed: %v", err)
	}
	scheduler.Stop()

	log.Println("server stopped")
	return runErr
}

// dialRelay keeps the desktop connected to the relay, reconnecting with a
// fresh ticket after every drop until ctx is done or the host closes.
func dialRelay(ctx context.Context, relayURL string, p *service.Pairing) {
	const retryDelay = 5 * time.Second
	for {
		err := serveRelayOnce(ctx, relayURL, p)
		if errors.Is(err, pairing.ErrClosed) || ctx.Err() != nil {
			return
		}
		log.Printf("[pairing] WARN: relay connection lost: %v", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func serveRelayOnce(ctx context.Context, relayURL string, p *service.Pairing) error {
	ticket, _, err := p.Tickets.Issue(p.Rendezvous)
	if err != nil {
		return err
	}
	endpoint, err := pairing.DialURL(pairing.PairingURL(relayURL, ticket))
	if err != nil {
		return err
	}
	conn, err := pairing.Dial(ctx, endpoint, "")
	if err != nil {
		return err
	}
	log.Printf("[pairing] connected to relay %s", relayURL)
	return p.Host.ServeRelay(conn)
}

func runWedge(ctx context.Context, r io.Reader, scanFn pairing.ScanFunc) {
	w := scan.NewWedge(scan.DefaultGap, func(code string) {
		if _, err := scanFn(code); err != nil {
			log.Printf("[scan] WARN: barcode=%s: %v", code, err)
		}
	})
	if err := w.Run(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[scan] WARN: wedge input stopped: %v", err)
	}
}
