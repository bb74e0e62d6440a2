package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"elkhaled/pos/internal/config"
	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/kv"
	"elkhaled/pos/internal/pairing"
	"elkhaled/pos/internal/service"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: testSecret})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestPairingBaseURLFollowsMode(t *testing.T) {
	peer := config.Config{Port: "8080", PairingMode: service.PairingPeer}
	if got := pairingBaseURL(peer); got != "http://127.0.0.1:8080" {
		t.Fatalf("expected local base url, got %q", got)
	}

	relay := config.Config{Port: "8080", PairingMode: service.PairingRelay, RelayURL: "https://relay.example.com"}
	if got := pairingBaseURL(relay); got != "https://relay.example.com" {
		t.Fatalf("expected relay base url, got %q", got)
	}
}

func TestLoadRendezvousIsStable(t *testing.T) {
	entries, err := kv.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer entries.Close()

	ctx := context.Background()
	first, err := loadRendezvous(ctx, entries)
	if err != nil || first == "" {
		t.Fatalf("first load: %q %v", first, err)
	}
	second, err := loadRendezvous(ctx, entries)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first != second {
		t.Fatalf("expected rendezvous to persist, got %q then %q", first, second)
	}
}

func TestRunImportNormalizesLegacyFiles(t *testing.T) {
	from := t.TempDir()
	to := filepath.Join(t.TempDir(), "data")
	legacy := `[{"name":"Tea","price":"5","quantity":3},{"id":"p2","name":"Coffee","price":7}]`
	if err := os.WriteFile(filepath.Join(from, "products.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	var out bytes.Buffer
	if err := runImport(context.Background(), from, to, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), "2 products") {
		t.Fatalf("unexpected summary %q", out.String())
	}

	raw, err := os.ReadFile(filepath.Join(to, "products.json"))
	if err != nil {
		t.Fatalf("read imported products: %v", err)
	}
	var products []domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		t.Fatalf("decode imported products: %v", err)
	}
	if len(products) != 2 || products[0].ID == "" || products[0].Stock != 3 {
		t.Fatalf("expected normalized products, got %+v", products)
	}
	if _, err := os.Stat(filepath.Join(to, "settings.json")); err != nil {
		t.Fatalf("expected the full document set to be written: %v", err)
	}
}

func TestRunImportRejectsEmptySource(t *testing.T) {
	err := runImport(context.Background(), t.TempDir(), t.TempDir(), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "no data files") {
		t.Fatalf("expected empty source to be rejected, got %v", err)
	}
	if err := runImport(context.Background(), t.TempDir(), "", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected missing destination to be rejected")
	}
}

func TestRunPairCodeIssuesVerifiableLink(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Port:                    "8080",
		StateDB:                 filepath.Join(dir, "state.db"),
		AuthSecret:              testSecret,
		PairingMode:             service.PairingPeer,
		PairingTicketTTLMinutes: 5,
	}
	pngPath := filepath.Join(dir, "pair.png")

	var out bytes.Buffer
	if err := runPairCode(context.Background(), cfg, pngPath, 128, &out); err != nil {
		t.Fatalf("pair-code: %v", err)
	}
	link := strings.SplitN(out.String(), "\n", 2)[0]
	if !strings.HasPrefix(link, "http://127.0.0.1:8080/mobile?host=") {
		t.Fatalf("unexpected link %q", link)
	}

	endpoint, err := pairing.DialURL(link)
	if err != nil {
		t.Fatalf("dial url: %v", err)
	}
	ticket := strings.SplitN(endpoint, "host=", 2)[1]
	rendezvous, err := pairing.NewTickets(testSecret, time.Minute).Verify(ticket)
	if err != nil {
		t.Fatalf("verify ticket: %v", err)
	}

	entries, err := kv.Open(cfg.StateDB)
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	defer entries.Close()
	stored, _ := loadRendezvous(context.Background(), entries)
	if stored != rendezvous {
		t.Fatalf("ticket carries %q, installation uses %q", rendezvous, stored)
	}

	png, err := os.ReadFile(pngPath)
	if err != nil {
		t.Fatalf("read png: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("expected a PNG image")
	}
}

func TestRunPairCodeRefusesWhenPairingOff(t *testing.T) {
	cfg := config.Config{AuthSecret: testSecret, PairingMode: service.PairingOff}
	if err := runPairCode(context.Background(), cfg, "", 0, &bytes.Buffer{}); err != service.ErrPairingDisabled {
		t.Fatalf("expected ErrPairingDisabled, got %v", err)
	}
}

func TestRelayHandlerFansOutTicketHolders(t *testing.T) {
	relay := pairing.NewRelayServer(pairing.NewMemoryBroker())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := relay.Start(ctx); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	defer relay.Close()

	tickets := pairing.NewTickets(testSecret, time.Minute)
	srv := httptest.NewServer(relayHandler(relay, tickets))
	defer srv.Close()

	dial := func(secretTickets *pairing.Tickets) (pairing.Conn, error) {
		ticket, _, err := secretTickets.Issue("shop")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		endpoint, err := pairing.DialURL(pairing.PairingURL(srv.URL, ticket))
		if err != nil {
			t.Fatalf("dial url: %v", err)
		}
		return pairing.Dial(ctx, endpoint, "")
	}

	desktop, err := dial(tickets)
	if err != nil {
		t.Fatalf("desktop dial: %v", err)
	}
	defer desktop.Close()
	phone, err := dial(tickets)
	if err != nil {
		t.Fatalf("phone dial: %v", err)
	}
	defer phone.Close()

	for relay.Clients() < 2 {
		if ctx.Err() != nil {
			t.Fatalf("clients never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := desktop.Send(domain.PairingMessage{Type: domain.MsgRequestScan, Requester: "Sara"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, err := phone.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.Type != domain.MsgOpenCamera || msg.Requester != "Sara" {
		t.Fatalf("expected OPEN_CAMERA from Sara, got %+v", msg)
	}

	if _, err := dial(pairing.NewTickets("another-secret-another-secret-xx", time.Minute)); err == nil {
		t.Fatalf("expected a ticket from another secret to be refused")
	}
}
