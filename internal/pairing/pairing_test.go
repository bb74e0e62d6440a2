package pairing

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elkhaled/pos/internal/domain"
)

var catalog = []domain.Product{
	{ID: "p1", Name: "Green Tea", Barcode: "6221000000011", Price: decimal.NewFromInt(25), Stock: 12},
	{ID: "p2", Name: "Rice 1kg", Barcode: "6221000000028", Price: decimal.NewFromInt(40), Stock: 3},
}

type recorder struct {
	mu      sync.Mutex
	scanned []string
	events  []Event
}

func (r *recorder) scan(barcode string) (domain.Product, error) {
	r.mu.Lock()
	r.scanned = append(r.scanned, barcode)
	r.mu.Unlock()
	for _, p := range catalog {
		if p.Barcode == barcode {
			return p, nil
		}
	}
	return domain.Product{}, errors.New("not found")
}

func (r *recorder) event(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) scans() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scanned...)
}

func newHost(t *testing.T) (*Host, *recorder) {
	t.Helper()
	rec := &recorder{}
	h := NewHost(func() []domain.Product { return catalog }, rec.scan)
	h.Subscribe(rec.event)
	t.Cleanup(func() { _ = h.Close() })
	return h, rec
}

func receive(t *testing.T, c Conn) domain.PairingMessage {
	t.Helper()
	type result struct {
		msg domain.PairingMessage
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := c.Receive()
		ch <- result{msg, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return domain.PairingMessage{}
	}
}

func TestHostSyncsCatalogOnConnect(t *testing.T) {
	h, rec := newHost(t)
	phone, desk := Pipe()
	h.Attach(desk)

	msg := receive(t, phone)
	assert.Equal(t, domain.MsgSync, msg.Type)
	assert.Equal(t, catalog, msg.Products)

	require.Eventually(t, h.Online, time.Second, 5*time.Millisecond)
	assert.Equal(t, []EventKind{EventConnected}, rec.kinds())
}

func TestHostScanHitAndMiss(t *testing.T) {
	h, rec := newHost(t)
	phone, desk := Pipe()
	go func() { _ = h.Serve(desk) }()
	receive(t, phone)

	require.NoError(t, phone.Send(domain.PairingMessage{Type: domain.MsgScan, Barcode: "0000"}))
	require.NoError(t, phone.Send(domain.PairingMessage{Type: domain.MsgScanResult, Barcode: " 6221000000011 "}))

	require.Eventually(t, func() bool { return len(rec.scans()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"0000", "6221000000011"}, rec.scans())
	require.Eventually(t, func() bool { return len(rec.kinds()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []EventKind{EventConnected, EventScanMissed, EventScanFound}, rec.kinds())
	assert.True(t, h.Online(), "a miss never drops the channel")
}

func TestHostDeduplicatesByID(t *testing.T) {
	h, rec := newHost(t)
	phone, desk := Pipe()
	h.Attach(desk)
	receive(t, phone)

	scan := domain.PairingMessage{Type: domain.MsgScan, ID: "m-1", Barcode: "6221000000028"}
	require.NoError(t, phone.Send(scan))
	require.NoError(t, phone.Send(scan))
	require.NoError(t, phone.Send(domain.PairingMessage{Type: domain.MsgScan, Barcode: "6221000000028"}))

	require.Eventually(t, func() bool { return len(rec.scans()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.scans(), 2)
}

func TestHostIgnoresHelloFromDirectPeer(t *testing.T) {
	h, rec := newHost(t)
	phone, desk := Pipe()
	go func() { _ = h.Serve(desk) }()
	receive(t, phone)

	require.NoError(t, phone.Send(domain.PairingMessage{Type: domain.MsgHello}))
	require.NoError(t, phone.Send(domain.PairingMessage{Type: domain.MsgScan, Barcode: "x"}))
	require.Eventually(t, func() bool { return len(rec.scans()) == 1 }, time.Second, 5*time.Millisecond)

	h.RequestScan("POS")
	msg := receive(t, phone)
	assert.Equal(t, domain.MsgOpenCamera, msg.Type, "no second SYNC precedes the camera request")
}

func TestRequestScanReachesEveryPhone(t *testing.T) {
	h, _ := newHost(t)
	phones := make([]Conn, 0, 2)
	for range 2 {
		phone, desk := Pipe()
		h.Attach(desk)
		receive(t, phone)
		phones = append(phones, phone)
	}
	require.Eventually(t, func() bool { return h.Peers() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, h.RequestScan("POS"))
	for _, phone := range phones {
		msg := receive(t, phone)
		assert.Equal(t, domain.MsgOpenCamera, msg.Type)
		assert.Equal(t, "POS", msg.Requester)
	}
}

func TestHostCloseReleasesConnections(t *testing.T) {
	h, rec := newHost(t)
	phone, desk := Pipe()
	h.Attach(desk)
	receive(t, phone)

	require.NoError(t, h.Close())
	assert.False(t, h.Online())
	_, err := phone.Receive()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, phone.Send(domain.PairingMessage{Type: domain.MsgScan, Barcode: "6221000000011"}), ErrClosed)
	assert.Empty(t, rec.scans())

	late, _ := Pipe()
	assert.ErrorIs(t, h.Serve(late), ErrClosed)
}

func TestRelayFansOut(t *testing.T) {
	ctx := context.Background()
	relay := NewRelayServer(nil)
	require.NoError(t, relay.Start(ctx))
	t.Cleanup(func() { _ = relay.Close() })

	h, rec := newHost(t)
	deskSide, relayDesk := Pipe()
	go func() { _ = relay.Serve(ctx, relayDesk) }()
	require.Eventually(t, func() bool { return relay.Clients() == 1 }, time.Second, 5*time.Millisecond)
	h.Attach(deskSide)

	var cameraMu sync.Mutex
	var cameras []string
	m := NewMobile(func(requester string) {
		cameraMu.Lock()
		cameras = append(cameras, requester)
		cameraMu.Unlock()
	})
	phoneSide, relayPhone := Pipe()
	go func() { _ = relay.Serve(ctx, relayPhone) }()
	require.Eventually(t, func() bool { return relay.Clients() == 2 }, time.Second, 5*time.Millisecond)
	m.Attach(phoneSide)
	t.Cleanup(func() { _ = m.Close() })

	// The phone's hello makes the desktop resend the catalog through the relay.
	require.Eventually(t, func() bool { return len(m.Products()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Scan("6221000000028"))
	require.Eventually(t, func() bool { return len(rec.scans()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"6221000000028"}, rec.scans())

	h.RequestScan("POS")
	require.Eventually(t, func() bool {
		cameraMu.Lock()
		defer cameraMu.Unlock()
		return len(cameras) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRelayTranslatesLegacyEvents(t *testing.T) {
	out, ok := relayed(domain.PairingMessage{Type: domain.MsgRequestScan, Requester: "POS"})
	require.True(t, ok)
	assert.Equal(t, domain.MsgOpenCamera, out.Type)
	assert.Equal(t, "POS", out.Requester)

	out, ok = relayed(domain.PairingMessage{Type: domain.MsgScanResult, Barcode: "1"})
	require.True(t, ok)
	assert.Equal(t, domain.MsgReceiveBarcode, out.Type)

	_, ok = relayed(domain.PairingMessage{Type: "BOGUS"})
	assert.False(t, ok)
}

func TestPeerSessionOverWebsocket(t *testing.T) {
	tickets := NewTickets("test-secret", time.Minute)
	rendezvous := "desk-1"
	h, rec := newHost(t)

	srv := httptest.NewServer(WebsocketHandler(func(r *http.Request) error {
		id, err := tickets.Verify(r.URL.Query().Get("host"))
		if err != nil || id != rendezvous {
			return ErrInvalidTicket
		}
		return nil
	}, func(_ *http.Request, conn Conn) {
		_ = h.Serve(conn)
	}))
	defer srv.Close()

	ticket, _, err := tickets.Issue(rendezvous)
	require.NoError(t, err)
	endpoint, err := DialURL(PairingURL(srv.URL, ticket))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(endpoint, "ws://"))

	m := NewMobile(nil)
	require.NoError(t, m.Connect(context.Background(), endpoint))
	require.Eventually(t, func() bool { return len(m.Products()) == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.Online())
	assert.Len(t, m.Lookup("tea"), 1)
	assert.Len(t, m.Lookup("6221000000028"), 1)

	require.NoError(t, m.Scan("6221000000011"))
	require.Eventually(t, func() bool { return len(rec.scans()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Close())
	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)
	assert.Len(t, m.Products(), 2, "snapshot survives the disconnect")
	assert.ErrorIs(t, m.Scan("6221000000011"), ErrClosed)

	forged, err := DialURL(PairingURL(srv.URL, "forged"))
	require.NoError(t, err)
	assert.Error(t, NewMobile(nil).Connect(context.Background(), forged))
}

func TestTickets(t *testing.T) {
	tickets := NewTickets("secret", time.Minute)
	token, exp, err := tickets.Issue("r-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	id, err := tickets.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "r-1", id)

	_, err = NewTickets("other", time.Minute).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidTicket)

	tickets.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = tickets.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestPairingURLs(t *testing.T) {
	u := PairingURL("https://till.local:8080/", "a.b.c")
	assert.Equal(t, "https://till.local:8080/mobile?host=a.b.c", u)

	endpoint, err := DialURL(u)
	require.NoError(t, err)
	assert.Equal(t, "wss://till.local:8080/pair?host=a.b.c", endpoint)

	_, err = DialURL("https://till.local/mobile")
	assert.Error(t, err)
	_, err = DialURL("ftp://till.local/mobile?host=x")
	assert.Error(t, err)
}

func TestQRCode(t *testing.T) {
	data, err := QRCode(PairingURL("http://192.168.1.20:8080", strings.Repeat("t", 180)), 300)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())
}
