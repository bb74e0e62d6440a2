package pairing

import (
	"context"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/xid"
)

// Mobile is the phone side of the channel. It keeps the last catalog
// snapshot across disconnects so prices and stock stay visible offline.
type Mobile struct {
	onCamera func(requester string)

	mu       sync.RWMutex
	conn     Conn
	products []domain.Product
	online   bool
	done     chan struct{}
}

// NewMobile builds a client; onCamera runs when the desktop asks for a
// scan and may be nil.
func NewMobile(onCamera func(requester string)) *Mobile {
	return &Mobile{onCamera: onCamera}
}

// Connect dials the endpoint and starts receiving.
func (m *Mobile) Connect(ctx context.Context, endpoint string) error {
	conn, err := Dial(ctx, endpoint, "")
	if err != nil {
		return err
	}
	m.Attach(conn)
	return nil
}

// Attach adopts an established connection, replacing any previous one.
// The phone announces itself so a desktop behind a relay syncs it.
func (m *Mobile) Attach(conn Conn) {
	m.mu.Lock()
	prev := m.conn
	m.conn = conn
	m.online = true
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	if err := conn.Send(domain.PairingMessage{Type: domain.MsgHello, ID: xid.New("msg")}); err != nil {
		log.Printf("[pairing] WARN: hello failed: %v", err)
	}
	go m.receive(conn, done)
}

func (m *Mobile) receive(conn Conn, done chan struct{}) {
	defer close(done)
	for {
		msg, err := conn.Receive()
		if err != nil {
			m.mu.Lock()
			if m.conn == conn {
				m.online = false
				m.conn = nil
			}
			m.mu.Unlock()
			if !errors.Is(err, ErrClosed) {
				log.Printf("[pairing] disconnected: %v", err)
			}
			return
		}
		switch msg.Type {
		case domain.MsgSync:
			m.mu.Lock()
			m.products = slices.Clone(msg.Products)
			m.mu.Unlock()
		case domain.MsgOpenCamera, domain.MsgRequestScan:
			if m.onCamera != nil {
				m.onCamera(msg.Requester)
			}
		}
	}
}

// Scan sends a decoded barcode to the desktop. Offline scans are dropped.
func (m *Mobile) Scan(barcode string) error {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil
	}
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return ErrClosed
	}
	return conn.Send(domain.PairingMessage{Type: domain.MsgScan, ID: xid.New("msg"), Barcode: barcode})
}

func (m *Mobile) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Products returns the cached catalog snapshot.
func (m *Mobile) Products() []domain.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.products)
}

// Lookup finds products in the cached snapshot by exact barcode or by a
// case-insensitive name fragment.
func (m *Mobile) Lookup(query string) []domain.Product {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	lower := strings.ToLower(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Product
	for _, p := range m.products {
		if p.Barcode == query || strings.Contains(strings.ToLower(p.Name), lower) {
			out = append(out, p)
		}
	}
	return out
}

// Close disconnects and waits for the receive loop to stop. The cached
// snapshot is kept.
func (m *Mobile) Close() error {
	m.mu.Lock()
	conn, done := m.conn, m.done
	m.conn = nil
	m.online = false
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}
