package pairing

import (
	"errors"
	"log"
	"sort"
	"strings"
	"sync"

	"elkhaled/pos/internal/domain"
)

// ScanFunc resolves a scanned barcode against the session, adding the
// product to the cart on a hit.
type ScanFunc func(barcode string) (domain.Product, error)

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventScanFound    EventKind = "scan_found"
	EventScanMissed   EventKind = "scan_missed"
)

// Event is what the desktop shows the operator: connection changes and
// the outcome of every remote scan.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Barcode string          `json:"barcode,omitempty"`
	Product *domain.Product `json:"product,omitempty"`
	Peers   int             `json:"peers"`
}

const seenLimit = 256

// Host is the desktop side of the channel. It serves any number of
// connections, syncs the catalog to each, and feeds inbound scans into
// the session exactly like a local scan.
type Host struct {
	catalog func() []domain.Product
	scan    ScanFunc

	mu     sync.Mutex
	conns  map[int]Conn
	nextID int
	closed bool
	seen   map[string]struct{}
	order  []string

	listenersMu  sync.Mutex
	listeners    map[int]func(Event)
	nextListener int

	wg sync.WaitGroup
}

func NewHost(catalog func() []domain.Product, scan ScanFunc) *Host {
	return &Host{
		catalog:   catalog,
		scan:      scan,
		conns:     make(map[int]Conn),
		seen:      make(map[string]struct{}),
		listeners: make(map[int]func(Event)),
	}
}

// Attach serves a relay connection in the background.
func (h *Host) Attach(conn Conn) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.ServeRelay(conn); err != nil && !errors.Is(err, ErrClosed) {
			log.Printf("[pairing] relay connection ended: %v", err)
		}
	}()
}

// Serve handles one directly connected phone: the catalog snapshot is sent
// once, then inbound messages are handled until the connection fails or
// the host closes. The connection is closed on return.
func (h *Host) Serve(conn Conn) error {
	return h.serve(conn, false)
}

// ServeRelay handles the host's connection to a relay, where phones come
// and go behind one socket; each phone announcing itself gets a fresh
// snapshot.
func (h *Host) ServeRelay(conn Conn) error {
	return h.serve(conn, true)
}

func (h *Host) serve(conn Conn, relay bool) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	id := h.nextID
	h.nextID++
	h.conns[id] = conn
	peers := len(h.conns)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, id)
		peers := len(h.conns)
		h.mu.Unlock()
		_ = conn.Close()
		h.emit(Event{Kind: EventDisconnected, Peers: peers})
	}()

	h.emit(Event{Kind: EventConnected, Peers: peers})
	if err := h.sync(conn); err != nil {
		return err
	}

	for {
		msg, err := conn.Receive()
		if err != nil {
			if h.isClosed() {
				return ErrClosed
			}
			return err
		}
		if h.isClosed() {
			return ErrClosed
		}
		if h.duplicate(msg.ID) {
			continue
		}
		switch msg.Type {
		case domain.MsgScan, domain.MsgScanResult, domain.MsgReceiveBarcode:
			h.handleScan(msg.Barcode)
		case domain.MsgHello:
			if !relay {
				continue
			}
			if err := h.sync(conn); err != nil {
				return err
			}
		}
	}
}

func (h *Host) sync(conn Conn) error {
	var products []domain.Product
	if h.catalog != nil {
		products = h.catalog()
	}
	if products == nil {
		products = []domain.Product{}
	}
	return conn.Send(domain.PairingMessage{Type: domain.MsgSync, Products: products})
}

func (h *Host) handleScan(barcode string) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" || h.scan == nil {
		return
	}
	h.mu.Lock()
	peers := len(h.conns)
	h.mu.Unlock()

	product, err := h.scan(barcode)
	if err != nil {
		log.Printf("[pairing] scanned barcode not found barcode=%s: %v", barcode, err)
		h.emit(Event{Kind: EventScanMissed, Barcode: barcode, Peers: peers})
		return
	}
	h.emit(Event{Kind: EventScanFound, Barcode: barcode, Product: &product, Peers: peers})
}

// duplicate reports whether a message id was already handled. Messages
// without an id are never deduplicated.
func (h *Host) duplicate(id string) bool {
	if id == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[id]; ok {
		return true
	}
	h.seen[id] = struct{}{}
	h.order = append(h.order, id)
	if len(h.order) > seenLimit {
		delete(h.seen, h.order[0])
		h.order = h.order[1:]
	}
	return false
}

// RequestScan asks every connected phone to open its camera and returns
// how many connections the request was sent to.
func (h *Host) RequestScan(requester string) int {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range conns {
		if err := c.Send(domain.PairingMessage{Type: domain.MsgOpenCamera, Requester: requester}); err != nil {
			log.Printf("[pairing] WARN: failed to send camera request: %v", err)
			continue
		}
		sent++
	}
	return sent
}

func (h *Host) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Host) Online() bool {
	return h.Peers() > 0
}

// Subscribe registers an event listener and returns a function removing it.
func (h *Host) Subscribe(fn func(Event)) func() {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	id := h.nextListener
	h.nextListener++
	h.listeners[id] = fn
	return func() {
		h.listenersMu.Lock()
		defer h.listenersMu.Unlock()
		delete(h.listeners, id)
	}
}

// Close releases every connection; no inbound message is processed after
// it returns.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	h.wg.Wait()
	return nil
}

func (h *Host) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Host) emit(e Event) {
	h.listenersMu.Lock()
	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, h.listeners[id])
	}
	h.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(e)
	}
}
