package pairing

import (
	"context"
	"errors"
	"log"
	"sync"

	"elkhaled/pos/internal/domain"
)

// Broker fans relay messages out to every relay instance sharing it.
type Broker interface {
	Publish(ctx context.Context, msg domain.PairingMessage) error
	// Subscribe delivers published messages until cancel is called.
	Subscribe(ctx context.Context) (msgs <-chan domain.PairingMessage, cancel func(), err error)
}

// MemoryBroker is an in-process broker for a single relay instance.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[int]chan domain.PairingMessage
	next int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[int]chan domain.PairingMessage)}
}

// Publish never blocks: a subscriber that is not keeping up misses the
// message.
func (b *MemoryBroker) Publish(_ context.Context, msg domain.PairingMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context) (<-chan domain.PairingMessage, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan domain.PairingMessage, 64)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}, nil
}

// RelayServer accepts clients, desktops and phones alike, and broadcasts
// every message to all of them.
type RelayServer struct {
	broker Broker

	mu      sync.Mutex
	clients map[int]Conn
	next    int
	cancel  func()
	done    chan struct{}
}

func NewRelayServer(broker Broker) *RelayServer {
	if broker == nil {
		broker = NewMemoryBroker()
	}
	return &RelayServer{broker: broker, clients: make(map[int]Conn)}
}

// Start subscribes to the broker and begins fanning messages out.
func (r *RelayServer) Start(ctx context.Context) error {
	msgs, cancel, err := r.broker.Subscribe(ctx)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range msgs {
			r.broadcast(msg)
		}
	}()
	return nil
}

// Serve registers conn and publishes what it sends until it disconnects.
func (r *RelayServer) Serve(ctx context.Context, conn Conn) error {
	r.mu.Lock()
	id := r.next
	r.next++
	r.clients[id] = conn
	count := len(r.clients)
	r.mu.Unlock()
	log.Printf("[relay] client connected clients=%d", count)

	defer func() {
		r.mu.Lock()
		delete(r.clients, id)
		count := len(r.clients)
		r.mu.Unlock()
		_ = conn.Close()
		log.Printf("[relay] client disconnected clients=%d", count)
	}()

	for {
		msg, err := conn.Receive()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		out, ok := relayed(msg)
		if !ok {
			continue
		}
		if err := r.broker.Publish(ctx, out); err != nil {
			log.Printf("[relay] WARN: publish failed type=%s: %v", out.Type, err)
		}
	}
}

// relayed maps an inbound message to what the relay broadcasts: a
// desktop's scan request opens every phone's camera and a phone's scan
// result reaches every desktop as a received barcode.
func relayed(msg domain.PairingMessage) (domain.PairingMessage, bool) {
	switch msg.Type {
	case domain.MsgRequestScan:
		msg.Type = domain.MsgOpenCamera
	case domain.MsgScanResult, domain.MsgScan:
		msg.Type = domain.MsgReceiveBarcode
	case domain.MsgOpenCamera, domain.MsgSync, domain.MsgHello:
	default:
		return msg, false
	}
	return msg, true
}

func (r *RelayServer) broadcast(msg domain.PairingMessage) {
	r.mu.Lock()
	clients := make([]Conn, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		if err := c.Send(msg); err != nil {
			log.Printf("[relay] WARN: send failed type=%s: %v", msg.Type, err)
		}
	}
}

func (r *RelayServer) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Close stops the fan-out and disconnects every client.
func (r *RelayServer) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	clients := make([]Conn, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, c := range clients {
		_ = c.Close()
	}
	return nil
}
