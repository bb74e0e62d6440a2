package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/kv"
	"elkhaled/pos/internal/store/memory"
)

func openEntries(t *testing.T) *kv.Store {
	t.Helper()
	s, err := kv.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNoopSessionCache(t *testing.T) {
	var c SessionCache = NoopSessionCache{}
	_, ok, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Save(context.Background(), domain.Session{}))
}

func TestKVSessionCacheDiscardsCorruptDocument(t *testing.T) {
	ctx := context.Background()
	entries := openEntries(t)
	require.NoError(t, entries.Put(ctx, SessionKey, []byte("{broken")))

	_, ok, err := NewKVSessionCache(entries).Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBindResumesSession(t *testing.T) {
	ctx := context.Background()
	c := NewKVSessionCache(openEntries(t))

	first := memory.New()
	stop := Bind(ctx, first, c)
	_, ok := first.Login("admin", "123")
	require.True(t, ok)
	first.AddToCart(domain.Product{ID: "p1", Name: "Tea", Price: decimal.NewFromInt(10), Stock: 4})
	first.AddToCart(domain.Product{ID: "p1", Name: "Tea", Price: decimal.NewFromInt(10), Stock: 4})
	stop()

	// Changes after stop are not cached.
	first.ClearCart()

	second := memory.New()
	Bind(ctx, second, c)

	user, ok := second.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "admin", user.Username)
	cart := second.Cart()
	require.Len(t, cart, 1)
	assert.Equal(t, 2, cart[0].Quantity)
}

func TestBindIgnoresDocumentOnlyChanges(t *testing.T) {
	ctx := context.Background()
	saves := &countingCache{}
	s := memory.New()

	stop := Bind(ctx, s, saves)
	_, err := s.AddProduct(domain.Product{Name: "Rice", Price: decimal.NewFromInt(30), Stock: 100})
	require.NoError(t, err)
	stop()
	assert.Equal(t, 0, saves.count())

	stop = Bind(ctx, s, saves)
	s.AddToCart(domain.Product{ID: "p1", Price: decimal.NewFromInt(1)})
	stop()
	assert.Equal(t, 1, saves.count())
}

func TestBindSavesOffTheMutationPath(t *testing.T) {
	ctx := context.Background()
	slow := &slowCache{started: make(chan struct{}), release: make(chan struct{})}
	s := memory.New()
	stop := Bind(ctx, s, slow)

	tea := domain.Product{ID: "p1", Name: "Tea", Price: decimal.NewFromInt(10), Stock: 10}
	s.AddToCart(tea)
	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("session save never started")
	}

	added := make(chan struct{})
	go func() {
		s.AddToCart(tea)
		s.AddToCart(tea)
		close(added)
	}()
	select {
	case <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("cart changes waited on the session cache")
	}

	close(slow.release)
	stop()

	sessions := slow.saved()
	require.Len(t, sessions, 2)
	last := sessions[len(sessions)-1]
	require.Len(t, last.Cart, 1)
	assert.Equal(t, 3, last.Cart[0].Quantity)
}

type countingCache struct {
	NoopSessionCache
	mu    sync.Mutex
	saved int
}

func (c *countingCache) Save(context.Context, domain.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved++
	return nil
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved
}

type slowCache struct {
	NoopSessionCache
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu       sync.Mutex
	sessions []domain.Session
}

func (c *slowCache) Save(_ context.Context, session domain.Session) error {
	c.mu.Lock()
	c.sessions = append(c.sessions, session)
	c.mu.Unlock()
	c.once.Do(func() { close(c.started) })
	<-c.release
	return nil
}

func (c *slowCache) saved() []domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Session(nil), c.sessions...)
}
