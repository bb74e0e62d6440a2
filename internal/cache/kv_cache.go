package cache

import (
	"context"
	"encoding/json"
	"log"

	"elkhaled/pos/internal/domain"
)

// Entries is the subset of the local key-value database the cache needs.
type Entries interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

type KVSessionCache struct {
	entries Entries
}

func NewKVSessionCache(entries Entries) *KVSessionCache {
	return &KVSessionCache{entries: entries}
}

// Load treats an unreadable document as absent; the next save replaces it.
func (c *KVSessionCache) Load(ctx context.Context) (*domain.Session, bool, error) {
	raw, ok, err := c.entries.Get(ctx, SessionKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		log.Printf("[session] WARN: discarding unreadable session document: %v", err)
		return nil, false, nil
	}
	return &session, true, nil
}

func (c *KVSessionCache) Save(ctx context.Context, session domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.entries.Put(ctx, SessionKey, payload)
}
