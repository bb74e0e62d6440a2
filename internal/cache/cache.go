// Package cache keeps the local UI-state document so a restarted session
// resumes with its cart, active user and settings before the data
// directory is reconnected.
package cache

import (
	"context"

	"elkhaled/pos/internal/domain"
)

// SessionKey is the entry the UI-state document is stored under.
const SessionKey = "pos-store"

type SessionCache interface {
	Load(ctx context.Context) (*domain.Session, bool, error)
	Save(ctx context.Context, session domain.Session) error
}

type NoopSessionCache struct{}

func (NoopSessionCache) Load(_ context.Context) (*domain.Session, bool, error) {
	return nil, false, nil
}

func (NoopSessionCache) Save(_ context.Context, _ domain.Session) error {
	return nil
}
