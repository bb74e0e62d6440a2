package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
)

// SessionSource is the state container whose UI-state document is cached.
type SessionSource interface {
	Session() domain.Session
	RestoreSession(session domain.Session)
	Subscribe(fn store.Listener) func()
}

var sessionCollections = []store.Collection{
	store.Settings,
	store.DiscountCodes,
	store.Offers,
	store.SystemSetup,
	store.CurrentUser,
	store.Users,
	store.Notifications,
	store.Cart,
}

// Bind restores the cached session into src and keeps the cache current
// after every change to a session collection. Saves run on their own
// goroutine, one at a time, and changes made while a save is running are
// folded into the next one. The returned function stops the binding after
// writing any pending change.
func Bind(ctx context.Context, src SessionSource, c SessionCache) func() {
	if session, ok, err := c.Load(ctx); err != nil {
		log.Printf("[session] WARN: failed to load cached session: %v", err)
	} else if ok {
		src.RestoreSession(*session)
	}

	dirty := make(chan struct{}, 1)
	quit := make(chan struct{})
	done := make(chan struct{})

	save := func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.Save(saveCtx, src.Session()); err != nil {
			log.Printf("[session] WARN: failed to save session: %v", err)
		}
	}

	go func() {
		defer close(done)
		for {
			select {
			case <-dirty:
				save()
			case <-quit:
				select {
				case <-dirty:
					save()
				default:
				}
				return
			}
		}
	}()

	unsubscribe := src.Subscribe(func(change store.Change) {
		for _, col := range sessionCollections {
			if change.Has(col) {
				select {
				case dirty <- struct{}{}:
				default:
				}
				return
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			close(quit)
			<-done
		})
	}
}
