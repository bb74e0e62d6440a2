package mirror

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"elkhaled/pos/internal/docstore"
	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
)

const DefaultDelay = 2 * time.Second

// StateNotifier is implemented by document stores that announce
// connection changes.
type StateNotifier interface {
	Subscribe(fn func(docstore.State)) func()
}

// Scheduler debounces change events into batched document writes. A
// collection changed while a flush is writing is picked up by the next
// cycle; a document whose write failed stays pending and is retried with
// the next cycle.
type Scheduler struct {
	state Snapshotter
	docs  Writer
	delay time.Duration
	now   func() time.Time

	mu           sync.Mutex
	pending      map[store.Collection]struct{}
	timer        *time.Timer
	stopped      bool
	lastSavedAt  *time.Time
	lastFailedAt *time.Time
	failures     map[string]string

	// writing serializes flushes so an older snapshot never lands after a
	// newer one.
	writing     sync.Mutex
	flushing    sync.WaitGroup
	unsubscribe func()
	unwatch     func()
}

func NewScheduler(state Snapshotter, docs Writer, delay time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler{
		state:    state,
		docs:     docs,
		delay:    delay,
		now:      func() time.Time { return time.Now().UTC() },
		pending:  make(map[store.Collection]struct{}),
		failures: make(map[string]string),
	}
}

// Start subscribes to the store's change feed and, when the document
// store announces them, to its connection changes.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.stopped = false
	s.unsubscribe = s.state.Subscribe(s.observe)
	if n, ok := s.docs.(StateNotifier); ok {
		s.unwatch = n.Subscribe(s.storageChanged)
	}
}

// Stop unsubscribes, cancels the armed timer and waits for a running
// flush. Pending changes are not written; call Flush first to keep them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancelTimerLocked()
	unsubscribe, unwatch := s.unsubscribe, s.unwatch
	s.unsubscribe, s.unwatch = nil, nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if unwatch != nil {
		unwatch()
	}
	s.flushing.Wait()
}

// storageChanged drops the pending work of a directory that went away.
// The next connect imports or seeds the full document set.
func (s *Scheduler) storageChanged(state docstore.State) {
	if state == docstore.StateConnected {
		return
	}
	s.mu.Lock()
	s.cancelTimerLocked()
	dropped := len(s.pending)
	clear(s.pending)
	clear(s.failures)
	s.mu.Unlock()

	if dropped > 0 {
		log.Printf("[autosave] storage %s, dropped %d pending documents", state, dropped)
	}
}

func (s *Scheduler) observe(change store.Change) {
	if !s.docs.Connected() {
		return
	}
	marked := false
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for _, c := range change.Collections {
		if c.IsDocument() {
			s.pending[c] = struct{}{}
			marked = true
		}
	}
	if !marked {
		return
	}
	s.cancelTimerLocked()
	s.flushing.Add(1)
	s.timer = time.AfterFunc(s.delay, func() {
		defer s.flushing.Done()
		_ = s.flush(context.Background())
	})
}

// cancelTimerLocked disarms the timer. A timer stopped before firing never
// runs its func, so its wait group slot is released here.
func (s *Scheduler) cancelTimerLocked() {
	if s.timer != nil && s.timer.Stop() {
		s.flushing.Done()
	}
	s.timer = nil
}

// Flush writes every pending document now.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.cancelTimerLocked()
	s.mu.Unlock()
	return s.flush(ctx)
}

func (s *Scheduler) flush(ctx context.Context) error {
	s.writing.Lock()
	defer s.writing.Unlock()

	s.mu.Lock()
	batch := make([]store.Collection, 0, len(s.pending))
	for c := range s.pending {
		batch = append(batch, c)
	}
	clear(s.pending)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i] < batch[j] })

	docs := make(map[string]any, len(batch))
	byName := make(map[string]store.Collection, len(batch))
	for _, c := range batch {
		data, ok := s.state.Snapshot(c)
		if !ok {
			continue
		}
		name := DocumentName(c)
		docs[name] = data
		byName[name] = c
	}
	failed := s.docs.WriteDocuments(ctx, docs)
	connected := s.docs.Connected()
	at := s.now()

	s.mu.Lock()
	for name := range docs {
		err, bad := failed[name]
		if !bad {
			delete(s.failures, name)
			continue
		}
		if connected {
			s.failures[name] = err.Error()
			s.pending[byName[name]] = struct{}{}
		}
	}
	if len(failed) > 0 {
		s.lastFailedAt = &at
	}
	if len(failed) < len(docs) {
		s.lastSavedAt = &at
	}
	s.mu.Unlock()

	if len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for name, err := range failed {
			names = append(names, name)
			log.Printf("[autosave] WARN: failed to write %s: %v", name, err)
		}
		sort.Strings(names)
		log.Printf("[autosave] %d of %d documents failed, retrying with the next change: %s", len(failed), len(docs), strings.Join(names, ", "))
		return joinFailures(failed)
	}
	log.Printf("[autosave] saved %d documents", len(docs))
	return nil
}

// Status reports the last outcome of the autosave loop.
func (s *Scheduler) Status() domain.StorageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := domain.StorageStatus{
		LastSavedAt:  s.lastSavedAt,
		LastFailedAt: s.lastFailedAt,
	}
	if len(s.failures) > 0 {
		status.Failures = make(map[string]string, len(s.failures))
		for name, msg := range s.failures {
			status.Failures[name] = msg
		}
	}
	for c := range s.pending {
		status.Pending = append(status.Pending, DocumentName(c))
	}
	sort.Strings(status.Pending)
	return status
}
