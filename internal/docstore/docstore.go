// Package docstore mirrors the application's collections to named JSON
// documents inside a capability the operator granted once: a local
// directory or a PostgreSQL documents table.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNotConnected     = errors.New("no data directory connected")
	ErrCancelled        = errors.New("directory selection cancelled")
	ErrPermissionDenied = errors.New("directory permission denied")
	ErrUnknownKind      = errors.New("unknown capability kind")
)

// KnownDocuments are the document names written by a full save.
var KnownDocuments = []string{
	"products.json",
	"customers.json",
	"suppliers.json",
	"users.json",
	"settings.json",
	"invoices.json",
	"discountCodes.json",
	"offers.json",
	"expenses.json",
	"units.json",
}

type Kind string

const (
	KindDirectory Kind = "directory"
	KindPostgres  Kind = "postgres"
)

// Handle is the serializable reference to a granted capability. It is
// persisted so the next boot can reopen it without prompting.
type Handle struct {
	Kind     Kind   `json:"kind"`
	Location string `json:"location"`
	Name     string `json:"name"`
}

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionPrompt  Permission = "prompt"
	PermissionDenied  Permission = "denied"
)

type State string

const (
	StateDisconnected     State = "disconnected"
	StateConnected        State = "connected"
	StatePermissionNeeded State = "permission_needed"
)

// Directory is an opened capability. ReadFile reports a missing document
// with an error matching os.ErrNotExist.
type Directory interface {
	Name() string
	QueryPermission(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
	ReadFile(ctx context.Context, name string) ([]byte, error)
	WriteFile(ctx context.Context, name string, data []byte) error
	Exists(ctx context.Context, name string) (bool, error)
}

// Opener turns a persisted handle back into a usable directory.
type Opener func(ctx context.Context, handle Handle) (Directory, error)

// Picker asks the operator to choose a capability. Dismissal returns
// ErrCancelled.
type Picker interface {
	Pick(ctx context.Context) (Handle, error)
}

// HandleStore persists the granted handle across restarts.
type HandleStore interface {
	LoadHandle(ctx context.Context) (Handle, bool, error)
	SaveHandle(ctx context.Context, handle Handle) error
	ClearHandle(ctx context.Context) error
}

type Store struct {
	handles HandleStore
	picker  Picker
	openers map[Kind]Opener

	mu     sync.RWMutex
	state  State
	handle *Handle
	dir    Directory

	listenersMu  sync.Mutex
	listeners    map[int]func(State)
	nextListener int
}

func New(handles HandleStore, picker Picker, openers map[Kind]Opener) *Store {
	return &Store{
		handles:   handles,
		picker:    picker,
		openers:   openers,
		state:     StateDisconnected,
		listeners: make(map[int]func(State)),
	}
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) Connected() bool {
	return s.State() == StateConnected
}

// Handle returns the handle of the connected (or permission-pending)
// capability.
func (s *Store) Handle() (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.handle == nil {
		return Handle{}, false
	}
	return *s.handle, true
}

// Subscribe registers a state listener and returns a function removing it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// SelectDirectory prompts for a capability and connects to it. A cancelled
// or denied prompt leaves the current state untouched.
func (s *Store) SelectDirectory(ctx context.Context) error {
	if s.picker == nil {
		return ErrCancelled
	}
	handle, err := s.picker.Pick(ctx)
	if err != nil {
		return err
	}
	return s.Attach(ctx, handle)
}

// Attach opens a known handle, obtains permission and connects.
func (s *Store) Attach(ctx context.Context, handle Handle) error {
	dir, err := s.open(ctx, handle)
	if err != nil {
		return err
	}
	perm, err := dir.QueryPermission(ctx)
	if err != nil {
		return fmt.Errorf("query permission: %w", err)
	}
	if perm == PermissionPrompt {
		if perm, err = dir.RequestPermission(ctx); err != nil {
			return fmt.Errorf("request permission: %w", err)
		}
	}
	if perm != PermissionGranted {
		return ErrPermissionDenied
	}
	if s.handles != nil {
		if err := s.handles.SaveHandle(ctx, handle); err != nil {
			log.Printf("[docstore] WARN: failed to persist handle name=%s: %v", handle.Name, err)
		}
	}
	s.setState(StateConnected, &handle, dir)
	log.Printf("[docstore] connected kind=%s name=%s", handle.Kind, dir.Name())
	return nil
}

// RestoreCapability reopens the persisted handle at boot. It never fails:
// without a handle it reports false, and a grant that cannot be renewed
// leaves the store waiting for the operator to reconnect.
func (s *Store) RestoreCapability(ctx context.Context) bool {
	if s.handles == nil {
		return false
	}
	handle, ok, err := s.handles.LoadHandle(ctx)
	if err != nil {
		log.Printf("[docstore] WARN: failed to load persisted handle: %v", err)
		return false
	}
	if !ok {
		return false
	}
	dir, err := s.open(ctx, handle)
	if err != nil {
		log.Printf("[docstore] WARN: failed to reopen name=%s: %v", handle.Name, err)
		s.setState(StateDisconnected, nil, nil)
		return false
	}

	perm, err := dir.QueryPermission(ctx)
	if err == nil && perm == PermissionPrompt {
		perm, err = dir.RequestPermission(ctx)
	}
	if err != nil || perm != PermissionGranted {
		if err != nil {
			log.Printf("[docstore] WARN: permission check failed name=%s: %v", handle.Name, err)
		}
		s.setState(StatePermissionNeeded, &handle, nil)
		return false
	}
	s.setState(StateConnected, &handle, dir)
	return true
}

// Reconnect asks again for the permission of a handle whose grant lapsed.
func (s *Store) Reconnect(ctx context.Context) error {
	handle, ok := s.Handle()
	if !ok {
		return ErrNotConnected
	}
	return s.Attach(ctx, handle)
}

// Disconnect forgets the capability, including the persisted handle.
func (s *Store) Disconnect(ctx context.Context) error {
	s.setState(StateDisconnected, nil, nil)
	if s.handles == nil {
		return nil
	}
	return s.handles.ClearHandle(ctx)
}

// WriteDocument overwrites one document with pretty-printed JSON.
func (s *Store) WriteDocument(ctx context.Context, name string, data any) error {
	dir, err := s.directory()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := dir.WriteFile(ctx, name, body); err != nil {
		if errors.Is(err, os.ErrPermission) {
			s.revoke()
		}
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// WriteDocuments writes every document in parallel. Writes are independent:
// the returned map holds the error of each document that failed.
func (s *Store) WriteDocuments(ctx context.Context, docs map[string]any) map[string]error {
	var (
		mu     sync.Mutex
		failed = map[string]error{}
		g      errgroup.Group
	)
	for name, data := range docs {
		g.Go(func() error {
			if err := s.WriteDocument(ctx, name, data); err != nil {
				mu.Lock()
				failed[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// ReadDocument returns the raw body of a document. A missing document is
// reported with found=false and no error.
func (s *Store) ReadDocument(ctx context.Context, name string) ([]byte, bool, error) {
	dir, err := s.directory()
	if err != nil {
		return nil, false, err
	}
	data, err := dir.ReadFile(ctx, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", name, err)
	}
	return data, true, nil
}

// ListExistingDocuments probes for every known document without reading it.
func (s *Store) ListExistingDocuments(ctx context.Context) ([]string, error) {
	dir, err := s.directory()
	if err != nil {
		return nil, err
	}
	existing := make([]string, 0, len(KnownDocuments))
	for _, name := range KnownDocuments {
		ok, err := dir.Exists(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", name, err)
		}
		if ok {
			existing = append(existing, name)
		}
	}
	return existing, nil
}

func (s *Store) open(ctx context.Context, handle Handle) (Directory, error) {
	opener, ok := s.openers[handle.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, handle.Kind)
	}
	return opener(ctx, handle)
}

func (s *Store) directory() (Directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected || s.dir == nil {
		return nil, ErrNotConnected
	}
	return s.dir, nil
}

// revoke drops a grant the platform withdrew mid-session. The handle is
// kept so Reconnect can ask again.
func (s *Store) revoke() {
	s.mu.RLock()
	handle := s.handle
	s.mu.RUnlock()
	if handle == nil {
		return
	}
	log.Printf("[docstore] WARN: permission revoked name=%s", handle.Name)
	s.setState(StatePermissionNeeded, handle, nil)
}

func (s *Store) setState(state State, handle *Handle, dir Directory) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.handle = handle
	s.dir = dir
	s.mu.Unlock()
	if !changed {
		return
	}

	s.listenersMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(State), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
