// Package mirror moves the application state between the in-memory store
// and the document store: boot hydration, full saves, first-connect import
// and the debounced autosave.
package mirror

import (
	"context"
	"errors"
	"log"
	"sort"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/reconcile"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/store/memory"
)

// Snapshotter exposes the persisted shape of each collection and the
// change feed.
type Snapshotter interface {
	Snapshot(collection store.Collection) (any, bool)
	Subscribe(fn store.Listener) func()
}

type State interface {
	Snapshotter
	Hydrate(h memory.Hydration)
}

// Writer is the write side of the document store.
type Writer interface {
	Connected() bool
	WriteDocuments(ctx context.Context, docs map[string]any) map[string]error
}

type Documents interface {
	Writer
	ReadDocument(ctx context.Context, name string) ([]byte, bool, error)
	ListExistingDocuments(ctx context.Context) ([]string, error)
}

// DocumentName maps a collection to its document. Orders keep the
// historical invoices.json name.
func DocumentName(c store.Collection) string {
	if c == store.Orders {
		return "invoices.json"
	}
	return string(c) + ".json"
}

type Mirror struct {
	state State
	docs  Documents
}

func New(state State, docs Documents) *Mirror {
	return &Mirror{state: state, docs: docs}
}

// Load reads every present document through the reconciler and hydrates
// the store with it. Absent documents leave their collection untouched;
// unreadable ones load as empty. It returns the names it loaded.
func (m *Mirror) Load(ctx context.Context) ([]string, error) {
	bodies := make(map[store.Collection][]byte, len(store.Documents))
	var loaded []string
	for _, c := range store.Documents {
		name := DocumentName(c)
		body, found, err := m.docs.ReadDocument(ctx, name)
		if err != nil {
			return loaded, err
		}
		if !found {
			continue
		}
		bodies[c] = body
		loaded = append(loaded, name)
	}
	if len(bodies) == 0 {
		return nil, nil
	}
	m.state.Hydrate(Hydration(bodies))
	log.Printf("[mirror] loaded %d documents", len(loaded))
	return loaded, nil
}

// Hydration reconciles raw document bodies keyed by collection.
func Hydration(bodies map[store.Collection][]byte) memory.Hydration {
	var h memory.Hydration
	for c, body := range bodies {
		raw := reconcile.Decode(body)
		switch c {
		case store.Products:
			h.Products = reconcile.Products(raw)
		case store.Customers:
			h.Customers = reconcile.Customers(raw)
		case store.Suppliers:
			h.Suppliers = reconcile.Suppliers(raw)
		case store.Orders:
			h.Orders = reconcile.Orders(raw)
		case store.Users:
			h.Users = reconcile.Users(raw)
		case store.DiscountCodes:
			h.DiscountCodes = reconcile.DiscountCodes(raw)
		case store.Offers:
			h.Offers = reconcile.Offers(raw)
		case store.Expenses:
			h.Expenses = reconcile.Expenses(raw)
		case store.Units:
			h.Units = reconcile.Units(raw)
		case store.Settings:
			settings := reconcile.Settings(raw, domain.DefaultSettings())
			h.Settings = &settings
		}
	}
	return h
}

// SaveAll writes every document collection.
func (m *Mirror) SaveAll(ctx context.Context) error {
	return writeCollections(ctx, m.state, m.docs, store.Documents)
}

// Connect runs after a data directory is chosen: existing documents are
// imported, an empty directory is seeded with the current state.
func (m *Mirror) Connect(ctx context.Context) (imported bool, err error) {
	existing, err := m.docs.ListExistingDocuments(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		log.Printf("[mirror] found %d data files, importing", len(existing))
		if _, err := m.Load(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	log.Printf("[mirror] empty data directory, seeding")
	return false, m.SaveAll(ctx)
}

func writeCollections(ctx context.Context, state Snapshotter, w Writer, collections []store.Collection) error {
	docs := make(map[string]any, len(collections))
	for _, c := range collections {
		if data, ok := state.Snapshot(c); ok {
			docs[DocumentName(c)] = data
		}
	}
	return joinFailures(w.WriteDocuments(ctx, docs))
}

func joinFailures(failed map[string]error) error {
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, failed[name])
	}
	return errors.Join(errs...)
}
