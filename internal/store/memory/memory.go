package memory

import (
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/xid"
)

// Store is the single in-memory source of truth for one device. Every
// mutation runs to completion under the lock and then notifies subscribers
// with the collections it touched.
type Store struct {
	mu            sync.RWMutex
	products      []domain.Product
	customers     []domain.Customer
	suppliers     []domain.Supplier
	orders        []domain.Order
	users         []domain.User
	discountCodes []domain.DiscountCode
	offers        []domain.Offer
	expenses      []domain.Expense
	units         []domain.Unit
	settings      domain.Settings
	notifications []domain.Notification
	cart          []domain.CartItem
	currentUser   *domain.User
	systemSetup   bool
	auditLog      []domain.AuditEntry

	listenersMu  sync.Mutex
	listeners    map[int]store.Listener
	nextListener int

	now func() time.Time
}

type Option func(*Store)

// WithClock replaces the wall clock used for order, ledger and notification dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithUsers replaces the seeded administrator account.
func WithUsers(users []domain.User) Option {
	return func(s *Store) {
		s.users = make([]domain.User, 0, len(users))
		for _, u := range users {
			s.users = append(s.users, cloneUser(u))
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		products:      []domain.Product{},
		customers:     []domain.Customer{},
		suppliers:     []domain.Supplier{},
		orders:        []domain.Order{},
		discountCodes: []domain.DiscountCode{},
		offers:        []domain.Offer{},
		expenses:      []domain.Expense{},
		units:         []domain.Unit{},
		settings:      domain.DefaultSettings(),
		notifications: []domain.Notification{},
		cart:          []domain.CartItem{},
		listeners:     make(map[int]store.Listener),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.users == nil {
		s.users = seedUsers()
	}
	return s
}

// seedUsers builds the administrator account a fresh installation starts
// with. The password comes from SEED_ADMIN_PASSWORD when set.
func seedUsers() []domain.User {
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "123"
		log.Println("[memory-store] WARNING: using default admin credentials. Set SEED_ADMIN_PASSWORD to override.")
	}
	hash, err := hashPassword(password)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	return []domain.User{{
		ID:          "1",
		Username:    "admin",
		Password:    hash,
		Name:        "Administrator",
		Role:        domain.RoleAdmin,
		Permissions: domain.AllPermissionIDs(),
	}}
}

// Subscribe registers a listener for change events and returns a function
// that removes it.
func (s *Store) Subscribe(fn store.Listener) func() {
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

// update runs fn under the write lock and emits one change event naming the
// collections fn reports as touched.
func (s *Store) update(fn func() []store.Collection) {
	s.mu.Lock()
	touched := fn()
	s.mu.Unlock()
	s.emit(touched)
}

func (s *Store) emit(collections []store.Collection) {
	if len(collections) == 0 {
		return
	}
	s.listenersMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]store.Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.Unlock()

	change := store.Change{Collections: dedupe(collections)}
	for _, fn := range listeners {
		fn(change)
	}
}

// Hydration carries collections loaded from durable documents. A nil field
// leaves the corresponding collection untouched.
type Hydration struct {
	Products      []domain.Product
	Customers     []domain.Customer
	Suppliers     []domain.Supplier
	Orders        []domain.Order
	Users         []domain.User
	DiscountCodes []domain.DiscountCode
	Offers        []domain.Offer
	Expenses      []domain.Expense
	Units         []domain.Unit
	Settings      *domain.Settings
}

// Hydrate replaces every provided collection. Loading settings marks the
// system as set up.
func (s *Store) Hydrate(h Hydration) {
	s.update(func() []store.Collection {
		var touched []store.Collection
		if h.Products != nil {
			s.products = cloneSlice(h.Products, cloneProduct)
			touched = append(touched, store.Products)
		}
		if h.Customers != nil {
			s.customers = cloneSlice(h.Customers, cloneCustomer)
			touched = append(touched, store.Customers)
		}
		if h.Suppliers != nil {
			s.suppliers = cloneSlice(h.Suppliers, cloneSupplier)
			touched = append(touched, store.Suppliers)
		}
		if h.Orders != nil {
			s.orders = cloneSlice(h.Orders, cloneOrder)
			touched = append(touched, store.Orders)
		}
		if len(h.Users) > 0 {
			s.users = cloneSlice(h.Users, cloneUser)
			touched = append(touched, store.Users)
		}
		if h.DiscountCodes != nil {
			s.discountCodes = cloneSlice(h.DiscountCodes, cloneDiscountCode)
			touched = append(touched, store.DiscountCodes)
		}
		if h.Offers != nil {
			s.offers = cloneSlice(h.Offers, cloneOffer)
			touched = append(touched, store.Offers)
		}
		if h.Expenses != nil {
			s.expenses = slices.Clone(h.Expenses)
			touched = append(touched, store.Expenses)
		}
		if h.Units != nil {
			s.units = slices.Clone(h.Units)
			touched = append(touched, store.Units)
		}
		if h.Settings != nil {
			s.settings = *h.Settings
			s.systemSetup = true
			touched = append(touched, store.Settings, store.SystemSetup)
		}
		return touched
	})
}

// Session returns the local UI-state document used to resume a session
// before the document mirror is reconnected.
func (s *Store) Session() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *domain.User
	if s.currentUser != nil {
		u := cloneUser(*s.currentUser)
		current = &u
	}
	return domain.Session{
		Settings:      s.settings,
		DiscountCodes: cloneSlice(s.discountCodes, cloneDiscountCode),
		Offers:        cloneSlice(s.offers, cloneOffer),
		IsSystemSetup: s.systemSetup,
		CurrentUser:   current,
		Users:         cloneSlice(s.users, cloneUser),
		Notifications: slices.Clone(s.notifications),
		Cart:          slices.Clone(s.cart),
	}
}

func (s *Store) RestoreSession(sess domain.Session) {
	s.update(func() []store.Collection {
		touched := []store.Collection{store.Settings, store.SystemSetup, store.CurrentUser, store.Notifications, store.Cart}
		s.settings = sess.Settings
		s.systemSetup = sess.IsSystemSetup
		if sess.DiscountCodes != nil {
			s.discountCodes = cloneSlice(sess.DiscountCodes, cloneDiscountCode)
			touched = append(touched, store.DiscountCodes)
		}
		if sess.Offers != nil {
			s.offers = cloneSlice(sess.Offers, cloneOffer)
			touched = append(touched, store.Offers)
		}
		if len(sess.Users) > 0 {
			s.users = cloneSlice(sess.Users, cloneUser)
			touched = append(touched, store.Users)
		}
		s.currentUser = nil
		if sess.CurrentUser != nil {
			if idx := s.userIndexLocked(sess.CurrentUser.ID); idx >= 0 {
				u := cloneUser(s.users[idx])
				s.currentUser = &u
			}
		}
		s.notifications = nonNil(slices.Clone(sess.Notifications))
		s.cart = nonNil(slices.Clone(sess.Cart))
		return touched
	})
}

// Snapshot returns a copy of a document collection in its persisted shape.
func (s *Store) Snapshot(collection store.Collection) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch collection {
	case store.Products:
		return cloneSlice(s.products, cloneProduct), true
	case store.Customers:
		return cloneSlice(s.customers, cloneCustomer), true
	case store.Suppliers:
		return cloneSlice(s.suppliers, cloneSupplier), true
	case store.Orders:
		return cloneSlice(s.orders, cloneOrder), true
	case store.Users:
		return cloneSlice(s.users, cloneUser), true
	case store.DiscountCodes:
		return cloneSlice(s.discountCodes, cloneDiscountCode), true
	case store.Offers:
		return cloneSlice(s.offers, cloneOffer), true
	case store.Expenses:
		return slices.Clone(s.expenses), true
	case store.Units:
		return slices.Clone(s.units), true
	case store.Settings:
		return s.settings, true
	}
	return nil, false
}

func (s *Store) AuditLog() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.auditLog)
}

// RecordAudit appends an entry to the in-memory audit trail. The trail is
// not a mirrored collection, so no change event is emitted.
func (s *Store) RecordAudit(entry domain.AuditEntry) domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditLog = append(s.auditLog, entry)
	return entry
}

// Now is the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}

func dedupe(collections []store.Collection) []store.Collection {
	out := make([]store.Collection, 0, len(collections))
	for _, c := range collections {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

func cloneSlice[T any](src []T, clone func(T) T) []T {
	out := make([]T, 0, len(src))
	for _, v := range src {
		out = append(out, clone(v))
	}
	return out
}

func nonNil[T any](src []T) []T {
	if src == nil {
		return []T{}
	}
	return src
}

func cloneProduct(p domain.Product) domain.Product {
	return p
}

func cloneCustomer(c domain.Customer) domain.Customer {
	c.Transactions = nonNil(slices.Clone(c.Transactions))
	if c.NextPaymentDate != nil {
		d := *c.NextPaymentDate
		c.NextPaymentDate = &d
	}
	return c
}

func cloneSupplier(s domain.Supplier) domain.Supplier {
	s.Transactions = nonNil(slices.Clone(s.Transactions))
	return s
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = nonNil(slices.Clone(o.Items))
	return o
}

func cloneUser(u domain.User) domain.User {
	u.Permissions = nonNil(slices.Clone(u.Permissions))
	return u
}

func cloneDiscountCode(c domain.DiscountCode) domain.DiscountCode {
	c.StartDate = cloneTime(c.StartDate)
	c.EndDate = cloneTime(c.EndDate)
	return c
}

func cloneOffer(o domain.Offer) domain.Offer {
	o.TargetProductIDs = nonNil(slices.Clone(o.TargetProductIDs))
	o.StartDate = cloneTime(o.StartDate)
	o.EndDate = cloneTime(o.EndDate)
	return o
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
