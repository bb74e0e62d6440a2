package store

import (
	"errors"
	"slices"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Collection names a logical table of the application state.
type Collection string

const (
	Products      Collection = "products"
	Customers     Collection = "customers"
	Suppliers     Collection = "suppliers"
	Users         Collection = "users"
	Settings      Collection = "settings"
	Orders        Collection = "orders"
	DiscountCodes Collection = "discountCodes"
	Offers        Collection = "offers"
	Expenses      Collection = "expenses"
	Units         Collection = "units"

	Cart          Collection = "cart"
	Notifications Collection = "notifications"
	CurrentUser   Collection = "currentUser"
	SystemSetup   Collection = "isSystemSetup"
)

// Documents lists the collections mirrored to named documents, in the order
// they are written on a full save.
var Documents = []Collection{
	Products,
	Customers,
	Suppliers,
	Users,
	Settings,
	Orders,
	DiscountCodes,
	Offers,
	Expenses,
	Units,
}

// IsDocument reports whether the collection is mirrored to the file store.
func (c Collection) IsDocument() bool {
	return slices.Contains(Documents, c)
}

// Change is emitted once per completed mutation and names every collection
// the mutation touched.
type Change struct {
	Collections []Collection
}

func (c Change) Has(collection Collection) bool {
	return slices.Contains(c.Collections, collection)
}

type Listener func(Change)
