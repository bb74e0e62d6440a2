package memory

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/xid"
)

var hundred = decimal.NewFromInt(100)

func (s *Store) Cart() []domain.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.cart)
}

// AddToCart increments the quantity of an existing line for the same
// product, or appends a new line with quantity 1. The item is a copy, so a
// price set by an offer never reaches the catalog.
func (s *Store) AddToCart(product domain.Product) {
	s.update(func() []store.Collection {
		for i := range s.cart {
			if s.cart[i].ID == product.ID {
				s.cart[i].Quantity++
				return []store.Collection{store.Cart}
			}
		}
		s.cart = append(s.cart, domain.CartItem{Product: product, Quantity: 1})
		return []store.Collection{store.Cart}
	})
}

func (s *Store) RemoveFromCart(productID string) {
	s.update(func() []store.Collection {
		before := len(s.cart)
		s.cart = slices.DeleteFunc(s.cart, func(i domain.CartItem) bool { return i.ID == productID })
		if len(s.cart) == before {
			return nil
		}
		return []store.Collection{store.Cart}
	})
}

// SetCartQuantity sets the quantity of a cart line; zero or less removes it.
func (s *Store) SetCartQuantity(productID string, quantity int) error {
	var err error
	s.update(func() []store.Collection {
		idx := slices.IndexFunc(s.cart, func(i domain.CartItem) bool { return i.ID == productID })
		if idx < 0 {
			err = store.ErrNotFound
			return nil
		}
		if quantity <= 0 {
			s.cart = slices.Delete(s.cart, idx, idx+1)
		} else {
			s.cart[idx].Quantity = quantity
		}
		return []store.Collection{store.Cart}
	})
	return err
}

func (s *Store) ClearCart() {
	s.update(func() []store.Collection {
		s.cart = []domain.CartItem{}
		return []store.Collection{store.Cart}
	})
}

// Quote computes the totals the current cart would check out at.
func (s *Store) Quote(discountCode string) (domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quoteLocked(discountCode)
}

func (s *Store) quoteLocked(discountCode string) (domain.Quote, error) {
	q := domain.Quote{}
	for _, item := range s.cart {
		q.Subtotal = q.Subtotal.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		q.ItemCount += item.Quantity
	}

	if code := normalizeCode(discountCode); code != "" {
		dc, ok := s.validDiscountCodeLocked(code)
		if !ok {
			return domain.Quote{}, fmt.Errorf("%w: discount code %s is not valid", store.ErrInvalidInput, code)
		}
		switch dc.Type {
		case domain.DiscountPercentage:
			q.Discount = q.Subtotal.Mul(dc.Value).Div(hundred)
		default:
			q.Discount = dc.Value
		}
		if q.Discount.GreaterThan(q.Subtotal) {
			q.Discount = q.Subtotal
		}
		if q.Discount.IsNegative() {
			q.Discount = decimal.Zero
		}
		q.Discount = q.Discount.Round(2)
		q.DiscountCode = dc.Code
	}

	q.Tax = q.Subtotal.Sub(q.Discount).Mul(s.settings.TaxRate).Div(hundred).Round(2)
	q.Total = q.Subtotal.Sub(q.Discount).Add(q.Tax)
	return q, nil
}

// CheckoutGuard inspects a credit sale before it is placed. It runs under
// the store lock and must not call back into the store; a non-nil error
// aborts the checkout.
type CheckoutGuard func(quote domain.Quote, customer domain.Customer) error

// Checkout turns the cart into an order. Validation happens before any
// state is touched, so a failed checkout leaves the store unchanged. Guards
// see the same cart and customer the order is built from.
func (s *Store) Checkout(req domain.CheckoutRequest, guards ...CheckoutGuard) (*domain.Order, error) {
	var (
		order *domain.Order
		err   error
	)
	s.update(func() []store.Collection {
		if len(s.cart) == 0 {
			err = fmt.Errorf("%w: cart is empty", store.ErrInvalidInput)
			return nil
		}
		method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
		if method == "" {
			method = domain.PaymentCash
		}
		if method != domain.PaymentCash && method != domain.PaymentCredit {
			err = fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, req.PaymentMethod)
			return nil
		}
		customerIdx := -1
		if req.CustomerID != "" {
			customerIdx = s.customerIndexLocked(req.CustomerID)
		}
		if method == domain.PaymentCredit && customerIdx < 0 {
			err = fmt.Errorf("credit sale for customer %q: %w", req.CustomerID, store.ErrNotFound)
			return nil
		}

		quote, qerr := s.quoteLocked(req.DiscountCode)
		if qerr != nil {
			err = qerr
			return nil
		}
		if method == domain.PaymentCredit {
			customer := cloneCustomer(s.customers[customerIdx])
			for _, guard := range guards {
				if err = guard(quote, customer); err != nil {
					return nil
				}
			}
		}

		now := s.now()
		placed := domain.Order{
			ID:            xid.New("ord"),
			Items:         make([]domain.OrderItem, 0, len(s.cart)),
			Subtotal:      quote.Subtotal,
			Discount:      quote.Discount,
			Tax:           quote.Tax,
			Total:         quote.Total,
			Date:          now,
			PaymentMethod: method,
			CustomerID:    req.CustomerID,
			Status:        domain.OrderStatusCompleted,
			CashierID:     req.CashierID,
			DiscountCode:  quote.DiscountCode,
		}
		for _, item := range s.cart {
			placed.Items = append(placed.Items, domain.OrderItem{CartItem: item})
		}

		touched := s.placeOrderLocked(placed)
		s.cart = []domain.CartItem{}
		touched = append(touched, store.Cart)

		if method == domain.PaymentCredit {
			s.appendCustomerTxLocked(customerIdx, domain.Transaction{
				ID:      xid.New("trx"),
				Date:    now,
				Type:    domain.TxPurchase,
				Amount:  placed.Total,
				OrderID: placed.ID,
				Note:    "Order " + placed.ID,
			})
			touched = append(touched, store.Customers)
			if s.checkDebtLocked(s.customers[customerIdx]) {
				touched = append(touched, store.Notifications)
			}
		}
		if placed.DiscountCode != "" && s.incrementDiscountCodeLocked(placed.DiscountCode) {
			touched = append(touched, store.DiscountCodes)
		}

		o := cloneOrder(placed)
		order = &o
		return touched
	})
	return order, err
}

// PlaceOrder records an already-built order: it is prepended to the order
// history and stock is decremented for every line.
func (s *Store) PlaceOrder(order domain.Order) {
	s.update(func() []store.Collection {
		if order.Status == "" {
			order.Status = domain.OrderStatusCompleted
		}
		if order.Date.IsZero() {
			order.Date = s.now()
		}
		return s.placeOrderLocked(cloneOrder(order))
	})
}

func (s *Store) placeOrderLocked(order domain.Order) []store.Collection {
	s.orders = slices.Insert(s.orders, 0, order)
	touched := []store.Collection{store.Orders}

	affected := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		idx := s.productIndexLocked(item.ID)
		if idx < 0 {
			continue
		}
		// Overselling is allowed; stock may go negative until reconciled.
		s.products[idx].Stock -= item.Quantity
		if !slices.Contains(affected, item.ID) {
			affected = append(affected, item.ID)
		}
	}
	if len(affected) > 0 {
		touched = append(touched, store.Products)
	}
	notified := false
	for _, id := range affected {
		if s.refreshStockAlertLocked(s.products[s.productIndexLocked(id)]) {
			notified = true
		}
	}
	if notified {
		touched = append(touched, store.Notifications)
	}
	return touched
}

func (s *Store) Orders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.orders, cloneOrder)
}

func (s *Store) Order(id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.orderIndexLocked(id)
	if idx < 0 {
		return domain.Order{}, store.ErrNotFound
	}
	return cloneOrder(s.orders[idx]), nil
}

// ReturnOrderItems restocks returned units and advances the order status.
// Each line is clamped to what remains returnable; non-positive quantities
// are ignored. It reports false when the order does not exist.
func (s *Store) ReturnOrderItems(orderID string, lines []domain.ReturnLine) bool {
	found := false
	s.update(func() []store.Collection {
		idx := s.orderIndexLocked(orderID)
		if idx < 0 {
			return nil
		}
		found = true

		order := cloneOrder(s.orders[idx])
		returned := 0
		for _, line := range lines {
			if line.Quantity <= 0 {
				continue
			}
			itemIdx := slices.IndexFunc(order.Items, func(i domain.OrderItem) bool { return i.ID == line.ItemID })
			if itemIdx < 0 {
				continue
			}
			qty := min(line.Quantity, order.Items[itemIdx].Returnable())
			if qty == 0 {
				continue
			}
			order.Items[itemIdx].ReturnedQuantity += qty
			returned += qty
			if p := s.productIndexLocked(line.ItemID); p >= 0 {
				s.products[p].Stock += qty
			}
		}
		if returned == 0 {
			return nil
		}

		order.Status = returnStatus(order)
		s.orders[idx] = order

		touched := []store.Collection{store.Orders, store.Products}
		for _, item := range order.Items {
			if p := s.productIndexLocked(item.ID); p >= 0 && s.refreshStockAlertLocked(s.products[p]) {
				touched = append(touched, store.Notifications)
			}
		}
		return touched
	})
	return found
}

// returnStatus never moves an order backwards: returned stays returned.
func returnStatus(order domain.Order) string {
	if order.Status == domain.OrderStatusReturned {
		return order.Status
	}
	all, some := true, false
	for _, item := range order.Items {
		if item.ReturnedQuantity > 0 {
			some = true
		}
		if item.ReturnedQuantity < item.Quantity {
			all = false
		}
	}
	switch {
	case all:
		return domain.OrderStatusReturned
	case some:
		return domain.OrderStatusPartiallyReturned
	}
	return order.Status
}

func (s *Store) orderIndexLocked(id string) int {
	return slices.IndexFunc(s.orders, func(o domain.Order) bool { return o.ID == id })
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// inWindow reports whether now falls between start and end. An end at
// midnight is a calendar day, as date pickers store it, and covers that
// whole day.
func inWindow(now time.Time, start, end *time.Time) bool {
	if start != nil && now.Before(*start) {
		return false
	}
	if end == nil {
		return true
	}
	last := *end
	if last.Equal(last.Truncate(24 * time.Hour)) {
		last = last.Add(24*time.Hour - time.Nanosecond)
	}
	return !now.After(last)
}
