package memory

import (
	"fmt"
	"slices"
	"strings"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/xid"
)

func (s *Store) Products() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.products, cloneProduct)
}

func (s *Store) Product(id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.productIndexLocked(id)
	if idx < 0 {
		return domain.Product{}, store.ErrNotFound
	}
	return s.products[idx], nil
}

// ProductByBarcode returns the first active product whose barcode matches
// exactly. Barcodes are not unique, so catalog order decides ties.
func (s *Store) ProductByBarcode(barcode string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.Barcode == barcode && p.Status != domain.ProductStatusArchived {
			return p, nil
		}
	}
	return domain.Product{}, store.ErrNotFound
}

func (s *Store) AddProduct(product domain.Product) (domain.Product, error) {
	var err error
	s.update(func() []store.Collection {
		product.Name = strings.TrimSpace(product.Name)
		if product.Name == "" || product.Price.IsNegative() || product.CostPrice.IsNegative() {
			err = store.ErrInvalidInput
			return nil
		}
		if product.ID == "" {
			product.ID = xid.New("prd")
		}
		if s.productIndexLocked(product.ID) >= 0 {
			err = fmt.Errorf("%w: product %s already exists", store.ErrInvalidInput, product.ID)
			return nil
		}
		if product.Category == "" {
			product.Category = domain.DefaultCategory
		}
		if product.Status == "" {
			product.Status = domain.ProductStatusActive
		}
		s.products = append(s.products, product)
		touched := []store.Collection{store.Products}
		if s.refreshStockAlertLocked(product) {
			touched = append(touched, store.Notifications)
		}
		return touched
	})
	return product, err
}

// UpdateProduct applies an edit. Stock is not part of the patch; raising the
// threshold or lowering it is re-evaluated against the current stock.
func (s *Store) UpdateProduct(id string, patch domain.ProductPatch) (domain.Product, error) {
	var (
		updated domain.Product
		err     error
	)
	s.update(func() []store.Collection {
		idx := s.productIndexLocked(id)
		if idx < 0 {
			err = store.ErrNotFound
			return nil
		}
		p := s.products[idx]
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				err = store.ErrInvalidInput
				return nil
			}
			p.Name = name
		}
		if patch.Barcode != nil {
			p.Barcode = strings.TrimSpace(*patch.Barcode)
		}
		if patch.Price != nil {
			if patch.Price.IsNegative() {
				err = store.ErrInvalidInput
				return nil
			}
			p.Price = *patch.Price
		}
		if patch.CostPrice != nil {
			if patch.CostPrice.IsNegative() {
				err = store.ErrInvalidInput
				return nil
			}
			p.CostPrice = *patch.CostPrice
		}
		if patch.Category != nil {
			p.Category = *patch.Category
		}
		if patch.MinStockLevel != nil {
			p.MinStockLevel = *patch.MinStockLevel
		}
		if patch.Status != nil {
			if *patch.Status != domain.ProductStatusActive && *patch.Status != domain.ProductStatusArchived {
				err = store.ErrInvalidInput
				return nil
			}
			p.Status = *patch.Status
		}
		if patch.Unit != nil {
			p.Unit = *patch.Unit
		}
		if patch.Image != nil {
			p.Image = *patch.Image
		}
		if patch.Description != nil {
			p.Description = *patch.Description
		}
		s.products[idx] = p
		updated = p

		touched := []store.Collection{store.Products}
		if s.refreshStockAlertLocked(p) {
			touched = append(touched, store.Notifications)
		}
		return touched
	})
	return updated, err
}

func (s *Store) DeleteProduct(id string) bool {
	deleted := false
	s.update(func() []store.Collection {
		before := len(s.products)
		s.products = slices.DeleteFunc(s.products, func(p domain.Product) bool { return p.ID == id })
		deleted = len(s.products) != before
		if !deleted {
			return nil
		}
		return []store.Collection{store.Products}
	})
	return deleted
}

// AdjustStock changes stock outside of a sale or return, for counts,
// receiving and write-offs. Every adjustment is recorded in the audit log.
func (s *Store) AdjustStock(id string, delta int, actor string, reason string) (domain.Product, error) {
	var (
		updated domain.Product
		err     error
	)
	s.update(func() []store.Collection {
		idx := s.productIndexLocked(id)
		if idx < 0 {
			err = store.ErrNotFound
			return nil
		}
		if delta == 0 {
			err = fmt.Errorf("%w: stock adjustment must be non-zero", store.ErrInvalidInput)
			return nil
		}
		before := s.products[idx].Stock
		s.products[idx].Stock += delta
		updated = s.products[idx]

		if actor == "" {
			actor = "system"
		}
		s.auditLog = append(s.auditLog, domain.AuditEntry{
			ID:         xid.New("audit"),
			Actor:      actor,
			Action:     "stock_adjust",
			EntityType: "product",
			EntityID:   id,
			Detail:     fmt.Sprintf("before=%d,delta=%d,after=%d,reason=%s", before, delta, updated.Stock, reason),
			CreatedAt:  s.now(),
		})

		touched := []store.Collection{store.Products}
		if s.refreshStockAlertLocked(updated) {
			touched = append(touched, store.Notifications)
		}
		return touched
	})
	return updated, err
}

func (s *Store) productIndexLocked(id string) int {
	return slices.IndexFunc(s.products, func(p domain.Product) bool { return p.ID == id })
}

func stockAlertID(productID string) string {
	return "stock-" + productID
}

// refreshStockAlertLocked raises the low-stock notification for a product at
// or below its threshold, and clears it once stock is back above. It reports
// whether notifications changed.
func (s *Store) refreshStockAlertLocked(p domain.Product) bool {
	id := stockAlertID(p.ID)
	exists := slices.ContainsFunc(s.notifications, func(n domain.Notification) bool { return n.ID == id })
	if p.Stock > p.MinStockLevel {
		if !exists {
			return false
		}
		s.notifications = slices.DeleteFunc(s.notifications, func(n domain.Notification) bool { return n.ID == id })
		return true
	}
	if exists || !s.settings.EnableStockAlerts {
		return false
	}
	s.notifications = slices.Insert(s.notifications, 0, domain.Notification{
		ID:      id,
		Title:   "Low stock",
		Message: fmt.Sprintf("%s is at its minimum level (%d left)", p.Name, p.Stock),
		Type:    domain.NotificationWarning,
		Date:    s.now(),
		LinkTo:  "/products",
	})
	return true
}

func (s *Store) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notifications)
}

// AddNotification prepends an unread notification. An existing id is not
// duplicated.
func (s *Store) AddNotification(n domain.Notification) domain.Notification {
	s.update(func() []store.Collection {
		if n.ID == "" {
			n.ID = xid.New("ntf")
		}
		if slices.ContainsFunc(s.notifications, func(x domain.Notification) bool { return x.ID == n.ID }) {
			return nil
		}
		if n.Type == "" {
			n.Type = domain.NotificationInfo
		}
		if n.Date.IsZero() {
			n.Date = s.now()
		}
		n.Read = false
		s.notifications = slices.Insert(s.notifications, 0, n)
		return []store.Collection{store.Notifications}
	})
	return n
}

func (s *Store) MarkNotificationRead(id string) {
	s.update(func() []store.Collection {
		for i := range s.notifications {
			if s.notifications[i].ID == id && !s.notifications[i].Read {
				s.notifications[i].Read = true
				return []store.Collection{store.Notifications}
			}
		}
		return nil
	})
}

func (s *Store) ClearNotifications() {
	s.update(func() []store.Collection {
		s.notifications = []domain.Notification{}
		return []store.Collection{store.Notifications}
	})
}

func (s *Store) Units() []domain.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.units)
}

func (s *Store) AddUnit(unit domain.Unit) (domain.Unit, error) {
	var err error
	s.update(func() []store.Collection {
		unit.Name = strings.TrimSpace(unit.Name)
		if unit.Name == "" {
			err = store.ErrInvalidInput
			return nil
		}
		if unit.ID == "" {
			unit.ID = xid.New("unit")
		}
		s.units = append(s.units, unit)
		return []store.Collection{store.Units}
	})
	return unit, err
}

func (s *Store) DeleteUnit(id string) {
	s.update(func() []store.Collection {
		before := len(s.units)
		s.units = slices.DeleteFunc(s.units, func(u domain.Unit) bool { return u.ID == id })
		if len(s.units) == before {
			return nil
		}
		return []store.Collection{store.Units}
	})
}

func (s *Store) Expenses() []domain.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.expenses)
}

// AddExpense records an expense, newest first.
func (s *Store) AddExpense(expense domain.Expense) (domain.Expense, error) {
	var err error
	s.update(func() []store.Collection {
		if expense.Amount.IsNegative() || expense.Amount.IsZero() {
			err = fmt.Errorf("%w: expense amount must be positive", store.ErrInvalidInput)
			return nil
		}
		if expense.ID == "" {
			expense.ID = xid.New("exp")
		}
		if expense.Date.IsZero() {
			expense.Date = s.now()
		}
		s.expenses = slices.Insert(s.expenses, 0, expense)
		return []store.Collection{store.Expenses}
	})
	return expense, err
}

func (s *Store) DeleteExpense(id string) {
	s.update(func() []store.Collection {
		before := len(s.expenses)
		s.expenses = slices.DeleteFunc(s.expenses, func(e domain.Expense) bool { return e.ID == id })
		if len(s.expenses) == before {
			return nil
		}
		return []store.Collection{store.Expenses}
	})
}
