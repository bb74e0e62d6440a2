package memory

import (
	"fmt"
	"slices"
	"strings"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/xid"
)

func (s *Store) Customers() []domain.Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.customers, cloneCustomer)
}

func (s *Store) Customer(id string) (domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.customerIndexLocked(id)
	if idx < 0 {
		return domain.Customer{}, store.ErrNotFound
	}
	return cloneCustomer(s.customers[idx]), nil
}

func (s *Store) AddCustomer(customer domain.Customer) (domain.Customer, error) {
	var err error
	s.update(func() []store.Collection {
		customer.Name = strings.TrimSpace(customer.Name)
		if customer.Name == "" || customer.MaxDebtLimit.IsNegative() {
			err = store.ErrInvalidInput
			return nil
		}
		if customer.ID == "" {
			customer.ID = xid.New("cus")
		}
		if s.customerIndexLocked(customer.ID) >= 0 {
			err = fmt.Errorf("%w: customer %s already exists", store.ErrInvalidInput, customer.ID)
			return nil
		}
		customer = cloneCustomer(customer)
		s.customers = append(s.customers, customer)
		return []store.Collection{store.Customers}
	})
	return cloneCustomer(customer), err
}

// UpdateCustomer edits identity and credit terms. The balance and ledger
// only move through transactions.
func (s *Store) UpdateCustomer(id string, patch domain.CustomerPatch) (domain.Customer, error) {
	var (
		updated domain.Customer
		err     error
	)
	s.update(func() []store.Collection {
		idx := s.customerIndexLocked(id)
		if idx < 0 {
			err = store.ErrNotFound
			return nil
		}
		c := s.customers[idx]
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				err = store.ErrInvalidInput
				return nil
			}
			c.Name = name
		}
		if patch.Phone != nil {
			c.Phone = *patch.Phone
		}
		if patch.MaxDebtLimit != nil {
			if patch.MaxDebtLimit.IsNegative() {
				err = store.ErrInvalidInput
				return nil
			}
			c.MaxDebtLimit = *patch.MaxDebtLimit
		}
		if patch.NextPaymentDate != nil {
			c.NextPaymentDate = cloneTime(patch.NextPaymentDate)
		}
		s.customers[idx] = c
		updated = cloneCustomer(c)
		return []store.Collection{store.Customers}
	})
	return updated, err
}

// DeleteCustomer removes the customer. Orders that reference it keep the
// dangling id.
func (s *Store) DeleteCustomer(id string) bool {
	deleted := false
	s.update(func() []store.Collection {
		before := len(s.customers)
		s.customers = slices.DeleteFunc(s.customers, func(c domain.Customer) bool { return c.ID == id })
		deleted = len(s.customers) != before
		if !deleted {
			return nil
		}
		return []store.Collection{store.Customers}
	})
	return deleted
}

// AddCustomerTransaction appends a ledger entry, newest first. A purchase
// raises the balance; a payment or refund lowers it. Unknown customers are
// a silent no-op reported through the returned flag.
func (s *Store) AddCustomerTransaction(customerID string, trx domain.Transaction) (domain.Transaction, bool, error) {
	var (
		found bool
		err   error
	)
	s.update(func() []store.Collection {
		if trx, err = s.normalizeTxLocked(trx, domain.TxPurchase, domain.TxPayment, domain.TxRefund); err != nil {
			return nil
		}
		idx := s.customerIndexLocked(customerID)
		if idx < 0 {
			return nil
		}
		found = true
		s.appendCustomerTxLocked(idx, trx)
		touched := []store.Collection{store.Customers}
		if s.checkDebtLocked(s.customers[idx]) {
			touched = append(touched, store.Notifications)
		}
		return touched
	})
	return trx, found, err
}

func (s *Store) appendCustomerTxLocked(idx int, trx domain.Transaction) {
	c := &s.customers[idx]
	switch trx.Type {
	case domain.TxPurchase:
		c.TotalDebt = c.TotalDebt.Add(trx.Amount)
	case domain.TxPayment, domain.TxRefund:
		c.TotalDebt = c.TotalDebt.Sub(trx.Amount)
	}
	c.Transactions = slices.Insert(slices.Clone(c.Transactions), 0, trx)
}

func (s *Store) Suppliers() []domain.Supplier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.suppliers, cloneSupplier)
}

func (s *Store) AddSupplier(supplier domain.Supplier) (domain.Supplier, error) {
	var err error
	s.update(func() []store.Collection {
		supplier.Name = strings.TrimSpace(supplier.Name)
		if supplier.Name == "" {
			err = store.ErrInvalidInput
			return nil
		}
		if supplier.ID == "" {
			supplier.ID = xid.New("sup")
		}
		if s.supplierIndexLocked(supplier.ID) >= 0 {
			err = fmt.Errorf("%w: supplier %s already exists", store.ErrInvalidInput, supplier.ID)
			return nil
		}
		supplier = cloneSupplier(supplier)
		s.suppliers = append(s.suppliers, supplier)
		return []store.Collection{store.Suppliers}
	})
	return cloneSupplier(supplier), err
}

func (s *Store) UpdateSupplier(id string, patch domain.SupplierPatch) (domain.Supplier, error) {
	var (
		updated domain.Supplier
		err     error
	)
	s.update(func() []store.Collection {
		idx := s.supplierIndexLocked(id)
		if idx < 0 {
			err = store.ErrNotFound
			return nil
		}
		sup := s.suppliers[idx]
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				err = store.ErrInvalidInput
				return nil
			}
			sup.Name = name
		}
		if patch.Phone != nil {
			sup.Phone = *patch.Phone
		}
		if patch.ContactPerson != nil {
			sup.ContactPerson = *patch.ContactPerson
		}
		s.suppliers[idx] = sup
		updated = cloneSupplier(sup)
		return []store.Collection{store.Suppliers}
	})
	return updated, err
}

func (s *Store) DeleteSupplier(id string) bool {
	deleted := false
	s.update(func() []store.Collection {
		before := len(s.suppliers)
		s.suppliers = slices.DeleteFunc(s.suppliers, func(x domain.Supplier) bool { return x.ID == id })
		deleted = len(s.suppliers) != before
		if !deleted {
			return nil
		}
		return []store.Collection{store.Suppliers}
	})
	return deleted
}

// AddSupplierTransaction records what the business owes a supplier: a
// purchase on credit raises the balance and a payment lowers it.
func (s *Store) AddSupplierTransaction(supplierID string, trx domain.Transaction) (domain.Transaction, bool, error) {
	var (
		found bool
		err   error
	)
	s.update(func() []store.Collection {
		if trx, err = s.normalizeTxLocked(trx, domain.TxPurchase, domain.TxPayment); err != nil {
			return nil
		}
		idx := s.supplierIndexLocked(supplierID)
		if idx < 0 {
			return nil
		}
		found = true
		sup := &s.suppliers[idx]
		if trx.Type == domain.TxPurchase {
			sup.TotalDebt = sup.TotalDebt.Add(trx.Amount)
		} else {
			sup.TotalDebt = sup.TotalDebt.Sub(trx.Amount)
		}
		sup.Transactions = slices.Insert(slices.Clone(sup.Transactions), 0, trx)
		return []store.Collection{store.Suppliers}
	})
	return trx, found, err
}

func (s *Store) normalizeTxLocked(trx domain.Transaction, allowed ...string) (domain.Transaction, error) {
	if !slices.Contains(allowed, trx.Type) {
		return trx, fmt.Errorf("%w: transaction type %q", store.ErrInvalidInput, trx.Type)
	}
	if !trx.Amount.IsPositive() {
		return trx, fmt.Errorf("%w: transaction amount must be positive", store.ErrInvalidInput)
	}
	if trx.ID == "" {
		trx.ID = xid.New("trx")
	}
	if trx.Date.IsZero() {
		trx.Date = s.now()
	}
	return trx, nil
}

// CheckDebtStatus raises a notification for every customer above their
// credit limit.
func (s *Store) CheckDebtStatus() {
	s.update(func() []store.Collection {
		changed := false
		for _, c := range s.customers {
			if s.checkDebtLocked(c) {
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return []store.Collection{store.Notifications}
	})
}

func (s *Store) checkDebtLocked(c domain.Customer) bool {
	if !s.settings.EnableDebtAlerts || !c.MaxDebtLimit.IsPositive() || !c.TotalDebt.GreaterThan(c.MaxDebtLimit) {
		return false
	}
	id := "debt-" + c.ID
	if slices.ContainsFunc(s.notifications, func(n domain.Notification) bool { return n.ID == id }) {
		return false
	}
	s.notifications = slices.Insert(s.notifications, 0, domain.Notification{
		ID:      id,
		Title:   "Credit limit exceeded",
		Message: fmt.Sprintf("%s owes %s, above the limit of %s", c.Name, c.TotalDebt.StringFixed(2), c.MaxDebtLimit.StringFixed(2)),
		Type:    domain.NotificationWarning,
		Date:    s.now(),
		LinkTo:  "/customers",
	})
	return true
}

func (s *Store) customerIndexLocked(id string) int {
	return slices.IndexFunc(s.customers, func(c domain.Customer) bool { return c.ID == id })
}

func (s *Store) supplierIndexLocked(id string) int {
	return slices.IndexFunc(s.suppliers, func(x domain.Supplier) bool { return x.ID == id })
}
