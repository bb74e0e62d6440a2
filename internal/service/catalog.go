package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	if _, err := s.authorize(ctx, domain.PermProductsView, domain.PermPOSAccess); err != nil {
		return nil, err
	}
	return s.state.Products(), nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := s.authorize(ctx, domain.PermProductsView, domain.PermPOSAccess); err != nil {
		return domain.Product{}, err
	}
	return s.state.Product(id)
}

func (s *Service) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	if _, err := s.authorize(ctx, domain.PermProductsAdd); err != nil {
		return domain.Product{}, err
	}
	product.Barcode = strings.TrimSpace(product.Barcode)
	if product.MinStockLevel == 0 {
		product.MinStockLevel = domain.DefaultMinStockLevel
	}
	created, err := s.state.AddProduct(product)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.String(), created.Stock))
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (domain.Product, error) {
	if _, err := s.authorize(ctx, domain.PermProductsEdit); err != nil {
		return domain.Product{}, err
	}
	before, err := s.state.Product(id)
	if err != nil {
		return domain.Product{}, err
	}
	updated, err := s.state.UpdateProduct(id, patch)
	if err != nil {
		return domain.Product{}, err
	}
	if !before.Price.Equal(updated.Price) {
		s.logAudit(ctx, "product_price_update", "product", id, fmt.Sprintf("before=%s,after=%s", before.Price.String(), updated.Price.String()))
	}
	return updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, domain.PermProductsDelete); err != nil {
		return err
	}
	if !s.state.DeleteProduct(id) {
		return store.ErrNotFound
	}
	s.logAudit(ctx, "product_delete", "product", id, "")
	return nil
}

// AdjustStock is the only path for manual stock edits; the store records
// the audit entry with the acting user.
func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustmentRequest) (domain.Product, error) {
	user, err := s.authorize(ctx, domain.PermProductsEdit)
	if err != nil {
		return domain.Product{}, err
	}
	return s.state.AdjustStock(id, req.Delta, user.Username, strings.TrimSpace(req.Reason))
}

func (s *Service) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.state.Units(), nil
}

func (s *Service) CreateUnit(ctx context.Context, unit domain.Unit) (domain.Unit, error) {
	if _, err := s.authorize(ctx, domain.PermProductsAdd, domain.PermProductsEdit); err != nil {
		return domain.Unit{}, err
	}
	return s.state.AddUnit(unit)
}

func (s *Service) DeleteUnit(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, domain.PermProductsEdit); err != nil {
		return err
	}
	s.state.DeleteUnit(id)
	return nil
}

// ListCustomers is open to cashiers as well, who pick the customer of a
// credit sale.
func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	if _, err := s.authorize(ctx, domain.PermCustomersManage, domain.PermPOSAccess); err != nil {
		return nil, err
	}
	return s.state.Customers(), nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	if _, err := s.authorize(ctx, domain.PermCustomersManage, domain.PermPOSAccess); err != nil {
		return domain.Customer{}, err
	}
	return s.state.Customer(id)
}

// CreateCustomer starts every customer with a clean ledger.
func (s *Service) CreateCustomer(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if _, err := s.authorize(ctx, domain.PermCustomersManage, domain.PermPOSAccess); err != nil {
		return domain.Customer{}, err
	}
	customer.TotalDebt = decimal.Zero
	customer.Transactions = nil
	return s.state.AddCustomer(customer)
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, patch domain.CustomerPatch) (domain.Customer, error) {
	if _, err := s.authorize(ctx, domain.PermCustomersManage); err != nil {
		return domain.Customer{}, err
	}
	return s.state.UpdateCustomer(id, patch)
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, domain.PermCustomersManage); err != nil {
		return err
	}
	if !s.state.DeleteCustomer(id) {
		return store.ErrNotFound
	}
	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

func (s *Service) AddCustomerTransaction(ctx context.Context, customerID string, trx domain.Transaction) (domain.Transaction, error) {
	if _, err := s.authorize(ctx, domain.PermCustomersManage); err != nil {
		return domain.Transaction{}, err
	}
	recorded, found, err := s.state.AddCustomerTransaction(customerID, trx)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !found {
		return domain.Transaction{}, store.ErrNotFound
	}
	s.logAudit(ctx, "customer_"+recorded.Type, "customer", customerID, "amount="+recorded.Amount.String())
	return recorded, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	if _, err := s.authorize(ctx, domain.PermSuppliersManage); err != nil {
		return nil, err
	}
	return s.state.Suppliers(), nil
}

func (s *Service) CreateSupplier(ctx context.Context, supplier domain.Supplier) (domain.Supplier, error) {
	if _, err := s.authorize(ctx, domain.PermSuppliersManage); err != nil {
		return domain.Supplier{}, err
	}
	supplier.TotalDebt = decimal.Zero
	supplier.Transactions = nil
	return s.state.AddSupplier(supplier)
}

func (s *Service) UpdateSupplier(ctx context.Context, id string, patch domain.SupplierPatch) (domain.Supplier, error) {
	if _, err := s.authorize(ctx, domain.PermSuppliersManage); err != nil {
		return domain.Supplier{}, err
	}
	return s.state.UpdateSupplier(id, patch)
}

func (s *Service) DeleteSupplier(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, domain.PermSuppliersManage); err != nil {
		return err
	}
	if !s.state.DeleteSupplier(id) {
		return store.ErrNotFound
	}
	return nil
}

func (s *Service) AddSupplierTransaction(ctx context.Context, supplierID string, trx domain.Transaction) (domain.Transaction, error) {
	if _, err := s.authorize(ctx, domain.PermSuppliersManage); err != nil {
		return domain.Transaction{}, err
	}
	recorded, found, err := s.state.AddSupplierTransaction(supplierID, trx)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !found {
		return domain.Transaction{}, store.ErrNotFound
	}
	s.logAudit(ctx, "supplier_"+recorded.Type, "supplier", supplierID, "amount="+recorded.Amount.String())
	return recorded, nil
}

func (s *Service) ListDiscountCodes(ctx context.Context) ([]domain.DiscountCode, error) {
	if _, err := s.authorize(ctx, domain.PermOffersView, domain.PermOffersManage); err != nil {
		return nil, err
	}
	return s.state.DiscountCodes(), nil
}

func (s *Service) CreateDiscountCode(ctx context.Context, code domain.DiscountCode) (domain.DiscountCode, error) {
	if _, err := s.authorize(ctx, domain.PermOffersManage); err != nil {
		return domain.DiscountCode{}, err
	}
	code.UsageCount = 0
	return s.state.AddDiscountCode(code)
}

func (s *Service) DeleteDiscountCode(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, domain.PermOffersManage); err != nil {
		return err
	}
	s.state.DeleteDiscountCode(id)
	return nil
}

// ListOffers is readable from the till, which shows offer prices.
func (s *Service) ListOffers(ctx context.Context) ([]domain.Offer, error) {
	if _, err := s.authorize(ctx, domain.PermOffersView, domain.PermOffersManage, domain.PermPOSAccess); err != nil {
		return nil, err
	}
	return s.state.Offers(), nil
}

func (s *Service) CreateOffer(ctx context.Context, offer domain.Offer) (domain.Offer, error) {
	if _, err := s.authorize(ctx, domain.PermOffersManage); err != nil {
		return domain.Offer{}, err
	}
	offer.UsageCount = 0
	return s.state.AddOffer(offer)
}

func (s *Service) DeleteOffer(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, domain.PermOffersManage); err != nil {
		return err
	}
	s.state.DeleteOffer(id)
	return nil
}

func (s *Service) ToggleOffer(ctx context.Context, id string) (domain.Offer, error) {
	if _, err := s.authorize(ctx, domain.PermOffersManage); err != nil {
		return domain.Offer{}, err
	}
	return s.state.ToggleOffer(id)
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.Expense, error) {
	if _, err := s.authorize(ctx, domain.PermExpensesView, domain.PermExpensesManage); err != nil {
		return nil, err
	}
	return s.state.Expenses(), nil
}

func (s *Service) CreateExpense(ctx context.Context, expense domain.Expense) (domain.Expense, error) {
	user, err := s.authorize(ctx, domain.PermExpensesManage)
	if err != nil {
		return domain.Expense{}, err
	}
	expense.Category = strings.TrimSpace(expense.Category)
	if expense.Category == "" {
		expense.Category = domain.DefaultCategory
	}
	expense.CreatedBy = user.Name
	if expense.CreatedBy == "" {
		expense.CreatedBy = user.Username
	}
	return s.state.AddExpense(expense)
}

func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, domain.PermExpensesManage); err != nil {
		return err
	}
	s.state.DeleteExpense(id)
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := s.authorize(ctx, domain.PermStaffManage); err != nil {
		return nil, err
	}
	return s.state.Users(), nil
}

func (s *Service) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	if _, err := s.authorize(ctx, domain.PermStaffManage); err != nil {
		return domain.User{}, err
	}
	created, err := s.state.AddUser(user)
	if err != nil {
		return domain.User{}, err
	}
	s.logAudit(ctx, "user_create", "user", created.ID, "role="+created.Role)
	return created, nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, patch domain.UserPatch) (domain.User, error) {
	if _, err := s.authorize(ctx, domain.PermStaffManage); err != nil {
		return domain.User{}, err
	}
	updated, err := s.state.UpdateUser(id, patch)
	if err != nil {
		return domain.User{}, err
	}
	s.logAudit(ctx, "user_update", "user", id, "")
	return updated, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	actor, err := s.authorize(ctx, domain.PermStaffManage)
	if err != nil {
		return err
	}
	if actor.ID == id {
		return fmt.Errorf("%w: cannot delete the signed-in account", store.ErrInvalidInput)
	}
	if err := s.state.DeleteUser(id); err != nil {
		return err
	}
	s.logAudit(ctx, "user_delete", "user", id, "")
	return nil
}
