package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/store/memory"
)

// DebtLimitWarning blocks a credit sale until the cashier confirms it. The
// sale either takes the customer over their limit or the customer is past
// their promised payment date.
type DebtLimitWarning struct {
	CustomerID      string          `json:"customerId"`
	CustomerName    string          `json:"customerName"`
	CurrentDebt     decimal.Decimal `json:"currentDebt"`
	OrderTotal      decimal.Decimal `json:"orderTotal"`
	Limit           decimal.Decimal `json:"limit"`
	Overdue         bool            `json:"overdue"`
	NextPaymentDate *time.Time      `json:"nextPaymentDate,omitempty"`
}

func (w *DebtLimitWarning) Error() string {
	if w.Overdue {
		return fmt.Sprintf("customer %s is past the payment date %s", w.CustomerName, w.NextPaymentDate.Format("2006-01-02"))
	}
	return fmt.Sprintf("customer %s would owe %s, above the limit of %s",
		w.CustomerName, w.CurrentDebt.Add(w.OrderTotal).StringFixed(2), w.Limit.StringFixed(2))
}

// Receipt is the data a receipt renderer needs for one order.
type Receipt struct {
	Order        domain.Order    `json:"order"`
	Settings     domain.Settings `json:"settings"`
	CustomerName string          `json:"customerName,omitempty"`
	CashierName  string          `json:"cashierName,omitempty"`
}

func (s *Service) Cart(ctx context.Context) ([]domain.CartItem, error) {
	if _, err := s.authorize(ctx, domain.PermPOSAccess); err != nil {
		return nil, err
	}
	return s.state.Cart(), nil
}

// AddToCart adds one unit of the product. An active offer on the product
// sets the line price.
func (s *Service) AddToCart(ctx context.Context, productID string) ([]domain.CartItem, error) {
	if _, err := s.authorize(ctx, domain.PermPOSAccess); err != nil {
		return nil, err
	}
	product, err := s.state.Product(productID)
	if err != nil {
		return nil, err
	}
	if product.Status == domain.ProductStatusArchived {
		return nil, fmt.Errorf("%w: product %s is archived", store.ErrInvalidInput, product.ID)
	}
	s.state.AddToCart(s.offerPriced(product))
	return s.state.Cart(), nil
}

// ScanBarcode handles a decoded barcode from any scan source exactly like
// a lookup followed by AddToCart.
func (s *Service) ScanBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	if _, err := s.authorize(ctx, domain.PermPOSAccess); err != nil {
		return domain.Product{}, err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, fmt.Errorf("%w: empty barcode", store.ErrInvalidInput)
	}
	product, err := s.state.ProductByBarcode(barcode)
	if err != nil {
		return domain.Product{}, fmt.Errorf("barcode %s: %w", barcode, err)
	}
	priced := s.offerPriced(product)
	s.state.AddToCart(priced)
	return priced, nil
}

// AddOfferToCart adds one unit of every product the offer targets at the
// offer price and counts one use of the offer.
func (s *Service) AddOfferToCart(ctx context.Context, offerID string) ([]domain.CartItem, error) {
	if _, err := s.authorize(ctx, domain.PermPOSAccess); err != nil {
		return nil, err
	}
	var offer *domain.Offer
	for _, o := range s.state.Offers() {
		if o.ID == offerID {
			offer = &o
			break
		}
	}
	if offer == nil {
		return nil, store.ErrNotFound
	}
	if !offer.IsActive {
		return nil, fmt.Errorf("%w: offer %s is not active", store.ErrInvalidInput, offer.Name)
	}

	added := 0
	for _, id := range offer.TargetProductIDs {
		product, err := s.state.Product(id)
		if err != nil || product.Status == domain.ProductStatusArchived {
			continue
		}
		product.Price = memory.OfferPrice(product.Price, *offer)
		s.state.AddToCart(product)
		added++
	}
	if added == 0 {
		return nil, fmt.Errorf("%w: offer %s has no available products", store.ErrInvalidInput, offer.Name)
	}
	s.state.IncrementOfferUsage(offer.ID)
	return s.state.Cart(), nil
}

func (s *Service) offerPriced(product domain.Product) domain.Product {
	if offer, ok := s.state.ActiveOfferFor(product.ID); ok {
		product.Price = memory.OfferPrice(product.Price, offer)
	}
	return product
}

func (s *Service) SetCartQuantity(ctx context.Context, req domain.CartItemRequest) ([]domain.CartItem, error) {
	if _, err := s.authorize(ctx, domain.PermPOSAccess); err != nil {
		return nil, err
	}
	if err := s.state.SetCartQuantity(req.ProductID, req.Quantity); err != nil {
		return nil, err
	}
	return s.state.Cart(), nil
}

func (s *Service) RemoveFromCart(ctx context.Context, productID string) ([]domain.CartItem, error) {
	if _, err := s.authorize(ctx, domain.PermPOSAccess); err != nil {
		return nil, err
	}
	s.state.RemoveFromCart(productID)
	return s.state.Cart(), nil
}

func (s *Service) ClearCart(ctx context.Context) error {
	if _, err := s.authorize(ctx, domain.PermPOSAccess); err != nil {
		return err
	}
	s.state.ClearCart()
	return nil
}

func (s *Service) Quote(ctx context.Context, discountCode string) (domain.Quote, error) {
	if _, err := s.authorize(ctx, domain.PermPOSAccess); err != nil {
		return domain.Quote{}, err
	}
	return s.state.Quote(discountCode)
}

// Checkout places the cart as an order. Credit sales that exceed the
// customer's limit or go to an overdue customer return a *DebtLimitWarning
// unless the request confirms them.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error) {
	user, err := s.authorize(ctx, domain.PermPOSAccess)
	if err != nil {
		return nil, err
	}
	req.CashierID = user.ID
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))

	var guards []memory.CheckoutGuard
	if req.PaymentMethod == domain.PaymentCredit && !req.Confirm {
		now := s.state.Now()
		guards = append(guards, func(quote domain.Quote, customer domain.Customer) error {
			if warning := debtWarning(customer, quote, now); warning != nil {
				return warning
			}
			return nil
		})
	}
	if s.checkoutHook != nil {
		s.checkoutHook()
	}

	order, err := s.state.Checkout(req, guards...)
	if err != nil {
		return nil, err
	}
	detail := fmt.Sprintf("total=%s,method=%s,items=%d", order.Total.StringFixed(2), order.PaymentMethod, len(order.Items))
	if req.Confirm && order.PaymentMethod == domain.PaymentCredit {
		detail += ",confirmed=true"
	}
	s.logAudit(ctx, "checkout", "order", order.ID, detail)
	return order, nil
}

// debtWarning reports a credit sale that pushes the customer past their
// limit or goes to a customer whose payment is overdue.
func debtWarning(customer domain.Customer, quote domain.Quote, now time.Time) *DebtLimitWarning {
	warning := &DebtLimitWarning{
		CustomerID:      customer.ID,
		CustomerName:    customer.Name,
		CurrentDebt:     customer.TotalDebt,
		OrderTotal:      quote.Total,
		Limit:           customer.MaxDebtLimit,
		NextPaymentDate: customer.NextPaymentDate,
	}
	if customer.MaxDebtLimit.IsPositive() && customer.TotalDebt.Add(quote.Total).GreaterThan(customer.MaxDebtLimit) {
		return warning
	}
	if customer.NextPaymentDate != nil && customer.NextPaymentDate.Before(now) {
		warning.Overdue = true
		return warning
	}
	return nil
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	if _, err := s.authorize(ctx, domain.PermSalesView); err != nil {
		return nil, err
	}
	return s.state.Orders(), nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if _, err := s.authorize(ctx, domain.PermSalesView, domain.PermPOSAccess); err != nil {
		return domain.Order{}, err
	}
	return s.state.Order(id)
}

// ReturnItems restocks returned units of an order. A credit order's
// refund is booked on the customer's ledger.
func (s *Service) ReturnItems(ctx context.Context, orderID string, req domain.ReturnRequest) (domain.Order, error) {
	if _, err := s.authorize(ctx, domain.PermSalesReturn); err != nil {
		return domain.Order{}, err
	}
	before, err := s.state.Order(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !s.state.ReturnOrderItems(orderID, req.Items) {
		return domain.Order{}, store.ErrNotFound
	}
	after, err := s.state.Order(orderID)
	if err != nil {
		return domain.Order{}, err
	}

	refund := refundValue(before, after)
	if refund.IsPositive() && after.PaymentMethod == domain.PaymentCredit && after.CustomerID != "" {
		_, found, err := s.state.AddCustomerTransaction(after.CustomerID, domain.Transaction{
			Type:    domain.TxRefund,
			Amount:  refund,
			OrderID: after.ID,
			Note:    "Return on order " + after.ID,
		})
		if err != nil || !found {
			log.Printf("[service] WARN: failed to book refund order=%s customer=%s: %v", after.ID, after.CustomerID, err)
		}
	}
	if refund.IsPositive() {
		s.logAudit(ctx, "order_return", "order", orderID, "refund="+refund.StringFixed(2)+",status="+after.Status)
	}
	return after, nil
}

// refundValue prices the newly returned units at the order's effective
// rate, so discount and tax are refunded proportionally.
func refundValue(before, after domain.Order) decimal.Decimal {
	returned := decimal.Zero
	for i, item := range after.Items {
		if i >= len(before.Items) {
			break
		}
		qty := item.ReturnedQuantity - before.Items[i].ReturnedQuantity
		if qty > 0 {
			returned = returned.Add(item.Price.Mul(decimal.NewFromInt(int64(qty))))
		}
	}
	if returned.IsZero() || !after.Subtotal.IsPositive() {
		return returned
	}
	return returned.Mul(after.Total).Div(after.Subtotal).Round(2)
}

func (s *Service) Receipt(ctx context.Context, orderID string) (Receipt, error) {
	if _, err := s.authorize(ctx, domain.PermSalesView, domain.PermPOSAccess); err != nil {
		return Receipt{}, err
	}
	order, err := s.state.Order(orderID)
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{Order: order, Settings: s.state.Settings()}
	if order.CustomerID != "" {
		if c, err := s.state.Customer(order.CustomerID); err == nil {
			receipt.CustomerName = c.Name
		}
	}
	if order.CashierID != "" {
		if u, err := s.state.User(order.CashierID); err == nil {
			receipt.CashierName = u.Name
		}
	}
	return receipt, nil
}

// SalesReport aggregates orders and expenses dated within [from, to]. Both
// bounds are YYYY-MM-DD days and either may be empty.
func (s *Service) SalesReport(ctx context.Context, from string, to string) (domain.SalesReport, error) {
	if _, err := s.authorize(ctx, domain.PermReportsView); err != nil {
		return domain.SalesReport{}, err
	}
	start, end, err := reportWindow(from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}
	inWindow := func(t time.Time) bool {
		return (start.IsZero() || !t.Before(start)) && (end.IsZero() || t.Before(end))
	}

	report := domain.SalesReport{From: from, To: to}
	returnedValue := decimal.Zero
	for _, order := range s.state.Orders() {
		if !inWindow(order.Date) {
			continue
		}
		report.Orders++
		report.GrossSales = report.GrossSales.Add(order.Subtotal)
		report.Discounts = report.Discounts.Add(order.Discount)
		report.Tax = report.Tax.Add(order.Tax)
		switch order.PaymentMethod {
		case domain.PaymentCredit:
			report.CreditSales = report.CreditSales.Add(order.Total)
		default:
			report.CashSales = report.CashSales.Add(order.Total)
		}

		lineReturns := decimal.Zero
		for _, item := range order.Items {
			report.ItemsSold += item.Quantity
			report.ItemsReturned += item.ReturnedQuantity
			kept := decimal.NewFromInt(int64(item.Returnable()))
			report.CostOfGoods = report.CostOfGoods.Add(item.CostPrice.Mul(kept))
			lineReturns = lineReturns.Add(item.Price.Mul(decimal.NewFromInt(int64(item.ReturnedQuantity))))
		}
		if lineReturns.IsPositive() && order.Subtotal.IsPositive() {
			returnedValue = returnedValue.Add(lineReturns.Mul(order.Total).Div(order.Subtotal))
		}
	}
	for _, e := range s.state.Expenses() {
		if inWindow(e.Date) {
			report.Expenses = report.Expenses.Add(e.Amount)
		}
	}
	for _, c := range s.state.Customers() {
		if c.TotalDebt.IsPositive() {
			report.OutstandingAR = report.OutstandingAR.Add(c.TotalDebt)
		}
	}
	for _, sup := range s.state.Suppliers() {
		if sup.TotalDebt.IsPositive() {
			report.OutstandingAP = report.OutstandingAP.Add(sup.TotalDebt)
		}
	}
	for _, p := range s.state.Products() {
		if p.Status != domain.ProductStatusArchived && p.Stock <= p.MinStockLevel {
			report.LowStockCount++
		}
	}

	report.NetSales = report.CashSales.Add(report.CreditSales).Sub(returnedValue).Round(2)
	report.Profit = report.NetSales.Sub(report.Tax).Sub(report.CostOfGoods).Sub(report.Expenses).Round(2)
	return report, nil
}

func reportWindow(from string, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	if strings.TrimSpace(from) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(from))
		if err != nil {
			return start, end, fmt.Errorf("%w: from must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		start = parsed.UTC()
	}
	if strings.TrimSpace(to) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(to))
		if err != nil {
			return start, end, fmt.Errorf("%w: to must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		end = parsed.UTC().Add(24 * time.Hour)
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return start, end, fmt.Errorf("%w: from must not be after to", store.ErrInvalidInput)
	}
	return start, end, nil
}
