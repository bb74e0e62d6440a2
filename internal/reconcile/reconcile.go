// Package reconcile maps persisted documents of any known vintage into the
// canonical entity shapes. Every function is pure: it never mutates its
// input, never fails, and returns an empty (non-nil) collection for empty or
// malformed input. Canonical field names win over legacy aliases when both
// are present, so canonical documents round-trip unchanged.
package reconcile

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"elkhaled/pos/internal/domain"
)

const (
	cashLabel   = "نقدي"
	creditLabel = "آجل"
)

func Products(raw any) []domain.Product {
	arr := asArray(raw)
	out := make([]domain.Product, 0, len(arr))
	for i, item := range arr {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		out = append(out, product(o, legacyID("product", i)))
	}
	return out
}

func product(o object, fallbackID string) domain.Product {
	p := domain.Product{
		ID:          text(o, "id"),
		Name:        text(o, "name"),
		Barcode:     text(o, "barcode"),
		Price:       money(o, "price"),
		CostPrice:   money(o, "costPrice", "purchasePrice"),
		Category:    text(o, "category"),
		Status:      text(o, "status"),
		Image:       text(o, "image"),
		Description: text(o, "description", "notes"),
		Unit:        text(o, "unit"),
	}
	if p.ID == "" {
		p.ID = fallbackID
	}
	if p.Unit == "" {
		if unit, ok := asObject(o["unit"]); ok {
			p.Unit = text(unit, "name")
		}
	}
	if stock, ok := integer(o, "stock", "quantity"); ok {
		p.Stock = stock
	}
	if minLevel, ok := integer(o, "minStockLevel"); ok {
		p.MinStockLevel = minLevel
	} else {
		p.MinStockLevel = domain.DefaultMinStockLevel
	}
	if p.Category == "" {
		p.Category = domain.DefaultCategory
	}
	if p.Status == "" {
		p.Status = domain.ProductStatusActive
	}
	return p
}

func Customers(raw any) []domain.Customer {
	arr := asArray(raw)
	out := make([]domain.Customer, 0, len(arr))
	for i, item := range arr {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		c := domain.Customer{
			ID:              text(o, "id"),
			Name:            text(o, "name"),
			Phone:           text(o, "phone"),
			TotalDebt:       money(o, "totalDebt", "debt"),
			MaxDebtLimit:    money(o, "maxDebtLimit"),
			NextPaymentDate: optionalTime(o, "nextPaymentDate"),
			Transactions:    transactions(o["transactions"], i, domain.TxPurchase, domain.TxPayment, domain.TxRefund),
		}
		if c.ID == "" {
			c.ID = legacyID("customer", i)
		}
		if c.MaxDebtLimit.IsNegative() {
			c.MaxDebtLimit = decimal.Zero
		}
		out = append(out, c)
	}
	return out
}

func Suppliers(raw any) []domain.Supplier {
	arr := asArray(raw)
	out := make([]domain.Supplier, 0, len(arr))
	for i, item := range arr {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		s := domain.Supplier{
			ID:            text(o, "id"),
			Name:          text(o, "name"),
			Phone:         text(o, "phone"),
			ContactPerson: text(o, "contactPerson"),
			TotalDebt:     money(o, "totalDebt", "debt"),
			Transactions:  transactions(o["transactions"], i, domain.TxPurchase, domain.TxPayment),
		}
		if s.ID == "" {
			s.ID = legacyID("supplier", i)
		}
		out = append(out, s)
	}
	return out
}

// transactions keeps ledger order and forces every amount to a positive
// number; the direction lives in the type.
func transactions(raw any, owner int, types ...string) []domain.Transaction {
	arr := asArray(raw)
	out := make([]domain.Transaction, 0, len(arr))
	for j, item := range arr {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		trx := domain.Transaction{
			ID:      text(o, "id"),
			Type:    text(o, "type"),
			Amount:  money(o, "amount").Abs(),
			OrderID: text(o, "orderId"),
			Note:    text(o, "note"),
		}
		if trx.ID == "" {
			trx.ID = legacyID("transaction", owner, j)
		}
		if !slices.Contains(types, trx.Type) {
			trx.Type = domain.TxPurchase
		}
		if t, ok := timestamp(o, "date"); ok {
			trx.Date = t
		}
		out = append(out, trx)
	}
	return out
}

func Orders(raw any) []domain.Order {
	arr := asArray(raw)
	out := make([]domain.Order, 0, len(arr))
	for i, item := range arr {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		order := domain.Order{
			ID:            text(o, "id"),
			Items:         orderItems(o["items"], i),
			Subtotal:      money(o, "subtotal"),
			Discount:      money(o, "discount"),
			Tax:           money(o, "tax"),
			Total:         money(o, "total"),
			PaymentMethod: paymentMethod(o),
			CustomerID:    text(o, "customerId"),
			Status:        text(o, "status"),
			CashierID:     text(o, "cashierId", "createdById"),
			DiscountCode:  text(o, "discountCode"),
		}
		if order.ID == "" {
			order.ID = legacyID("order", i)
		}
		if order.CustomerID == "" {
			if customer, ok := asObject(o["customer"]); ok {
				order.CustomerID = text(customer, "id")
			}
		}
		if order.DiscountCode == "" {
			if discount, ok := asObject(o["discount"]); ok {
				order.DiscountCode = strings.ToUpper(text(discount, "code"))
			}
		}
		switch order.Status {
		case domain.OrderStatusCompleted, domain.OrderStatusPartiallyReturned, domain.OrderStatusReturned:
		default:
			order.Status = domain.OrderStatusCompleted
		}
		if t, ok := timestamp(o, "date", "createdAt"); ok {
			order.Date = t
		}
		out = append(out, order)
	}
	return out
}

// orderItems flattens {product, qty} wrappers so every line carries the
// product fields at the top level.
func orderItems(raw any, order int) []domain.OrderItem {
	arr := asArray(raw)
	out := make([]domain.OrderItem, 0, len(arr))
	for j, item := range arr {
		line, ok := asObject(item)
		if !ok {
			continue
		}
		base, nested := asObject(line["product"])
		if !nested {
			base = line
		}
		p := product(base, legacyID("item", order, j))
		if !nested {
			// On a flat line quantity is the sold amount, not stock.
			p.Stock, _ = integer(line, "stock")
		}
		if id := text(base, "id"); id == "" {
			if lineID := text(line, "id", "productId"); lineID != "" {
				p.ID = lineID
			}
		}
		if price, ok := number(line, "price"); ok {
			p.Price = price
		}
		qty, _ := integer(line, "quantity", "qty")
		returned, _ := integer(line, "returnedQuantity")
		if qty < 0 {
			qty = 0
		}
		returned = max(0, min(returned, qty))
		out = append(out, domain.OrderItem{
			CartItem:         domain.CartItem{Product: p, Quantity: qty},
			ReturnedQuantity: returned,
		})
	}
	return out
}

func paymentMethod(o object) string {
	for _, v := range []string{text(o, "paymentMethod"), text(o, "paymentType")} {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case domain.PaymentCash, cashLabel:
			return domain.PaymentCash
		case domain.PaymentCredit, creditLabel:
			return domain.PaymentCredit
		}
	}
	return domain.PaymentCash
}

// Users keeps plain string permission lists and discards any richer
// permission shape rather than guessing its meaning.
func Users(raw any) []domain.User {
	arr := asArray(raw)
	out := make([]domain.User, 0, len(arr))
	for i, item := range arr {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		u := domain.User{
			ID:       text(o, "id"),
			Name:     text(o, "name"),
			Username: text(o, "username", "name"),
			Password: text(o, "password"),
			Role:     text(o, "role"),
		}
		if u.ID == "" {
			u.ID = legacyID("user", i)
		}
		if !domain.IsValidRole(u.Role) {
			if u.ID == "u1" {
				u.Role = domain.RoleAdmin
			} else {
				u.Role = domain.RoleCashier
			}
		}
		if perms, ok := stringList(o["permissions"]); ok {
			u.Permissions = perms
		} else {
			u.Permissions = []string{}
		}
		out = append(out, u)
	}
	return out
}

func Expenses(raw any) []domain.Expense {
	arr := asArray(raw)
	out := make([]domain.Expense, 0, len(arr))
	for i, item := range arr {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		e := domain.Expense{
			ID:          text(o, "id"),
			Category:    text(o, "category"),
			Description: text(o, "description"),
			Amount:      money(o, "amount"),
			CreatedBy:   text(o, "createdBy"),
		}
		if e.ID == "" {
			e.ID = legacyID("expense", i)
		}
		if t, ok := timestamp(o, "date"); ok {
			e.Date = t
		}
		out = append(out, e)
	}
	return out
}

func DiscountCodes(raw any) []domain.DiscountCode {
	arr := asArray(raw)
	out := make([]domain.DiscountCode, 0, len(arr))
	for i, item := range arr {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		dc := domain.DiscountCode{
			ID:        text(o, "id"),
			Code:      strings.ToUpper(strings.TrimSpace(text(o, "code"))),
			Type:      promotionType(text(o, "type")),
			Value:     money(o, "value"),
			StartDate: optionalTime(o, "startDate"),
			EndDate:   optionalTime(o, "endDate"),
			Active:    boolean(o, "active", false),
		}
		dc.UsageCount, _ = integer(o, "usageCount")
		if dc.ID == "" {
			dc.ID = legacyID("discount", i)
		}
		out = append(out, dc)
	}
	return out
}

func Offers(raw any) []domain.Offer {
	arr := asArray(raw)
	out := make([]domain.Offer, 0, len(arr))
	for i, item := range arr {
		o, ok := asObject(item)
		if !ok {
			continue
		}
		offer := domain.Offer{
			ID:        text(o, "id"),
			Name:      text(o, "name"),
			Type:      promotionType(text(o, "type")),
			Value:     money(o, "value"),
			StartDate: optionalTime(o, "startDate"),
			EndDate:   optionalTime(o, "endDate"),
			IsActive:  boolean(o, "isActive", false),
		}
		offer.UsageCount, _ = integer(o, "usageCount")
		if targets, ok := stringList(o["targetProductIds"]); ok {
			offer.TargetProductIDs = targets
		} else {
			offer.TargetProductIDs = []string{}
		}
		if offer.ID == "" {
			offer.ID = legacyID("offer", i)
		}
		out = append(out, offer)
	}
	return out
}

func promotionType(kind string) string {
	if kind == domain.DiscountFixed {
		return domain.DiscountFixed
	}
	return domain.DiscountPercentage
}

// Units accepts objects with a name, or a bare list of names.
func Units(raw any) []domain.Unit {
	arr := asArray(raw)
	out := make([]domain.Unit, 0, len(arr))
	for i, item := range arr {
		var u domain.Unit
		switch v := item.(type) {
		case string:
			u.Name = v
		case map[string]any:
			u.ID = text(v, "id")
			u.Name = text(v, "name")
		default:
			continue
		}
		if u.Name == "" {
			continue
		}
		if u.ID == "" {
			u.ID = legacyID("unit", i)
		}
		out = append(out, u)
	}
	return out
}

// Settings overlays whatever fields the document carries onto defaults.
func Settings(raw any, defaults domain.Settings) domain.Settings {
	o, ok := asObject(raw)
	if !ok {
		return defaults
	}
	s := defaults
	if v := text(o, "storeName"); v != "" {
		s.StoreName = v
	}
	if _, ok := o["storeAddress"]; ok {
		s.StoreAddress = text(o, "storeAddress")
	}
	if _, ok := o["storePhone"]; ok {
		s.StorePhone = text(o, "storePhone")
	}
	if v := text(o, "currency"); v != "" {
		s.Currency = v
	}
	if rate, ok := number(o, "taxRate"); ok && !rate.IsNegative() {
		s.TaxRate = rate
	}
	if _, ok := o["receiptHeader"]; ok {
		s.ReceiptHeader = text(o, "receiptHeader")
	}
	if _, ok := o["receiptFooter"]; ok {
		s.ReceiptFooter = text(o, "receiptFooter")
	}
	s.EnableStockAlerts = boolean(o, "enableStockAlerts", s.EnableStockAlerts)
	s.EnableDebtAlerts = boolean(o, "enableDebtAlerts", s.EnableDebtAlerts)
	s.HeaderLogoURL = text(o, "headerLogoUrl")
	s.FooterLogoURL = text(o, "footerLogoUrl")
	if w, ok := integer(o, "headerLogoWidth"); ok {
		s.HeaderLogoWidth = w
	}
	if w, ok := integer(o, "footerLogoWidth"); ok {
		s.FooterLogoWidth = w
	}
	s.ShowThankYouNote = boolean(o, "showThankYouNote", false)
	return s
}
