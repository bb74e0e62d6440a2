package service

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"elkhaled/pos/internal/docstore"
	"elkhaled/pos/internal/docstore/fsdir"
	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/mirror"
	"elkhaled/pos/internal/pairing"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/store/memory"
)

func testUsers() []domain.User {
	return []domain.User{
		{ID: "1", Username: "admin", Password: "123", Name: "Administrator", Role: domain.RoleAdmin},
		{ID: "2", Username: "sara", Password: "456", Name: "Sara", Role: domain.RoleCashier, Permissions: []string{domain.PermPOSAccess}},
	}
}

func newTestService(opts ...Option) *Service {
	return New(memory.New(memory.WithUsers(testUsers())), opts...)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: "1", Username: "admin", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: "2", Username: "sara", Role: domain.RoleCashier})
}

func money(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func zeroTax(t *testing.T, svc *Service) {
	t.Helper()
	rate := decimal.Zero
	if _, err := svc.UpdateSettings(adminCtx(), domain.SettingsPatch{TaxRate: &rate}); err != nil {
		t.Fatalf("update settings failed: %v", err)
	}
}

func mustProduct(t *testing.T, svc *Service, p domain.Product) domain.Product {
	t.Helper()
	created, err := svc.CreateProduct(adminCtx(), p)
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	return created
}

func TestMutatorsRequirePermission(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(context.Background(), domain.Product{Name: "Tea", Price: money(10)})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}

	_, err = svc.CreateProduct(cashierCtx(), domain.Product{Name: "Tea", Price: money(10)})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden error for cashier, got %v", err)
	}
	if len(svc.State().Products()) != 0 {
		t.Fatalf("forbidden call must not touch state")
	}

	if _, err := svc.ListProducts(cashierCtx()); err != nil {
		t.Fatalf("cashier with pos access should list products: %v", err)
	}
	if _, err := svc.ListUsers(cashierCtx()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden listing staff, got %v", err)
	}

	ghost := WithActor(context.Background(), domain.Actor{UserID: "missing"})
	if _, err := svc.ListProducts(ghost); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unknown actor to be unauthenticated, got %v", err)
	}
}

func TestDesktopSessionActsWithoutExplicitActor(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Login(context.Background(), domain.LoginRequest{Username: "sara", Password: "456"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := svc.Cart(context.Background()); err != nil {
		t.Fatalf("logged-in cashier should reach the cart: %v", err)
	}
	if _, err := svc.UpdateSettings(context.Background(), domain.SettingsPatch{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden settings update, got %v", err)
	}

	svc.Logout(context.Background())
	if _, err := svc.Cart(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated after logout, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), domain.LoginRequest{Username: "nobody", Password: "123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestCompleteSetupRunsOnce(t *testing.T) {
	svc := newTestService()
	name := "Corner Shop"
	password := "s3cret"
	err := svc.CompleteSetup(context.Background(), domain.SetupRequest{
		Settings: domain.SettingsPatch{StoreName: &name},
		Admin:    domain.UserPatch{Password: &password},
	})
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if !svc.IsSystemSetup() {
		t.Fatalf("expected system to be set up")
	}
	if _, err := svc.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "s3cret"}); err != nil {
		t.Fatalf("admin should log in with the new password: %v", err)
	}
	if err := svc.CompleteSetup(context.Background(), domain.SetupRequest{}); !errors.Is(err, ErrAlreadySetup) {
		t.Fatalf("expected already set up, got %v", err)
	}
}

func TestCreditCheckoutWarnsAboveLimitUntilConfirmed(t *testing.T) {
	svc := newTestService()
	zeroTax(t, svc)
	tv := mustProduct(t, svc, domain.Product{Name: "TV", Price: money(500), Stock: 10})
	fridge := mustProduct(t, svc, domain.Product{Name: "Fridge", Price: money(600), Stock: 10})
	customer, err := svc.CreateCustomer(adminCtx(), domain.Customer{Name: "Omar", MaxDebtLimit: money(1000)})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	ctx := cashierCtx()
	if _, err := svc.AddToCart(ctx, tv.ID); err != nil {
		t.Fatalf("add to cart failed: %v", err)
	}
	order, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "credit", CustomerID: customer.ID})
	if err != nil {
		t.Fatalf("first credit checkout failed: %v", err)
	}
	if order.CashierID != "2" {
		t.Fatalf("expected cashier id 2, got %q", order.CashierID)
	}

	if _, err := svc.AddToCart(ctx, fridge.ID); err != nil {
		t.Fatalf("add to cart failed: %v", err)
	}
	_, err = svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "credit", CustomerID: customer.ID})
	var warning *DebtLimitWarning
	if !errors.As(err, &warning) {
		t.Fatalf("expected debt limit warning, got %v", err)
	}
	if !warning.CurrentDebt.Equal(money(500)) || !warning.OrderTotal.Equal(money(600)) || warning.Overdue {
		t.Fatalf("unexpected warning %+v", warning)
	}
	if len(svc.State().Cart()) != 1 {
		t.Fatalf("a warned checkout must keep the cart")
	}

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "credit", CustomerID: customer.ID, Confirm: true}); err != nil {
		t.Fatalf("confirmed checkout failed: %v", err)
	}
	updated, _ := svc.GetCustomer(adminCtx(), customer.ID)
	if !updated.TotalDebt.Equal(money(1100)) {
		t.Fatalf("expected debt 1100, got %s", updated.TotalDebt)
	}
	if len(updated.Transactions) != 2 || updated.Transactions[0].Type != domain.TxPurchase {
		t.Fatalf("expected two purchase transactions newest first, got %+v", updated.Transactions)
	}
}

func TestCreditLimitCoversItemsScannedDuringCheckout(t *testing.T) {
	svc := newTestService()
	zeroTax(t, svc)
	chair := mustProduct(t, svc, domain.Product{Name: "Chair", Price: money(400), Stock: 10})
	table := mustProduct(t, svc, domain.Product{Name: "Table", Price: money(700), Stock: 10})
	customer, err := svc.CreateCustomer(adminCtx(), domain.Customer{Name: "Omar", MaxDebtLimit: money(1000)})
	if err != nil {
		t.Fatalf("create customer failed: %v", err)
	}

	ctx := cashierCtx()
	if _, err := svc.AddToCart(ctx, chair.ID); err != nil {
		t.Fatalf("add to cart failed: %v", err)
	}
	svc.checkoutHook = func() {
		svc.checkoutHook = nil
		if _, err := svc.AddToCart(ctx, table.ID); err != nil {
			t.Errorf("scan during checkout failed: %v", err)
		}
	}

	_, err = svc.Checkout(ctx, domain.CheckoutRequest{PaymentMethod: "credit", CustomerID: customer.ID})
	var warning *DebtLimitWarning
	if !errors.As(err, &warning) {
		t.Fatalf("expected debt limit warning, got %v", err)
	}
	if !warning.OrderTotal.Equal(money(1100)) {
		t.Fatalf("expected the warning to cover both items, got total %s", warning.OrderTotal)
	}
	if len(svc.State().Cart()) != 2 {
		t.Fatalf("a warned checkout must keep the cart, got %+v", svc.State().Cart())
	}
	if len(svc.State().Orders()) != 0 {
		t.Fatalf("no order should be placed past the limit")
	}
	updated, _ := svc.GetCustomer(adminCtx(), customer.ID)
	if !updated.TotalDebt.IsZero() {
		t.Fatalf("expected no debt, got %s", updated.TotalDebt)
	}
}

func TestCreditCheckoutWarnsWhenOverdue(t *testing.T) {
	svc := newTestService()
	zeroTax(t, svc)
	tea := mustProduct(t, svc, domain.Product{Name: "Tea", Price: money(20), Stock: 10})
	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	customer, _ := svc.CreateCustomer(adminCtx(), domain.Customer{Name: "Mona"})
	if _, err := svc.UpdateCustomer(adminCtx(), customer.ID, domain.CustomerPatch{NextPaymentDate: &yesterday}); err != nil {
		t.Fatalf("update customer failed: %v", err)
	}

	_, _ = svc.AddToCart(adminCtx(), tea.ID)
	_, err := svc.Checkout(adminCtx(), domain.CheckoutRequest{PaymentMethod: "credit", CustomerID: customer.ID})
	var warning *DebtLimitWarning
	if !errors.As(err, &warning) || !warning.Overdue {
		t.Fatalf("expected overdue warning, got %v", err)
	}

	_, err = svc.Checkout(adminCtx(), domain.CheckoutRequest{PaymentMethod: "credit", CustomerID: "nobody"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected unknown customer to fail with not found, got %v", err)
	}
}

func TestOffersPriceCartLines(t *testing.T) {
	svc := newTestService()
	juice := mustProduct(t, svc, domain.Product{Name: "Juice", Barcode: "111", Price: money(50), Stock: 10})
	chips := mustProduct(t, svc, domain.Product{Name: "Chips", Barcode: "222", Price: money(20), Stock: 10})
	offer, err := svc.CreateOffer(adminCtx(), domain.Offer{
		Name:             "Snack combo",
		TargetProductIDs: []string{juice.ID, chips.ID},
		Type:             domain.DiscountPercentage,
		Value:            money(10),
		IsActive:         true,
	})
	if err != nil {
		t.Fatalf("create offer failed: %v", err)
	}

	cart, err := svc.AddToCart(cashierCtx(), juice.ID)
	if err != nil {
		t.Fatalf("add to cart failed: %v", err)
	}
	if !cart[0].Price.Equal(money(45)) {
		t.Fatalf("expected offer price 45, got %s", cart[0].Price)
	}
	catalog, _ := svc.GetProduct(adminCtx(), juice.ID)
	if !catalog.Price.Equal(money(50)) {
		t.Fatalf("offer must not change the catalog price, got %s", catalog.Price)
	}

	cart, err = svc.AddOfferToCart(cashierCtx(), offer.ID)
	if err != nil {
		t.Fatalf("add offer failed: %v", err)
	}
	if len(cart) != 2 || cart[0].Quantity != 2 || !cart[1].Price.Equal(money(18)) {
		t.Fatalf("unexpected cart after offer %+v", cart)
	}
	offers, _ := svc.ListOffers(adminCtx())
	if offers[0].UsageCount != 1 {
		t.Fatalf("expected offer usage 1, got %d", offers[0].UsageCount)
	}

	if _, err := svc.ToggleOffer(adminCtx(), offer.ID); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if _, err := svc.AddOfferToCart(cashierCtx(), offer.ID); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected inactive offer to be rejected, got %v", err)
	}
}

func TestScanBarcodeAddsToCart(t *testing.T) {
	svc := newTestService()
	mustProduct(t, svc, domain.Product{Name: "Milk", Barcode: "6221000000011", Price: money(30), Stock: 5})

	product, err := svc.ScanBarcode(cashierCtx(), " 6221000000011 ")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if product.Name != "Milk" {
		t.Fatalf("expected milk, got %s", product.Name)
	}
	if _, err := svc.ScanBarcode(cashierCtx(), "0000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown barcode, got %v", err)
	}
	cart, _ := svc.Cart(cashierCtx())
	if len(cart) != 1 || cart[0].Quantity != 1 {
		t.Fatalf("unexpected cart %+v", cart)
	}
}

func TestReturnRefundsCreditOrders(t *testing.T) {
	svc := newTestService()
	zeroTax(t, svc)
	lamp := mustProduct(t, svc, domain.Product{Name: "Lamp", Price: money(100), Stock: 3})
	customer, _ := svc.CreateCustomer(adminCtx(), domain.Customer{Name: "Ali"})

	_, _ = svc.AddToCart(adminCtx(), lamp.ID)
	_, _ = svc.AddToCart(adminCtx(), lamp.ID)
	order, err := svc.Checkout(adminCtx(), domain.CheckoutRequest{PaymentMethod: "credit", CustomerID: customer.ID})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if _, err := svc.ReturnItems(cashierCtx(), order.ID, domain.ReturnRequest{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden return for cashier, got %v", err)
	}

	returned, err := svc.ReturnItems(adminCtx(), order.ID, domain.ReturnRequest{Items: []domain.ReturnLine{{ItemID: lamp.ID, Quantity: 5}}})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if returned.Status != domain.OrderStatusReturned || returned.Items[0].ReturnedQuantity != 2 {
		t.Fatalf("unexpected order after return %+v", returned)
	}
	c, _ := svc.GetCustomer(adminCtx(), customer.ID)
	if !c.TotalDebt.IsZero() || c.Transactions[0].Type != domain.TxRefund {
		t.Fatalf("expected refund to clear the debt, got %s %+v", c.TotalDebt, c.Transactions)
	}
	p, _ := svc.GetProduct(adminCtx(), lamp.ID)
	if p.Stock != 3 {
		t.Fatalf("expected stock restored to 3, got %d", p.Stock)
	}

	if _, err := svc.ReturnItems(adminCtx(), "missing", domain.ReturnRequest{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSalesReport(t *testing.T) {
	svc := newTestService()
	zeroTax(t, svc)
	soap := mustProduct(t, svc, domain.Product{Name: "Soap", Price: money(100), CostPrice: money(60), Stock: 10, MinStockLevel: 2})
	_, _ = svc.AddToCart(adminCtx(), soap.ID)
	_, _ = svc.AddToCart(adminCtx(), soap.ID)
	order, err := svc.Checkout(adminCtx(), domain.CheckoutRequest{PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if _, err := svc.CreateExpense(adminCtx(), domain.Expense{Description: "Rent", Amount: money(30)}); err != nil {
		t.Fatalf("create expense failed: %v", err)
	}
	if _, err := svc.ReturnItems(adminCtx(), order.ID, domain.ReturnRequest{Items: []domain.ReturnLine{{ItemID: soap.ID, Quantity: 1}}}); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	report, err := svc.SalesReport(adminCtx(), today, today)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if report.Orders != 1 || report.ItemsSold != 2 || report.ItemsReturned != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if !report.GrossSales.Equal(money(200)) || !report.NetSales.Equal(money(100)) {
		t.Fatalf("unexpected sales gross=%s net=%s", report.GrossSales, report.NetSales)
	}
	if !report.CostOfGoods.Equal(money(60)) || !report.Expenses.Equal(money(30)) || !report.Profit.Equal(money(10)) {
		t.Fatalf("unexpected profit cogs=%s expenses=%s profit=%s", report.CostOfGoods, report.Expenses, report.Profit)
	}

	if _, err := svc.SalesReport(adminCtx(), "yesterday", ""); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid date, got %v", err)
	}
	if _, err := svc.SalesReport(cashierCtx(), "", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden report, got %v", err)
	}
}

func TestReceiptCarriesCustomerAndSettings(t *testing.T) {
	svc := newTestService()
	rice := mustProduct(t, svc, domain.Product{Name: "Rice", Price: money(40), Stock: 10})
	customer, _ := svc.CreateCustomer(adminCtx(), domain.Customer{Name: "Huda"})
	_, _ = svc.AddToCart(adminCtx(), rice.ID)
	order, err := svc.Checkout(adminCtx(), domain.CheckoutRequest{PaymentMethod: "credit", CustomerID: customer.ID})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	receipt, err := svc.Receipt(cashierCtx(), order.ID)
	if err != nil {
		t.Fatalf("receipt failed: %v", err)
	}
	if receipt.CustomerName != "Huda" || receipt.CashierName != "Administrator" {
		t.Fatalf("unexpected receipt names %+v", receipt)
	}
	if receipt.Settings.StoreName != domain.DefaultSettings().StoreName {
		t.Fatalf("expected store settings on receipt")
	}
}

func TestStockAdjustmentIsAudited(t *testing.T) {
	svc := newTestService()
	oil := mustProduct(t, svc, domain.Product{Name: "Oil", Price: money(80), Stock: 1})

	updated, err := svc.AdjustStock(adminCtx(), oil.ID, domain.StockAdjustmentRequest{Delta: 9, Reason: "delivery"})
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if updated.Stock != 10 {
		t.Fatalf("expected stock 10, got %d", updated.Stock)
	}

	entries, err := svc.ListAuditLog(adminCtx(), 10)
	if err != nil {
		t.Fatalf("audit log failed: %v", err)
	}
	if len(entries) == 0 || entries[0].Action != "stock_adjust" || entries[0].Actor != "admin" {
		t.Fatalf("expected newest entry to be the stock adjustment, got %+v", entries)
	}
}

func TestDeleteUserRejectsSelf(t *testing.T) {
	svc := newTestService()
	if err := svc.DeleteUser(adminCtx(), "1"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected self delete to fail, got %v", err)
	}
	if err := svc.DeleteUser(adminCtx(), "2"); err != nil {
		t.Fatalf("delete cashier failed: %v", err)
	}
	if _, err := svc.Cart(cashierCtx()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("deleted user must lose access, got %v", err)
	}
}

type scriptedInterpreter struct {
	reply Reply
	seen  AssistantSnapshot
}

func (i *scriptedInterpreter) Interpret(_ context.Context, _ string, snapshot AssistantSnapshot) (Reply, error) {
	i.seen = snapshot
	return i.reply, nil
}

func TestAssistantActionsUsePermissions(t *testing.T) {
	interp := &scriptedInterpreter{}
	svc := newTestService(WithInterpreter(interp))
	bread := mustProduct(t, svc, domain.Product{Name: "Bread", Price: money(5), Stock: 20})

	interp.reply = Reply{Text: "added", Action: &Action{Kind: ActionAddToCart, ProductID: bread.ID, Quantity: 3}}
	if _, err := svc.Assist(cashierCtx(), "add 3 bread"); err != nil {
		t.Fatalf("assist failed: %v", err)
	}
	if len(interp.seen.Products) != 1 {
		t.Fatalf("interpreter should see the catalog")
	}
	cart, _ := svc.Cart(cashierCtx())
	if len(cart) != 1 || cart[0].Quantity != 3 {
		t.Fatalf("unexpected cart %+v", cart)
	}

	price := money(7)
	interp.reply = Reply{Text: "price set", Action: &Action{Kind: ActionSetPrice, ProductID: bread.ID, Price: &price}}
	reply, err := svc.Assist(cashierCtx(), "bread costs 7")
	if !errors.Is(err, ErrForbidden) || !reply.IsError {
		t.Fatalf("expected forbidden price change, got %v %+v", err, reply)
	}

	stock := 4
	interp.reply = Reply{Text: "stock set", Action: &Action{Kind: ActionSetStock, ProductID: bread.ID, Stock: &stock}}
	if _, err := svc.Assist(adminCtx(), "bread stock 4"); err != nil {
		t.Fatalf("assist failed: %v", err)
	}
	p, _ := svc.GetProduct(adminCtx(), bread.ID)
	if p.Stock != 4 {
		t.Fatalf("expected stock 4, got %d", p.Stock)
	}

	if _, err := newTestService().Assist(adminCtx(), "hello"); !errors.Is(err, ErrAssistantNotEnabled) {
		t.Fatalf("expected assistant not enabled, got %v", err)
	}
}

type memHandles struct {
	handle *docstore.Handle
}

func (m *memHandles) LoadHandle(context.Context) (docstore.Handle, bool, error) {
	if m.handle == nil {
		return docstore.Handle{}, false, nil
	}
	return *m.handle, true, nil
}

func (m *memHandles) SaveHandle(_ context.Context, h docstore.Handle) error {
	m.handle = &h
	return nil
}

func (m *memHandles) ClearHandle(context.Context) error {
	m.handle = nil
	return nil
}

func newStorageService(t *testing.T, handles *memHandles) *Service {
	t.Helper()
	state := memory.New(memory.WithUsers(testUsers()))
	docs := docstore.New(handles, nil, map[docstore.Kind]docstore.Opener{docstore.KindDirectory: fsdir.Open})
	return New(state, WithStorage(docs, mirror.New(state, docs), nil))
}

func TestConnectStorageSeedsThenImports(t *testing.T) {
	dir := t.TempDir()
	handles := &memHandles{}

	first := newStorageService(t, handles)
	mustProduct(t, first, domain.Product{ID: "p1", Name: "Sugar", Price: money(35), Stock: 8})
	resp, err := first.ConnectStorage(adminCtx(), domain.StorageConnectRequest{Location: dir})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if resp.Imported || resp.Status.State != string(docstore.StateConnected) || resp.Status.Directory != filepath.Base(dir) {
		t.Fatalf("unexpected connect response %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(dir, "products.json")); err != nil {
		t.Fatalf("expected seeded products document: %v", err)
	}

	second := newStorageService(t, &memHandles{})
	resp, err = second.ConnectStorage(adminCtx(), domain.StorageConnectRequest{Location: dir})
	if err != nil {
		t.Fatalf("second connect failed: %v", err)
	}
	if !resp.Imported {
		t.Fatalf("expected import from existing documents")
	}
	if _, err := second.GetProduct(adminCtx(), "p1"); err != nil {
		t.Fatalf("expected imported product: %v", err)
	}

	third := newStorageService(t, handles)
	status, err := third.RestoreStorage(adminCtx())
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if status.State != string(docstore.StateConnected) {
		t.Fatalf("expected connected after restore, got %s", status.State)
	}
	if _, err := third.SaveStorage(cashierCtx()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := third.ConnectStorage(cashierCtx(), domain.StorageConnectRequest{Location: dir}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden connect for cashier, got %v", err)
	}
}

func TestStorageWithoutCapability(t *testing.T) {
	svc := newStorageService(t, &memHandles{})
	if _, err := svc.SaveStorage(adminCtx()); !errors.Is(err, docstore.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if _, err := svc.RestoreStorage(adminCtx()); !errors.Is(err, docstore.ErrNotConnected) {
		t.Fatalf("expected not connected restore, got %v", err)
	}
	if _, err := svc.ConnectStorage(adminCtx(), domain.StorageConnectRequest{}); !errors.Is(err, docstore.ErrCancelled) {
		t.Fatalf("expected cancelled without picker, got %v", err)
	}
	if _, err := newTestService().ConnectStorage(adminCtx(), domain.StorageConnectRequest{Location: t.TempDir()}); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}

func TestPairingTicketsAndRemoteScans(t *testing.T) {
	state := memory.New(memory.WithUsers(testUsers()))
	p := NewPairing(PairingPeer, nil, pairing.NewTickets("secret", time.Minute), "http://pos.local:8080")
	svc := New(state, WithPairing(p))
	p.Host = pairing.NewHost(state.Products, svc.RemoteScanner())
	defer p.Host.Close()

	mustProduct(t, svc, domain.Product{Name: "Eggs", Barcode: "999", Price: money(60), Stock: 30})
	if _, err := svc.Login(context.Background(), domain.LoginRequest{Username: "sara", Password: "456"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	info, err := svc.PairingInfo(cashierCtx())
	if err != nil {
		t.Fatalf("pairing info failed: %v", err)
	}
	u, err := url.Parse(info.URL)
	if err != nil || u.Path != "/mobile" {
		t.Fatalf("unexpected pairing url %q", info.URL)
	}
	if err := svc.VerifyPairingTicket(u.Query().Get("host")); err != nil {
		t.Fatalf("issued ticket should verify: %v", err)
	}
	foreign, _, _ := pairing.NewTickets("secret", time.Minute).Issue("another-desk")
	if err := svc.VerifyPairingTicket(foreign); !errors.Is(err, pairing.ErrInvalidTicket) {
		t.Fatalf("expected foreign ticket to be rejected, got %v", err)
	}
	png, err := svc.PairingQRCode(cashierCtx(), 128)
	if err != nil || len(png) == 0 {
		t.Fatalf("qr code failed: %v", err)
	}

	phone, desk := pairing.Pipe()
	go func() { _ = p.Host.Serve(desk) }()
	if msg, err := phone.Receive(); err != nil || msg.Type != domain.MsgSync || len(msg.Products) != 1 {
		t.Fatalf("expected catalog sync, got %+v %v", msg, err)
	}
	if err := phone.Send(domain.PairingMessage{Type: domain.MsgScan, Barcode: "999"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(state.Cart()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(state.Cart()) != 1 {
		t.Fatalf("expected remote scan to add to cart")
	}

	sent, err := svc.RequestRemoteScan(cashierCtx())
	if err != nil || sent != 1 {
		t.Fatalf("expected one camera request, got %d %v", sent, err)
	}
	if msg, err := phone.Receive(); err != nil || msg.Type != domain.MsgOpenCamera || msg.Requester != "Sara" {
		t.Fatalf("expected camera request, got %+v %v", msg, err)
	}

	if _, err := newTestService().PairingInfo(adminCtx()); !errors.Is(err, ErrPairingDisabled) {
		t.Fatalf("expected pairing disabled, got %v", err)
	}
}
