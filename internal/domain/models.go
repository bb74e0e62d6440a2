package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Documents on disk carry money as plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Barcode       string          `json:"barcode"`
	Price         decimal.Decimal `json:"price"`
	CostPrice     decimal.Decimal `json:"costPrice"`
	Category      string          `json:"category"`
	Stock         int             `json:"stock"`
	MinStockLevel int             `json:"minStockLevel"`
	Status        string          `json:"status"`
	Unit          string          `json:"unit,omitempty"`
	Image         string          `json:"image,omitempty"`
	Description   string          `json:"description,omitempty"`
}

// ProductPatch carries editable product fields. Stock is deliberately absent:
// it moves only through sales, returns and audited adjustments.
type ProductPatch struct {
	Name          *string          `json:"name,omitempty"`
	Barcode       *string          `json:"barcode,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	CostPrice     *decimal.Decimal `json:"costPrice,omitempty"`
	Category      *string          `json:"category,omitempty"`
	MinStockLevel *int             `json:"minStockLevel,omitempty"`
	Status        *string          `json:"status,omitempty"`
	Unit          *string          `json:"unit,omitempty"`
	Image         *string          `json:"image,omitempty"`
	Description   *string          `json:"description,omitempty"`
}

type CartItem struct {
	Product
	Quantity int `json:"quantity"`
}

type OrderItem struct {
	CartItem
	ReturnedQuantity int `json:"returnedQuantity"`
}

// Returnable is the quantity of the line that has not been returned yet.
func (i OrderItem) Returnable() int {
	if remaining := i.Quantity - i.ReturnedQuantity; remaining > 0 {
		return remaining
	}
	return 0
}

type Order struct {
	ID            string          `json:"id"`
	Items         []OrderItem     `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Date          time.Time       `json:"date"`
	PaymentMethod string          `json:"paymentMethod"`
	CustomerID    string          `json:"customerId,omitempty"`
	Status        string          `json:"status"`
	CashierID     string          `json:"cashierId,omitempty"`
	DiscountCode  string          `json:"discountCode,omitempty"`
}

type ReturnLine struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type Transaction struct {
	ID      string          `json:"id"`
	Date    time.Time       `json:"date"`
	Type    string          `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	OrderID string          `json:"orderId,omitempty"`
	Note    string          `json:"note,omitempty"`
}

type Customer struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Phone           string          `json:"phone"`
	TotalDebt       decimal.Decimal `json:"totalDebt"`
	MaxDebtLimit    decimal.Decimal `json:"maxDebtLimit"`
	NextPaymentDate *time.Time      `json:"nextPaymentDate,omitempty"`
	Transactions    []Transaction   `json:"transactions"`
}

type CustomerPatch struct {
	Name            *string          `json:"name,omitempty"`
	Phone           *string          `json:"phone,omitempty"`
	MaxDebtLimit    *decimal.Decimal `json:"maxDebtLimit,omitempty"`
	NextPaymentDate *time.Time       `json:"nextPaymentDate,omitempty"`
}

type Supplier struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Phone         string          `json:"phone"`
	ContactPerson string          `json:"contactPerson,omitempty"`
	TotalDebt     decimal.Decimal `json:"totalDebt"`
	Transactions  []Transaction   `json:"transactions"`
}

type SupplierPatch struct {
	Name          *string `json:"name,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	ContactPerson *string `json:"contactPerson,omitempty"`
}

type DiscountCode struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	Type       string          `json:"type"`
	Value      decimal.Decimal `json:"value"`
	StartDate  *time.Time      `json:"startDate,omitempty"`
	EndDate    *time.Time      `json:"endDate,omitempty"`
	UsageCount int             `json:"usageCount"`
	Active     bool            `json:"active"`
}

type Offer struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	TargetProductIDs []string        `json:"targetProductIds"`
	Type             string          `json:"type"`
	Value            decimal.Decimal `json:"value"`
	StartDate        *time.Time      `json:"startDate,omitempty"`
	EndDate          *time.Time      `json:"endDate,omitempty"`
	UsageCount       int             `json:"usageCount"`
	IsActive         bool            `json:"isActive"`
}

type Expense struct {
	ID          string          `json:"id"`
	Date        time.Time       `json:"date"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedBy   string          `json:"createdBy"`
}

type Unit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type User struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type UserPatch struct {
	Username    *string   `json:"username,omitempty"`
	Password    *string   `json:"password,omitempty"`
	Name        *string   `json:"name,omitempty"`
	Role        *string   `json:"role,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

type Settings struct {
	StoreName         string          `json:"storeName"`
	StoreAddress      string          `json:"storeAddress"`
	StorePhone        string          `json:"storePhone"`
	Currency          string          `json:"currency"`
	TaxRate           decimal.Decimal `json:"taxRate"`
	ReceiptHeader     string          `json:"receiptHeader"`
	ReceiptFooter     string          `json:"receiptFooter"`
	EnableStockAlerts bool            `json:"enableStockAlerts"`
	EnableDebtAlerts  bool            `json:"enableDebtAlerts"`
	HeaderLogoURL     string          `json:"headerLogoUrl,omitempty"`
	HeaderLogoWidth   int             `json:"headerLogoWidth,omitempty"`
	FooterLogoURL     string          `json:"footerLogoUrl,omitempty"`
	FooterLogoWidth   int             `json:"footerLogoWidth,omitempty"`
	ShowThankYouNote  bool            `json:"showThankYouNote,omitempty"`
}

type SettingsPatch struct {
	StoreName         *string          `json:"storeName,omitempty"`
	StoreAddress      *string          `json:"storeAddress,omitempty"`
	StorePhone        *string          `json:"storePhone,omitempty"`
	Currency          *string          `json:"currency,omitempty"`
	TaxRate           *decimal.Decimal `json:"taxRate,omitempty"`
	ReceiptHeader     *string          `json:"receiptHeader,omitempty"`
	ReceiptFooter     *string          `json:"receiptFooter,omitempty"`
	EnableStockAlerts *bool            `json:"enableStockAlerts,omitempty"`
	EnableDebtAlerts  *bool            `json:"enableDebtAlerts,omitempty"`
	HeaderLogoURL     *string          `json:"headerLogoUrl,omitempty"`
	HeaderLogoWidth   *int             `json:"headerLogoWidth,omitempty"`
	FooterLogoURL     *string          `json:"footerLogoUrl,omitempty"`
	FooterLogoWidth   *int             `json:"footerLogoWidth,omitempty"`
	ShowThankYouNote  *bool            `json:"showThankYouNote,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		StoreName:         "ELKHALED Store",
		Currency:          "EGP",
		TaxRate:           decimal.NewFromInt(14),
		ReceiptHeader:     "Welcome",
		ReceiptFooter:     "Thank you for your visit",
		EnableStockAlerts: true,
		EnableDebtAlerts:  true,
	}
}

type Notification struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Type    string    `json:"type"`
	Date    time.Time `json:"date"`
	Read    bool      `json:"read"`
	LinkTo  string    `json:"linkTo,omitempty"`
}

type AuditEntry struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Session is the local UI-state document that lets a session resume before
// the directory mirror is reconnected.
type Session struct {
	Settings      Settings       `json:"settings"`
	DiscountCodes []DiscountCode `json:"discountCodes"`
	Offers        []Offer        `json:"offers"`
	IsSystemSetup bool           `json:"isSystemSetup"`
	CurrentUser   *User          `json:"currentUser"`
	Users         []User         `json:"users"`
	Notifications []Notification `json:"notifications"`
	Cart          []CartItem     `json:"cart"`
}

const (
	ProductStatusActive   = "active"
	ProductStatusArchived = "archived"
)

const (
	PaymentCash   = "cash"
	PaymentCredit = "credit"
)

const (
	OrderStatusCompleted         = "completed"
	OrderStatusPartiallyReturned = "partially_returned"
	OrderStatusReturned          = "returned"
)

const (
	TxPurchase = "purchase"
	TxPayment  = "payment"
	TxRefund   = "refund"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

const (
	NotificationInfo    = "info"
	NotificationWarning = "warning"
	NotificationSuccess = "success"
	NotificationError   = "error"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const DefaultCategory = "General"

const DefaultMinStockLevel = 5
