package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	UserID   string
	Username string
	Role     string
}

type CheckoutRequest struct {
	PaymentMethod string `json:"paymentMethod"`
	CustomerID    string `json:"customerId,omitempty"`
	DiscountCode  string `json:"discountCode,omitempty"`
	CashierID     string `json:"-"`
	// Confirm acknowledges a debt-limit warning for credit sales.
	Confirm bool `json:"confirm"`
}

// Quote holds cart totals before an order is placed.
type Quote struct {
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	Tax          decimal.Decimal `json:"tax"`
	Total        decimal.Decimal `json:"total"`
	DiscountCode string          `json:"discountCode,omitempty"`
	ItemCount    int             `json:"itemCount"`
}

type ReturnRequest struct {
	Items []ReturnLine `json:"items"`
}

type StockAdjustmentRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SetupRequest struct {
	Settings SettingsPatch `json:"settings"`
	Admin    UserPatch     `json:"admin"`
}

type SalesReport struct {
	From          string          `json:"from"`
	To            string          `json:"to"`
	Orders        int             `json:"orders"`
	ItemsSold     int             `json:"itemsSold"`
	ItemsReturned int             `json:"itemsReturned"`
	GrossSales    decimal.Decimal `json:"grossSales"`
	Discounts     decimal.Decimal `json:"discounts"`
	Tax           decimal.Decimal `json:"tax"`
	NetSales      decimal.Decimal `json:"netSales"`
	CashSales     decimal.Decimal `json:"cashSales"`
	CreditSales   decimal.Decimal `json:"creditSales"`
	CostOfGoods   decimal.Decimal `json:"costOfGoods"`
	Expenses      decimal.Decimal `json:"expenses"`
	Profit        decimal.Decimal `json:"profit"`
	OutstandingAR decimal.Decimal `json:"outstandingReceivables"`
	OutstandingAP decimal.Decimal `json:"outstandingPayables"`
	LowStockCount int             `json:"lowStockCount"`
}

// StorageStatus describes the document mirror as seen by the operator.
type StorageStatus struct {
	State        string            `json:"state"`
	Directory    string            `json:"directory,omitempty"`
	LastSavedAt  *time.Time        `json:"lastSavedAt,omitempty"`
	LastFailedAt *time.Time        `json:"lastFailedAt,omitempty"`
	Failures     map[string]string `json:"failures,omitempty"`
	Pending      []string          `json:"pending,omitempty"`
}

const (
	MsgSync           = "SYNC"
	MsgScan           = "SCAN"
	MsgScanResult     = "SCAN_RESULT"
	MsgOpenCamera     = "OPEN_CAMERA"
	MsgRequestScan    = "REQUEST_SCAN"
	MsgReceiveBarcode = "RECEIVE_BARCODE"
	MsgHello          = "HELLO"
)

// PairingMessage is the transport-independent envelope exchanged between
// the desktop session and a paired phone.
type PairingMessage struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Products  []Product `json:"products,omitempty"`
	Barcode   string    `json:"barcode,omitempty"`
	Requester string    `json:"requester,omitempty"`
}

type CartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type ScanRequest struct {
	Barcode string `json:"barcode"`
}

type StorageConnectRequest struct {
	Kind     string `json:"kind,omitempty"`
	Location string `json:"location"`
}

type StorageConnectResponse struct {
	Imported bool          `json:"imported"`
	Status   StorageStatus `json:"status"`
}

// PairingInfo is what the desktop shows next to the pairing code.
type PairingInfo struct {
	Mode      string    `json:"mode"`
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Online    bool      `json:"online"`
	Peers     int       `json:"peers"`
}

type AssistantRequest struct {
	Text string `json:"text"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   string `json:"expiresAt"`
	Role        string `json:"role"`
}
