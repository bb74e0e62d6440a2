package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"elkhaled/pos/internal/docstore"
	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/pairing"
	"elkhaled/pos/internal/service"
	"elkhaled/pos/internal/store"
)

const (
	loginRate = "5-M"
	pairRate  = "30-M"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *stdlib.Middleware
	pairLimiter   *stdlib.Middleware
	csrfSecret    []byte
	pairHost      *pairing.Host
}

type Option func(*API)

// WithPairingHost serves phones dialing /pair directly.
func WithPairingHost(host *pairing.Host) Option {
	return func(a *API) {
		a.pairHost = host
	}
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, opts ...Option) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	a := &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newRateLimiter(loginRate, "too many login attempts"),
		pairLimiter:   newRateLimiter(pairRate, "too many pairing attempts"),
		csrfSecret:    csrfSecret,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func newRateLimiter(formatted string, message string) *stdlib.Middleware {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		log.Fatalf("[httpapi] invalid rate %q: %v", formatted, err)
	}
	return stdlib.NewMiddleware(limiter.New(memory.NewStore(), rate),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, errors.New(message))
		}),
	)
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/api/v1/auth/login", a.loginLimiter.Handler(http.HandlerFunc(a.handleLogin)))
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("/api/v1/auth/logout", a.requireAuth(a.handleLogout))
	mux.HandleFunc("/api/v1/auth/me", a.requireAuth(a.handleMe))
	mux.HandleFunc("/api/v1/setup", a.handleSetup)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts))
	mux.HandleFunc("/api/v1/products/{id}", a.requireAuth(a.handleProduct))
	mux.HandleFunc("/api/v1/products/{id}/stock", a.requireAuth(a.handleProductStock))
	mux.HandleFunc("/api/v1/units", a.requireAuth(a.handleUnits))
	mux.HandleFunc("/api/v1/units/{id}", a.requireAuth(a.handleUnit))

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleCart))
	mux.HandleFunc("/api/v1/cart/items", a.requireAuth(a.handleCartItems))
	mux.HandleFunc("/api/v1/cart/items/{id}", a.requireAuth(a.handleCartItem))
	mux.HandleFunc("/api/v1/cart/scan", a.requireAuth(a.handleCartScan))
	mux.HandleFunc("/api/v1/cart/offers/{id}", a.requireAuth(a.handleCartOffer))
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout))
	mux.HandleFunc("/api/v1/checkout/quote", a.requireAuth(a.handleQuote))

	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders))
	mux.HandleFunc("/api/v1/orders/{id}", a.requireAuth(a.handleOrder))
	mux.HandleFunc("/api/v1/orders/{id}/returns", a.requireAuth(a.handleOrderReturns))
	mux.HandleFunc("/api/v1/orders/{id}/receipt", a.requireAuth(a.handleOrderReceipt))

	mux.HandleFunc("/api/v1/customers", a.requireAuth(a.handleCustomers))
	mux.HandleFunc("/api/v1/customers/{id}", a.requireAuth(a.handleCustomer))
	mux.HandleFunc("/api/v1/customers/{id}/transactions", a.requireAuth(a.handleCustomerTransactions))
	mux.HandleFunc("/api/v1/suppliers", a.requireAuth(a.handleSuppliers))
	mux.HandleFunc("/api/v1/suppliers/{id}", a.requireAuth(a.handleSupplier))
	mux.HandleFunc("/api/v1/suppliers/{id}/transactions", a.requireAuth(a.handleSupplierTransactions))

	mux.HandleFunc("/api/v1/discount-codes", a.requireAuth(a.handleDiscountCodes))
	mux.HandleFunc("/api/v1/discount-codes/{id}", a.requireAuth(a.handleDiscountCode))
	mux.HandleFunc("/api/v1/offers", a.requireAuth(a.handleOffers))
	mux.HandleFunc("/api/v1/offers/{id}", a.requireAuth(a.handleOffer))
	mux.HandleFunc("/api/v1/offers/{id}/toggle", a.requireAuth(a.handleOfferToggle))
	mux.HandleFunc("/api/v1/expenses", a.requireAuth(a.handleExpenses))
	mux.HandleFunc("/api/v1/expenses/{id}", a.requireAuth(a.handleExpense))

	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers))
	mux.HandleFunc("/api/v1/users/{id}", a.requireAuth(a.handleUser))
	mux.HandleFunc("/api/v1/settings", a.requireAuth(a.handleSettings))
	mux.HandleFunc("/api/v1/notifications", a.requireAuth(a.handleNotifications))
	mux.HandleFunc("/api/v1/notifications/{id}/read", a.requireAuth(a.handleNotificationRead))
	mux.HandleFunc("/api/v1/audit", a.requireAuth(a.handleAuditLog))
	mux.HandleFunc("/api/v1/reports/sales", a.requireAuth(a.handleSalesReport))

	mux.HandleFunc("/api/v1/storage", a.requireAuth(a.handleStorage))
	mux.HandleFunc("/api/v1/storage/connect", a.requireAuth(a.handleStorageConnect))
	mux.HandleFunc("/api/v1/storage/save", a.requireAuth(a.handleStorageSave))
	mux.HandleFunc("/api/v1/storage/restore", a.requireAuth(a.handleStorageRestore))

	mux.HandleFunc("/api/v1/pairing", a.requireAuth(a.handlePairing))
	mux.HandleFunc("/api/v1/pairing/qr.png", a.requireAuth(a.handlePairingQR))
	mux.HandleFunc("/api/v1/pairing/request-scan", a.requireAuth(a.handleRequestScan))
	mux.HandleFunc("/api/v1/assistant", a.requireAuth(a.handleAssistant))

	if a.pairHost != nil {
		mux.Handle("/pair", a.pairLimiter.Handler(a.pairSocket()))
	}

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

// pairSocket accepts a phone presenting a ticket issued by this session.
func (a *API) pairSocket() http.Handler {
	return pairing.WebsocketHandler(
		func(r *http.Request) error {
			return a.service.VerifyPairingTicket(r.URL.Query().Get("host"))
		},
		func(r *http.Request, conn pairing.Conn) {
			if err := a.pairHost.Serve(conn); err != nil && !errors.Is(err, pairing.ErrClosed) {
				log.Printf("[pairing] phone session ended remote=%s: %v", r.RemoteAddr, err)
			}
		},
	)
}

// csrfExemptPaths are called before the client can hold a token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/setup",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// It writes the error response and returns false when validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeServiceError maps service and store errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var warning *service.DebtLimitWarning
	if errors.As(err, &warning) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   warning.Error(),
			"warning": warning,
		})
		return
	}
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, pairing.ErrInvalidTicket):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden), errors.Is(err, docstore.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, docstore.ErrCancelled),
		errors.Is(err, docstore.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadySetup), errors.Is(err, docstore.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, service.ErrStorageUnavailable), errors.Is(err, service.ErrPairingDisabled),
		errors.Is(err, service.ErrAssistantNotEnabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// userView is a user without the password hash.
type userView struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func viewUser(u domain.User) userView {
	return userView{ID: u.ID, Username: u.Username, Name: u.Name, Role: u.Role, Permissions: u.Permissions}
}

func viewUsers(users []domain.User) []userView {
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, viewUser(u))
	}
	return out
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses hide internals; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 && status != http.StatusServiceUnavailable {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
