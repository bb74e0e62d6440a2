package pairing

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	jwtlib "github.com/golang-jwt/jwt/v5"
)

var ErrInvalidTicket = errors.New("invalid or expired pairing ticket")

const ticketIssuer = "elkhaled-pos-pairing"

// Tickets issues the rendezvous tokens a phone presents when it dials the
// desktop. A ticket names the desktop session's rendezvous id and expires
// quickly so a photographed code cannot be reused later.
type Tickets struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTickets(secret string, ttl time.Duration) *Tickets {
	if secret == "" {
		secret = "dev-change-me"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Tickets{secret: []byte(secret), ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func (t *Tickets) Issue(rendezvousID string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := jwtlib.RegisteredClaims{
		Subject:   rendezvousID,
		Issuer:    ticketIssuer,
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(expiresAt),
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(t.secret)
	return token, expiresAt, err
}

// Verify returns the rendezvous id a valid ticket was issued for.
func (t *Tickets) Verify(ticket string) (string, error) {
	claims := &jwtlib.RegisteredClaims{}
	token, err := jwtlib.ParseWithClaims(ticket, claims, func(tok *jwtlib.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(ticketIssuer),
		jwtlib.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidTicket
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidTicket
	}
	return sub, nil
}

// PairingURL is the address encoded in the code the phone scans.
func PairingURL(baseURL string, ticket string) string {
	return strings.TrimRight(baseURL, "/") + "/mobile?host=" + url.QueryEscape(ticket)
}

// DialURL turns a scanned pairing URL into the websocket endpoint the
// phone connects to.
func DialURL(pairingURL string) (string, error) {
	u, err := url.Parse(pairingURL)
	if err != nil {
		return "", err
	}
	ticket := u.Query().Get("host")
	if ticket == "" {
		return "", fmt.Errorf("pairing url %q carries no host ticket", pairingURL)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("pairing url %q: unsupported scheme", pairingURL)
	}
	u.Path = "/pair"
	u.RawQuery = url.Values{"host": {ticket}}.Encode()
	return u.String(), nil
}

// QRCode renders content as a square PNG.
func QRCode(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, err
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
