package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a sortable-by-time identifier carrying a readable prefix.
func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	short := strings.ReplaceAll(id.String(), "-", "")[:12]
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), short)
}

// Rendezvous returns an opaque identifier suitable for pairing sessions.
func Rendezvous() string {
	return uuid.NewString()
}
