// Package scan turns keyboard-wedge input into decoded barcodes. Hardware
// scanners type a code much faster than a person and finish with Enter.
package scan

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultGap is the longest pause between characters of one scan.
const DefaultGap = 100 * time.Millisecond

// Wedge accumulates keystrokes and emits the buffer on Enter. A pause
// longer than the gap discards what was typed so far.
type Wedge struct {
	gap  time.Duration
	emit func(code string)
	now  func() time.Time

	mu   sync.Mutex
	buf  strings.Builder
	last time.Time
}

func NewWedge(gap time.Duration, emit func(code string)) *Wedge {
	if gap <= 0 {
		gap = DefaultGap
	}
	return &Wedge{gap: gap, emit: emit, now: time.Now}
}

// Key feeds one keystroke.
func (w *Wedge) Key(r rune) {
	w.mu.Lock()
	now := w.now()
	if !w.last.IsZero() && now.Sub(w.last) > w.gap {
		w.buf.Reset()
	}
	w.last = now

	if r != '\n' && r != '\r' {
		w.buf.WriteRune(r)
		w.mu.Unlock()
		return
	}
	code := strings.TrimSpace(w.buf.String())
	w.buf.Reset()
	w.mu.Unlock()

	if code != "" && w.emit != nil {
		w.emit(code)
	}
}

// Run feeds every rune read from r until EOF or ctx is done.
func (w *Wedge) Run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ch, _, err := br.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		w.Key(ch)
	}
}
