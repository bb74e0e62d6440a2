package scan

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWedge() (*Wedge, *clock, *[]string) {
	var got []string
	w := NewWedge(0, func(code string) { got = append(got, code) })
	c := &clock{t: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	w.now = c.now
	return w, c, &got
}

func typeRunes(w *Wedge, c *clock, s string, every time.Duration) {
	for _, r := range s {
		c.advance(every)
		w.Key(r)
	}
}

func TestFastInputEmitsOnEnter(t *testing.T) {
	w, c, got := newTestWedge()
	typeRunes(w, c, "6221000000011\n", 10*time.Millisecond)
	assert.Equal(t, []string{"6221000000011"}, *got)
}

func TestSlowGapResetsBuffer(t *testing.T) {
	w, c, got := newTestWedge()
	typeRunes(w, c, "99", 10*time.Millisecond)
	c.advance(time.Second)
	typeRunes(w, c, "123\r", 10*time.Millisecond)
	assert.Equal(t, []string{"123"}, *got)
}

func TestSlowEnterDropsTypedText(t *testing.T) {
	w, c, got := newTestWedge()
	typeRunes(w, c, "hello", 300*time.Millisecond)
	c.advance(300 * time.Millisecond)
	w.Key('\n')
	assert.Empty(t, *got)
}

func TestRunReadsStream(t *testing.T) {
	var got []string
	w := NewWedge(time.Hour, func(code string) { got = append(got, code) })
	require.NoError(t, w.Run(context.Background(), strings.NewReader("111\n\n222\n")))
	assert.Equal(t, []string{"111", "222"}, got)
}

func TestRunStopsOnCancel(t *testing.T) {
	w := NewWedge(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx, strings.NewReader("1\n")), context.Canceled)
}
