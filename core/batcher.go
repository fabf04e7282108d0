package core

import (
	"time"

	"pkt.systems/hermterm/schema"
)

// Batcher coalesces debounceable input events.
//
// Typed characters collect into one text batch and only the latest hit is
// kept. Each debounceable event restarts the idle window; a non-debounceable
// event releases whatever is pending ahead of itself. Batcher is not safe for
// concurrent use; the session loop owns it.
type Batcher struct {
	window time.Duration
	text   []string
	hit    *schema.Cursor
	timer  *time.Timer
	armed  bool
}

// NewBatcher returns a batcher with the given idle window.
func NewBatcher(window time.Duration) *Batcher {
	if window <= 0 {
		window = schema.DefaultDebounce
	}
	return &Batcher{window: window}
}

// Enqueue adds an event and returns the events to dispatch now, in order.
func (b *Batcher) Enqueue(belt schema.Belt) []schema.Belt {
	if !belt.Debounceable() {
		return append(b.Flush(), belt)
	}
	var ready []schema.Belt
	if belt.IsText() {
		ready = b.flushHit(ready)
		b.text = append(b.text, belt.Chars()...)
	} else {
		ready = b.flushText(ready)
		hit := belt.Hit
		b.hit = &hit
	}
	b.arm()
	return ready
}

// Flush releases both accumulators and disarms the idle timer.
func (b *Batcher) Flush() []schema.Belt {
	b.disarm()
	ready := b.flushText(nil)
	return b.flushHit(ready)
}

// C returns the idle timer channel, or nil while nothing is pending.
func (b *Batcher) C() <-chan time.Time {
	if !b.armed {
		return nil
	}
	return b.timer.C
}

// Pending reports whether events are waiting for the idle window.
func (b *Batcher) Pending() bool {
	return len(b.text) > 0 || b.hit != nil
}

// Stop releases the timer.
func (b *Batcher) Stop() {
	b.disarm()
}

func (b *Batcher) flushText(ready []schema.Belt) []schema.Belt {
	if len(b.text) == 0 {
		return ready
	}
	ready = append(ready, schema.TextBelt(b.text))
	b.text = nil
	return ready
}

func (b *Batcher) flushHit(ready []schema.Belt) []schema.Belt {
	if b.hit == nil {
		return ready
	}
	ready = append(ready, schema.HitBelt(b.hit.X, b.hit.Y))
	b.hit = nil
	return ready
}

func (b *Batcher) arm() {
	if b.timer == nil {
		b.timer = time.NewTimer(b.window)
	} else {
		b.timer.Reset(b.window)
	}
	b.armed = true
}

func (b *Batcher) disarm() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.armed = false
}
