package core

import (
	"reflect"
	"testing"

	"pkt.systems/hermterm/internal/ansi"
	"pkt.systems/hermterm/schema"
)

func fragments(c *EchoCache) []string {
	var out []string
	for _, entry := range c.Entries() {
		if entry.Block {
			out = append(out, "<block>")
			continue
		}
		out = append(out, entry.Fragment)
	}
	return out
}

func TestPredictTextInsertsAtCursor(t *testing.T) {
	s := &Session{Content: testPrompt, Cursor: schema.Cursor{X: 11, Y: 23}}
	Predict(s, schema.TextBelt([]string{"l", "s"}))
	want := []string{
		"\x1b[24;1H\x1b[s",
		"\r\x1b[K\x1b[u",
		"\x1b[0m~zod:dojo> ls\x1b[0m\x1b[u",
		"\x1b[24;14H\x1b[s",
	}
	if got := fragments(&s.Echo); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if s.Content != want[2] {
		t.Fatalf("unexpected content %q", s.Content)
	}
	if s.Cursor.X != 13 {
		t.Fatalf("expected cursor to advance to 13, got %d", s.Cursor.X)
	}
}

func TestPredictCharAndSingleBatchAgree(t *testing.T) {
	a := &Session{Content: testPrompt, Cursor: schema.Cursor{X: 11, Y: 23}}
	b := &Session{Content: testPrompt, Cursor: schema.Cursor{X: 11, Y: 23}}
	Predict(a, schema.CharBelt("l"))
	Predict(b, schema.TextBelt([]string{"l"}))
	if !reflect.DeepEqual(fragments(&a.Echo), fragments(&b.Echo)) || a.Content != b.Content || a.Cursor != b.Cursor {
		t.Fatalf("expected identical predictions, got %+v and %+v", a, b)
	}
}

func TestPredictBackspace(t *testing.T) {
	s := &Session{Content: "\x1b[0m~zod:dojo> ls\x1b[0m\x1b[u", Cursor: schema.Cursor{X: 13, Y: 23}}
	Predict(s, schema.BackspaceBelt())
	if s.Content != "\x1b[0m~zod:dojo> l\x1b[0m\x1b[u" {
		t.Fatalf("unexpected content %q", s.Content)
	}
	if s.Cursor.X != 12 {
		t.Fatalf("expected cursor 12, got %d", s.Cursor.X)
	}
	got := fragments(&s.Echo)
	if len(got) != 4 || got[3] != "\x1b[24;13H\x1b[s" {
		t.Fatalf("unexpected prediction %q", got)
	}

	atBoundary := &Session{Content: testPrompt, Cursor: schema.Cursor{X: 11, Y: 23}}
	Predict(atBoundary, schema.BackspaceBelt())
	if atBoundary.Echo.Len() != 0 || atBoundary.Content != testPrompt {
		t.Fatalf("expected no prediction at the boundary, got %+v", atBoundary)
	}
}

func TestPredictBackspaceFlipsMarker(t *testing.T) {
	s := &Session{Content: "\x1b[0m~zod:dojo< \x1b[0m\x1b[u", Cursor: schema.Cursor{X: 11, Y: 23}}
	Predict(s, schema.BackspaceBelt())
	if s.Content != testPrompt {
		t.Fatalf("expected continuation marker flipped, got %q", s.Content)
	}
	if s.Cursor.X != 11 {
		t.Fatalf("expected cursor to stay at the prompt end, got %d", s.Cursor.X)
	}
}

func TestPredictBlockingEvents(t *testing.T) {
	ret := &Session{Content: testPrompt, Cursor: schema.Cursor{X: 11, Y: 23}}
	Predict(ret, schema.ReturnBelt())
	if !ret.Echo.Blocked() || ret.Echo.Len() != 1 {
		t.Fatalf("expected blocking sentinel after return, got %q", fragments(&ret.Echo))
	}

	up := &Session{Content: "\x1b[0m~zod:dojo> ls\x1b[0m\x1b[u", Cursor: schema.Cursor{X: 13, Y: 22}}
	Predict(up, schema.ArrowBelt(schema.ArrowUp))
	if !up.Echo.Blocked() {
		t.Fatalf("expected blocking sentinel after up arrow")
	}
	if up.Content != testPrompt {
		t.Fatalf("expected bare prompt, got %q", up.Content)
	}
	if up.Cursor != (schema.Cursor{X: 11, Y: 23}) {
		t.Fatalf("expected cursor at prompt end on the next line, got %+v", up.Cursor)
	}
}

func TestPredictHitOnlyRepositions(t *testing.T) {
	s := &Session{Content: "\x1b[0m~zod:dojo> ls\x1b[0m\x1b[u", Cursor: schema.Cursor{X: 13, Y: 23}}
	Predict(s, schema.HitBelt(12, 23))
	if got := fragments(&s.Echo); !reflect.DeepEqual(got, []string{ansi.Reposition(24, 13)}) {
		t.Fatalf("unexpected prediction %q", got)
	}
	if s.Cursor.X != 12 || s.Content != "\x1b[0m~zod:dojo> ls\x1b[0m\x1b[u" {
		t.Fatalf("expected cursor move without content change, got %+v", s)
	}
}

func TestEchoEntryMatching(t *testing.T) {
	entry := EchoEntry{Fragment: ansi.Reposition(3, 14)}
	if !entry.Matches(ansi.Reposition(24, 14)) {
		t.Fatalf("expected reposition to match on column")
	}
	if entry.Matches(ansi.Reposition(24, 15)) {
		t.Fatalf("expected different column not to match")
	}
	text := EchoEntry{Fragment: testPrompt}
	if !text.Matches(testPrompt) || text.Matches(testPrompt+" ") {
		t.Fatalf("expected byte-identical matching for text")
	}
	if (EchoEntry{Block: true}).Matches("") {
		t.Fatalf("expected sentinel never to match")
	}
}
