package surface

import (
	"bytes"
	"context"
	"testing"

	"pkt.systems/hermterm/schema"
)

func newTestHost(buf *bytes.Buffer, opts ...Option) *Host {
	return NewHost(buf, FixedSize(80, 24), opts...)
}

func TestScreenTracksPromptShape(t *testing.T) {
	var buf bytes.Buffer
	host := newTestHost(&buf)
	screen := host.NewScreen(schema.DefaultSession)
	screen.Focus()
	ctx := context.Background()

	steps := []struct {
		data string
		want schema.Cursor
	}{
		{data: "\x1b[24;1H\x1b[s", want: schema.Cursor{X: 0, Y: 23}},
		{data: "\r\x1b[K\x1b[u", want: schema.Cursor{X: 0, Y: 23}},
		{data: "\x1b[0m~zod:dojo> \x1b[0m\x1b[u", want: schema.Cursor{X: 0, Y: 23}},
		{data: "\x1b[24;12H\x1b[s", want: schema.Cursor{X: 11, Y: 23}},
		{data: "\x1b[4hl\x1b[4l", want: schema.Cursor{X: 12, Y: 23}},
		{data: "\x1b[D", want: schema.Cursor{X: 11, Y: 23}},
		{data: "\x1b[C\x1b[C", want: schema.Cursor{X: 13, Y: 23}},
	}
	for i, step := range steps {
		if err := screen.Write(ctx, step.data); err != nil {
			t.Fatalf("step %d: write: %v", i, err)
		}
		if got := screen.Cursor(); got != step.want {
			t.Fatalf("step %d: expected cursor %+v, got %+v", i, step.want, got)
		}
	}
	if buf.Len() == 0 {
		t.Fatalf("expected focused screen to write through")
	}
}

func TestScreenUnfocusedDiscardsOutput(t *testing.T) {
	var buf bytes.Buffer
	host := newTestHost(&buf)
	first := host.NewScreen(schema.DefaultSession)
	second := host.NewScreen("other")
	first.Focus()
	if err := second.Write(context.Background(), "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output from unfocused screen, got %q", buf.String())
	}
	if got := second.Cursor(); got.X != 5 {
		t.Fatalf("expected unfocused screen to track cursor, got %+v", got)
	}
	second.Focus()
	if first.Focused() || !second.Focused() {
		t.Fatalf("expected focus to move to second screen")
	}
}

func TestScreenConvertEOL(t *testing.T) {
	var buf bytes.Buffer
	host := newTestHost(&buf, WithConvertEOL(true))
	screen := host.NewScreen(schema.DefaultSession)
	screen.Focus()
	if err := screen.Write(context.Background(), "ab\ncd\r\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.String(); got != "ab\r\ncd\r\n" {
		t.Fatalf("unexpected output: %q", got)
	}
	if got := screen.Cursor(); got != (schema.Cursor{X: 0, Y: 2}) {
		t.Fatalf("unexpected cursor: %+v", got)
	}
}

func TestScreenWrapsAndClamps(t *testing.T) {
	host := NewHost(nil, FixedSize(4, 2))
	screen := host.NewScreen(schema.DefaultSession)
	ctx := context.Background()
	if err := screen.Write(ctx, "abcd"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := screen.Cursor(); got != (schema.Cursor{X: 3, Y: 0}) {
		t.Fatalf("expected pending wrap at last column, got %+v", got)
	}
	if err := screen.Write(ctx, "e"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := screen.Cursor(); got != (schema.Cursor{X: 1, Y: 1}) {
		t.Fatalf("expected wrap to next row, got %+v", got)
	}
	if err := screen.Write(ctx, "\x1b[99;99H"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := screen.Cursor(); got != (schema.Cursor{X: 3, Y: 1}) {
		t.Fatalf("expected clamped cursor, got %+v", got)
	}
}

func TestScreenWideRunesAndSlogLine(t *testing.T) {
	host := NewHost(nil, FixedSize(80, 24))
	screen := host.NewScreen(schema.DefaultSession)
	ctx := context.Background()
	if err := screen.Write(ctx, "\x1b[24;5H\x1b[s日本"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := screen.Cursor(); got != (schema.Cursor{X: 8, Y: 23}) {
		t.Fatalf("expected wide runes to advance two cells, got %+v", got)
	}
	slog := "\x1b[1;23r\x1b[1S\x1b[23;1H\x1b[90mhello\x1b[39m\x1b[r\x1b[u"
	if err := screen.Write(ctx, slog); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := screen.Cursor(); got != (schema.Cursor{X: 4, Y: 23}) {
		t.Fatalf("expected slog line to restore cursor, got %+v", got)
	}
}

func TestScreenFit(t *testing.T) {
	cols, rows := 80, 24
	host := NewHost(nil, func() (int, int, error) { return cols, rows, nil })
	screen := host.NewScreen(schema.DefaultSession)
	if err := screen.Write(context.Background(), "\x1b[24;80H"); err != nil {
		t.Fatalf("write: %v", err)
	}
	cols, rows = 40, 10
	gotCols, gotRows := screen.Fit()
	if gotCols != 40 || gotRows != 10 || screen.Rows() != 10 {
		t.Fatalf("unexpected size %dx%d", gotCols, gotRows)
	}
	if got := screen.Cursor(); got != (schema.Cursor{X: 39, Y: 9}) {
		t.Fatalf("expected cursor clamped after fit, got %+v", got)
	}
}

func TestScreenCanceledContext(t *testing.T) {
	host := NewHost(nil, FixedSize(80, 24))
	screen := host.NewScreen(schema.DefaultSession)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := screen.Write(ctx, "x"); err == nil {
		t.Fatalf("expected canceled context error")
	}
}
