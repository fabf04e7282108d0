package surface

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"pkt.systems/hermterm/schema"
)

// SizeFunc reports the current size of the host terminal in cells.
type SizeFunc func() (cols, rows int, err error)

// Option configures a Host.
type Option func(*Host)

// WithConvertEOL writes a bare line feed as CR LF.
func WithConvertEOL(enabled bool) Option {
	return func(h *Host) {
		h.convertEOL = enabled
	}
}

// Host multiplexes session screens onto one output. Only the focused screen
// writes through; the others keep tracking their cursor.
type Host struct {
	mu         sync.Mutex
	out        io.Writer
	size       SizeFunc
	convertEOL bool
	active     *Screen
}

// NewHost returns a host writing to out and sized by size.
func NewHost(out io.Writer, size SizeFunc, opts ...Option) *Host {
	if out == nil {
		out = io.Discard
	}
	h := &Host{out: out, size: size}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewScreen returns an unfocused screen for a session.
func (h *Host) NewScreen(name schema.SessionName) *Screen {
	s := &Screen{host: h, name: name, cols: 80, rows: 24}
	s.Fit()
	return s
}

// Active returns the focused screen, if any.
func (h *Host) Active() *Screen {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// WriteRaw writes bytes straight to the output, bypassing cursor tracking.
func (h *Host) WriteRaw(data string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, data)
	return err
}

func (h *Host) emit(s *Screen, data string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != s {
		return nil
	}
	_, err := io.WriteString(h.out, data)
	return err
}

type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateCSI
	stateCharset
)

// Screen is a session's render surface. It forwards bytes to the host and
// tracks the cursor for the control sequences the client emits.
type Screen struct {
	host *Host
	name schema.SessionName

	mu     sync.Mutex
	cols   int
	rows   int
	cursor schema.Cursor
	saved  schema.Cursor
	wrap   bool

	state   parserState
	private byte
	params  strings.Builder
	pending []byte
}

// Name returns the session the screen renders.
func (s *Screen) Name() schema.SessionName {
	return s.name
}

// Write applies data to the screen. It returns once the bytes were handed to
// the host output.
func (s *Screen) Write(ctx context.Context, data string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for i := 0; i < len(data); i++ {
		s.feed(data[i])
	}
	s.mu.Unlock()
	if s.host.convertEOL {
		data = convertEOL(data)
	}
	return s.host.emit(s, data)
}

// Cursor returns the zero-based cursor position.
func (s *Screen) Cursor() schema.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Rows returns the screen height.
func (s *Screen) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Fit resizes the screen to the host terminal and returns the new size. The
// previous size is kept when the host cannot be measured.
func (s *Screen) Fit() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host.size != nil {
		cols, rows, err := s.host.size()
		if err == nil && cols > 0 && rows > 0 {
			s.cols, s.rows = cols, rows
		}
	}
	s.cursor = s.clamp(s.cursor)
	s.saved = s.clamp(s.saved)
	return s.cols, s.rows
}

// Focus makes the screen the one that writes through to the host.
func (s *Screen) Focus() {
	s.host.mu.Lock()
	s.host.active = s
	s.host.mu.Unlock()
}

// Focused reports whether the screen currently writes through.
func (s *Screen) Focused() bool {
	return s.host.Active() == s
}

func (s *Screen) feed(b byte) {
	if len(s.pending) > 0 {
		s.pending = append(s.pending, b)
		if !utf8.FullRune(s.pending) {
			return
		}
		r, _ := utf8.DecodeRune(s.pending)
		s.pending = s.pending[:0]
		s.print(r)
		return
	}
	switch s.state {
	case stateGround:
		s.ground(b)
	case stateEscape:
		s.escape(b)
	case stateCSI:
		s.csi(b)
	case stateCharset:
		s.state = stateGround
	}
}

func (s *Screen) ground(b byte) {
	switch {
	case b == 0x1b:
		s.state = stateEscape
	case b == '\r':
		s.cursor.X = 0
		s.wrap = false
	case b == '\n':
		s.lineFeed()
		if s.host.convertEOL {
			s.cursor.X = 0
		}
	case b == '\b':
		if s.cursor.X > 0 {
			s.cursor.X--
		}
		s.wrap = false
	case b == '\t':
		s.cursor.X = min((s.cursor.X/8+1)*8, s.cols-1)
	case b < 0x20 || b == 0x7f:
	case b < utf8.RuneSelf:
		s.print(rune(b))
	default:
		s.pending = append(s.pending[:0], b)
	}
}

func (s *Screen) escape(b byte) {
	s.state = stateGround
	switch b {
	case '[':
		s.state = stateCSI
		s.private = 0
		s.params.Reset()
	case '7':
		s.saved = s.cursor
	case '8':
		s.cursor = s.clamp(s.saved)
		s.wrap = false
	case '(', ')', '#':
		s.state = stateCharset
	case 'D':
		s.lineFeed()
	case 'E':
		s.lineFeed()
		s.cursor.X = 0
	case 'M':
		if s.cursor.Y > 0 {
			s.cursor.Y--
		}
	}
}

func (s *Screen) csi(b byte) {
	switch {
	case s.params.Len() == 0 && s.private == 0 && (b == '?' || b == '>' || b == '<' || b == '='):
		s.private = b
		return
	case (b >= '0' && b <= '9') || b == ';' || b == ':':
		s.params.WriteByte(b)
		return
	case b >= 0x20 && b <= 0x2f:
		return
	}
	s.state = stateGround
	if s.private != 0 {
		return
	}
	s.execute(b, parseParams(s.params.String()))
}

func (s *Screen) execute(final byte, params []int) {
	arg := func(idx, def int) int {
		if idx < len(params) && params[idx] > 0 {
			return params[idx]
		}
		return def
	}
	s.wrap = false
	switch final {
	case 'A':
		s.cursor.Y -= arg(0, 1)
	case 'B':
		s.cursor.Y += arg(0, 1)
	case 'C':
		s.cursor.X += arg(0, 1)
	case 'D':
		s.cursor.X -= arg(0, 1)
	case 'E':
		s.cursor.Y += arg(0, 1)
		s.cursor.X = 0
	case 'F':
		s.cursor.Y -= arg(0, 1)
		s.cursor.X = 0
	case 'G', '`':
		s.cursor.X = arg(0, 1) - 1
	case 'd':
		s.cursor.Y = arg(0, 1) - 1
	case 'H', 'f':
		s.cursor.Y = arg(0, 1) - 1
		s.cursor.X = arg(1, 1) - 1
	case 's':
		s.saved = s.cursor
	case 'u':
		s.cursor = s.saved
	case 'r':
		s.cursor = schema.Cursor{}
	}
	s.cursor = s.clamp(s.cursor)
}

func (s *Screen) print(r rune) {
	w := runewidth.RuneWidth(r)
	if w == 0 {
		return
	}
	if s.wrap || s.cursor.X+w > s.cols {
		s.cursor.X = 0
		s.lineFeed()
	}
	s.cursor.X += w
	if s.cursor.X >= s.cols {
		s.cursor.X = s.cols - 1
		s.wrap = true
	}
}

func (s *Screen) lineFeed() {
	s.wrap = false
	if s.cursor.Y < s.rows-1 {
		s.cursor.Y++
	}
}

func (s *Screen) clamp(c schema.Cursor) schema.Cursor {
	c.X = max(0, min(c.X, s.cols-1))
	c.Y = max(0, min(c.Y, s.rows-1))
	return c
}

func parseParams(raw string) []int {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]int, len(parts))
	for i, part := range parts {
		if idx := strings.IndexByte(part, ':'); idx >= 0 {
			part = part[:idx]
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}

func convertEOL(data string) string {
	if !strings.Contains(data, "\n") {
		return data
	}
	var b strings.Builder
	b.Grow(len(data) + 8)
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' && (i == 0 || data[i-1] != '\r') {
			b.WriteByte('\r')
		}
		b.WriteByte(data[i])
	}
	return b.String()
}

// ErrNoTerminal is returned by size functions when no terminal is attached.
var ErrNoTerminal = errors.New("no terminal attached")

// FixedSize returns a SizeFunc that always reports cols x rows.
func FixedSize(cols, rows int) SizeFunc {
	return func() (int, int, error) {
		if cols <= 0 || rows <= 0 {
			return 0, 0, ErrNoTerminal
		}
		return cols, rows, nil
	}
}
