package core

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"pkt.systems/hermterm/internal/ansi"
	"pkt.systems/hermterm/schema"
)

const (
	arrowUp   = "\x1b[A"
	arrowDown = "\x1b[B"
	// x10LeftPress is the button byte of an X10 left-button press report.
	x10LeftPress = 32
)

// EncoderView is the part of a session the encoder reads.
type EncoderView struct {
	Content string
	Cursor  schema.Cursor
	Blocked bool
}

// Encoded is the result of encoding one chunk of raw input: the events to
// send and the local feedback to write to the surface right away.
type Encoded struct {
	Belts    []schema.Belt
	Feedback string
}

// Encode tokenizes raw terminal input into input events.
//
// Printable runes accumulate into a text batch that is flushed when a control
// byte interrupts it or the input ends. Input that contains a carriage return
// is treated as a paste and gets no per-character echo. While the session is
// blocked on a submitted line only a bare up or down arrow is accepted.
func Encode(view EncoderView, input string) Encoded {
	var out Encoded
	if view.Blocked && input != arrowUp && input != arrowDown {
		return out
	}
	paste := strings.IndexByte(input, '\r') >= 0
	token := ansi.PromptToken(view.Content)
	boundary := ansi.PromptBoundary(view.Content)
	visible := ansi.Width(view.Content)
	cursor := view.Cursor

	var feedback strings.Builder
	var text []string
	flush := func() {
		if len(text) > 0 {
			out.Belts = append(out.Belts, schema.TextBelt(text))
			text = nil
		}
	}

loop:
	for i := 0; i < len(input); i++ {
		c := input[i]
		if c >= 32 && c != 127 {
			r, size := utf8.DecodeRuneInString(input[i:])
			ch := input[i : i+size]
			if !paste {
				feedback.WriteString(ansi.CSI("h", 4) + ch + ansi.CSI("l", 4))
				cursor.X += runewidth.RuneWidth(r)
			}
			text = append(text, ch)
			i += size - 1
			continue
		}
		flush()
		switch {
		case c == 0:
			feedback.WriteString(ansi.Bell)
		case c == 8 || c == 127:
			switch {
			case cursor.X > boundary:
				feedback.WriteString(ansi.CSI("D") + ansi.CSI("P", 1))
				cursor.X--
				out.Belts = append(out.Belts, schema.BackspaceBelt())
			case cursor.X == boundary && strings.HasSuffix(token, "<"):
				feedback.WriteString(ansi.CSI("D") + ansi.CSI("P", 1) + ansi.CSI("D") + ansi.CSI("P", 1) + "> ")
				out.Belts = append(out.Belts, schema.BackspaceBelt())
			}
		case c == 13:
			out.Belts = append(out.Belts, schema.ReturnBelt())
		case c == 27:
			i++
			if i >= len(input) {
				feedback.WriteString(ansi.Bell)
				break loop
			}
			next := input[i]
			switch {
			case next == '[' || next == 'O':
				i++
				if i >= len(input) {
					feedback.WriteString(ansi.Bell)
					break loop
				}
				switch input[i] {
				case 'A':
					out.Belts = append(out.Belts, schema.ArrowBelt(schema.ArrowUp))
				case 'B':
					out.Belts = append(out.Belts, schema.ArrowBelt(schema.ArrowDown))
				case 'C':
					if cursor.X < visible {
						cursor.X++
						out.Belts = append(out.Belts, schema.HitBelt(cursor.X, cursor.Y))
						feedback.WriteString(ansi.CSI("C"))
					}
				case 'D':
					if cursor.X > boundary {
						cursor.X--
						out.Belts = append(out.Belts, schema.HitBelt(cursor.X, cursor.Y))
						feedback.WriteString(ansi.CSI("D"))
					}
				case 'M':
					if i+2 < len(input) && input[i+1] == x10LeftPress {
						col := max(boundary, min(int(input[i+2])-33, visible))
						if col != cursor.X {
							cursor.X = col
							feedback.WriteString(ansi.CSI("H", cursor.Y+1, col+1))
							out.Belts = append(out.Belts, schema.HitBelt(col, cursor.Y))
						}
					}
					i += 3
				default:
					i = csiEnd(input, i)
					feedback.WriteString(ansi.Bell)
				}
			case next >= 'a' && next <= 'z' || next == '.':
				out.Belts = append(out.Belts, schema.ModBelt(schema.ModMet, schema.CharBelt(string(next))))
			case next == 8 || next == 127:
				out.Belts = append(out.Belts, schema.ModBelt(schema.ModMet, schema.BackspaceBelt()))
			default:
				feedback.WriteString(ansi.Bell)
				break loop
			}
		case c <= 26:
			key := string(rune('a' + c - 1))
			// ctl-d would shut the remote session down.
			if key != "d" {
				out.Belts = append(out.Belts, schema.ModBelt(schema.ModCtl, schema.CharBelt(key)))
			}
		}
	}

	switch len(text) {
	case 0:
	case 1:
		out.Belts = append(out.Belts, schema.CharBelt(text[0]))
	default:
		out.Belts = append(out.Belts, schema.TextBelt(text))
	}
	out.Feedback = feedback.String()
	return out
}

// csiEnd returns the index of the final byte of the control sequence whose
// parameters start at i. Parameter and intermediate bytes are skipped; an
// unterminated sequence ends at the last byte of the input.
func csiEnd(input string, i int) int {
	for ; i < len(input); i++ {
		c := input[i]
		if c >= 0x40 && c <= 0x7e {
			return i
		}
		if c < 0x20 || c > 0x3f {
			return i - 1
		}
	}
	return len(input) - 1
}
