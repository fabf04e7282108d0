package ansi

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

const (
	// Bell rings the terminal bell.
	Bell = "\x07"
	// Reset is the SGR reset that delimits styled text in rendered lines.
	Reset = "\x1b[0m"
	// MouseReportingOn enables X10 mouse click reports.
	MouseReportingOn = "\x1b[?9h"
	// MouseReportingOff disables X10 mouse click reports.
	MouseReportingOff = "\x1b[?9l"
)

var (
	repositionPattern = regexp.MustCompile(`^\x1b\[\d+;(\d+)H\x1b\[s$`)
	textUpdatePattern = regexp.MustCompile(`\x1b\[0m`)
)

// CSI builds a control sequence introducer: ESC [ args cmd.
func CSI(cmd string, args ...int) string {
	var b strings.Builder
	b.WriteString("\x1b[")
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(strconv.Itoa(arg))
	}
	b.WriteString(cmd)
	return b.String()
}

// Reposition moves to the 1-based row and column and saves the cursor.
func Reposition(row, col int) string {
	return CSI("H", row, col) + CSI("s")
}

// WipeLine clears the cursor line and restores the saved cursor.
func WipeLine() string {
	return "\r" + CSI("K") + CSI("u")
}

// RepositionColumn returns the 1-based column of a reposition-only fragment.
func RepositionColumn(s string) (int, bool) {
	m := repositionPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	col, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return col, true
}

// IsTextUpdate reports whether the fragment is a style-reset delimited text line.
func IsTextUpdate(s string) bool {
	return textUpdatePattern.MatchString(s)
}

// EscapeLen returns the byte length of the escape sequence at the start of s,
// or 0 when s does not start with ESC.
func EscapeLen(s string) int {
	if len(s) == 0 || s[0] != 0x1b {
		return 0
	}
	if len(s) == 1 {
		return 1
	}
	switch s[1] {
	case '[':
		for i := 2; i < len(s); i++ {
			if s[i] >= 0x40 && s[i] <= 0x7e {
				return i + 1
			}
		}
		return len(s)
	case '(', ')', '#':
		if len(s) >= 3 {
			return 3
		}
		return len(s)
	default:
		return 2
	}
}

// Strip removes escape sequences from s.
func Strip(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if n := EscapeLen(s[i:]); n > 0 {
			i += n
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

// Width returns the display width of the visible text of s.
func Width(s string) int {
	return runewidth.StringWidth(Strip(s))
}

// RawIndex maps a visible column of s to a byte offset in s. Escape
// sequences before the column's character are skipped; a column at or past
// the end maps to just after the last visible character.
func RawIndex(s string, col int) int {
	width := 0
	end := 0
	for i := 0; i < len(s); {
		if n := EscapeLen(s[i:]); n > 0 {
			i += n
			if end == 0 && width == 0 && col == 0 {
				end = i
			}
			continue
		}
		if width >= col {
			return i
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		width += runewidth.RuneWidth(r)
		i += size
		end = i
	}
	return end
}

// PromptToken returns the visible prompt prefix of a rendered line: the text
// before the first space.
func PromptToken(content string) string {
	visible := Strip(content)
	if idx := strings.IndexByte(visible, ' '); idx >= 0 {
		return visible[:idx]
	}
	return visible
}

// PromptBoundary is the first editable column of a rendered prompt line.
func PromptBoundary(content string) int {
	return runewidth.StringWidth(PromptToken(content)) + 1
}

// PromptRawEnd returns the byte offset in content just past the visible
// prompt token.
func PromptRawEnd(content string) int {
	return RawIndex(content, runewidth.StringWidth(PromptToken(content)))
}
