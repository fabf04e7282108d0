package core

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"pkt.systems/hermterm/internal/ansi"
	"pkt.systems/hermterm/schema"
)

// Predict records in the echo cache what the remote is expected to send back
// for belt, and applies the edit to the session's content and cursor.
//
// Text and backspace predict the four-fragment prompt redraw: reposition to
// the line start, wipe, the new line, reposition to the new cursor. A hit
// predicts only the reposition. Return and up/down push the blocking sentinel.
func Predict(s *Session, belt schema.Belt) {
	row := s.Cursor.Y + 1
	switch {
	case belt.IsText():
		text := strings.Join(belt.Chars(), "")
		at := ansi.RawIndex(s.Content, s.Cursor.X)
		content := s.Content[:at] + text + s.Content[at:]
		width := runewidth.StringWidth(text)
		s.Echo.Push(
			ansi.Reposition(row, 1),
			ansi.WipeLine(),
			content,
			ansi.Reposition(row, s.Cursor.X+width+1),
		)
		s.Content = content
		s.Cursor.X += width
	case belt.Kind == schema.BeltBackspace:
		boundary := ansi.PromptBoundary(s.Content)
		continued := strings.HasSuffix(ansi.PromptToken(s.Content), "<")
		var content string
		switch {
		case s.Cursor.X > boundary:
			s.Cursor.X--
			at := ansi.RawIndex(s.Content, s.Cursor.X)
			_, size := utf8.DecodeRuneInString(s.Content[at:])
			content = s.Content[:at] + s.Content[at+size:]
		case s.Cursor.X == boundary && continued:
			content = barePrompt(s.Content, "> ")
		default:
			return
		}
		s.Echo.Push(
			ansi.Reposition(row, 1),
			ansi.WipeLine(),
			content,
			ansi.Reposition(row, s.Cursor.X+1),
		)
		s.Content = content
	case belt.Kind == schema.BeltArrow && (belt.Arrow == schema.ArrowUp || belt.Arrow == schema.ArrowDown):
		s.Cursor = schema.Cursor{X: ansi.PromptBoundary(s.Content), Y: s.Cursor.Y + 1}
		s.Content = barePrompt(s.Content, "")
		s.Echo.PushBlock()
	case belt.Kind == schema.BeltReturn:
		s.Echo.PushBlock()
	case belt.Kind == schema.BeltHit:
		s.Echo.Push(ansi.Reposition(belt.Hit.Y+1, belt.Hit.X+1))
		s.Cursor = belt.Hit
	}
}

// barePrompt returns the rendered prompt with no typed text. A non-empty
// marker replaces the last character of the prompt token.
func barePrompt(content, marker string) string {
	end := ansi.PromptRawEnd(content)
	prefix := content[:end]
	if marker == "" {
		marker = " "
	} else if end > 0 {
		_, size := utf8.DecodeLastRuneInString(prefix)
		prefix = prefix[:end-size]
	}
	return prefix + marker + ansi.Reset + ansi.CSI("u")
}
