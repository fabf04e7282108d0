package agentmock

import (
	"encoding/base64"
	"strings"

	"github.com/mattn/go-runewidth"
	"pkt.systems/hermterm/schema"
)

// dojo is a line editor that draws its prompt the way the remote agent does:
// hop to column zero, wipe, the styled line, hop to the cursor.
type dojo struct {
	prompt  string
	line    []string
	cursor  int
	history []string
	hist    int
	size    schema.Size
}

func newDojo(ship string) *dojo {
	return &dojo{prompt: "~" + ship + ":dojo> ", size: schema.Size{W: 80, H: 24}}
}

func (d *dojo) apply(belt schema.Belt) []schema.Blit {
	switch belt.Kind {
	case schema.BeltChar, schema.BeltText:
		chars := belt.Chars()
		line := make([]string, 0, len(d.line)+len(chars))
		line = append(line, d.line[:d.cursor]...)
		line = append(line, chars...)
		line = append(line, d.line[d.cursor:]...)
		d.line = line
		d.cursor += len(chars)
		return []schema.Blit{d.redraw()}
	case schema.BeltBackspace:
		if d.cursor == 0 {
			return []schema.Blit{bell()}
		}
		d.line = append(d.line[:d.cursor-1], d.line[d.cursor:]...)
		d.cursor--
		return []schema.Blit{d.redraw()}
	case schema.BeltDelete:
		if d.cursor >= len(d.line) {
			return []schema.Blit{bell()}
		}
		d.line = append(d.line[:d.cursor], d.line[d.cursor+1:]...)
		return []schema.Blit{d.redraw()}
	case schema.BeltArrow:
		return d.arrow(belt.Arrow)
	case schema.BeltHit:
		d.cursor = clamp(belt.Hit.X-runewidth.StringWidth(d.prompt), 0, len(d.line))
		return []schema.Blit{d.hop()}
	case schema.BeltReturn:
		return d.submit()
	case schema.BeltMod:
		return d.chord(belt)
	}
	return []schema.Blit{bell()}
}

func (d *dojo) arrow(a schema.Arrow) []schema.Blit {
	switch a {
	case schema.ArrowLeft:
		if d.cursor == 0 {
			return []schema.Blit{bell()}
		}
		d.cursor--
		return []schema.Blit{d.hop()}
	case schema.ArrowRight:
		if d.cursor >= len(d.line) {
			return []schema.Blit{bell()}
		}
		d.cursor++
		return []schema.Blit{d.hop()}
	case schema.ArrowUp:
		if d.hist == 0 {
			return []schema.Blit{bell()}
		}
		d.hist--
	case schema.ArrowDown:
		if d.hist >= len(d.history) {
			return []schema.Blit{bell()}
		}
		d.hist++
	}
	d.line = nil
	if d.hist < len(d.history) {
		d.line = split(d.history[d.hist])
	}
	d.cursor = len(d.line)
	return []schema.Blit{d.redraw()}
}

func (d *dojo) chord(belt schema.Belt) []schema.Blit {
	if belt.Mod != schema.ModCtl || belt.Key == nil || belt.Key.Kind != schema.BeltChar {
		return []schema.Blit{bell()}
	}
	switch belt.Key.Char {
	case "a":
		d.cursor = 0
		return []schema.Blit{d.hop()}
	case "e":
		d.cursor = len(d.line)
		return []schema.Blit{d.hop()}
	case "c":
		d.line, d.cursor = nil, 0
		return []schema.Blit{d.redraw()}
	case "u":
		d.line = append([]string(nil), d.line[d.cursor:]...)
		d.cursor = 0
		return []schema.Blit{d.redraw()}
	case "l":
		return []schema.Blit{{Kind: schema.BlitClear}, d.redraw()}
	}
	return []schema.Blit{bell()}
}

// submit runs the line. A few built-in commands produce the non-text blits.
func (d *dojo) submit() []schema.Blit {
	cmd := strings.TrimSpace(strings.Join(d.line, ""))
	d.line, d.cursor = nil, 0
	if cmd != "" {
		d.history = append(d.history, cmd)
	}
	d.hist = len(d.history)
	out := []schema.Blit{{Kind: schema.BlitNewline}}
	switch cmd {
	case "":
	case "+bell":
		out = append(out, bell())
	case "+clear":
		out = []schema.Blit{{Kind: schema.BlitClear}}
	case "+url":
		out = append(out, schema.Blit{Kind: schema.BlitURL, URL: "https://urbit.org"})
	case "+save":
		out = append(out, schema.Blit{Kind: schema.BlitSave, Save: schema.SaveFile{
			Path: "/hello/txt",
			File: base64.StdEncoding.EncodeToString([]byte("hello\n")),
		}})
	default:
		out = append(out, schema.Blit{Kind: schema.BlitPut, Put: split(cmd)}, schema.Blit{Kind: schema.BlitNewline})
	}
	return append(out, d.redraw())
}

func (d *dojo) redraw() schema.Blit {
	return schema.Blit{Kind: schema.BlitMulti, Mor: []schema.Blit{
		{Kind: schema.BlitHop},
		{Kind: schema.BlitWipe},
		{Kind: schema.BlitStyled, Klr: []schema.Stub{{Text: split(d.prompt + strings.Join(d.line, ""))}}},
		d.hop(),
	}}
}

func (d *dojo) hop() schema.Blit {
	col := runewidth.StringWidth(d.prompt) + runewidth.StringWidth(strings.Join(d.line[:d.cursor], ""))
	return schema.Blit{Kind: schema.BlitHop, Hop: schema.Hop{X: col}}
}

func bell() schema.Blit {
	return schema.Blit{Kind: schema.BlitBell}
}

func split(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
