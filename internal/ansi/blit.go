package ansi

import (
	"strings"

	"pkt.systems/hermterm/schema"
)

var palette = map[string]int{
	"k": 0,
	"r": 1,
	"g": 2,
	"y": 3,
	"b": 4,
	"m": 5,
	"c": 6,
	"w": 7,
}

// Render turns a blit into the raw fragments written to a surface with the
// given number of rows. A mor blit yields one fragment per nested blit so each
// can be reconciled on its own. Save and url blits carry no display bytes.
func Render(b schema.Blit, rows int) []string {
	switch b.Kind {
	case schema.BlitBell:
		return []string{Bell}
	case schema.BlitClear:
		return []string{CSI("H") + CSI("J", 2) + CSI("u")}
	case schema.BlitHop:
		if b.Hop.Pos {
			return []string{Reposition(rows-b.Hop.Y, b.Hop.X+1)}
		}
		return []string{Reposition(rows, b.Hop.X+1)}
	case schema.BlitStyled:
		var out strings.Builder
		for _, stub := range b.Klr {
			out.WriteString(SGR(stub.Stye))
			out.WriteString(strings.Join(stub.Text, ""))
			out.WriteString(Reset)
		}
		out.WriteString(CSI("u"))
		return []string{out.String()}
	case schema.BlitMulti:
		var out []string
		for _, sub := range b.Mor {
			out = append(out, Render(sub, rows)...)
		}
		return out
	case schema.BlitNewline:
		return []string{"\n"}
	case schema.BlitPut:
		return []string{strings.Join(b.Put, "") + CSI("u")}
	case schema.BlitWipe:
		return []string{WipeLine()}
	default:
		return nil
	}
}

// SGR returns the select-graphic-rendition sequence for a style. It always
// starts from a reset so a default style renders as Reset.
func SGR(s schema.Stye) string {
	codes := []int{0}
	for _, deco := range s.Deco {
		switch deco {
		case schema.DecoBold:
			codes = append(codes, 1)
		case schema.DecoUnderline:
			codes = append(codes, 4)
		case schema.DecoBlink:
			codes = append(codes, 5)
		}
	}
	codes = append(codes, tintCodes(s.Fore, 30)...)
	codes = append(codes, tintCodes(s.Back, 40)...)
	return CSI("m", codes...)
}

func tintCodes(t schema.Tint, base int) []int {
	if t.RGB != nil {
		return []int{base + 8, 2, t.RGB.R, t.RGB.G, t.RGB.B}
	}
	if idx, ok := palette[t.Name]; ok {
		return []int{base + idx}
	}
	return nil
}

// Slog renders an out-of-band runtime log line above the prompt row: scroll
// everything but the bottom row up, print dimmed, then restore.
func Slog(line string, rows int) string {
	if rows < 2 {
		rows = 2
	}
	return CSI("r", 1, rows-1) +
		CSI("S", 1) +
		CSI("H", rows-1, 1) +
		CSI("m", 90) +
		line +
		CSI("m", 39) +
		CSI("r") +
		CSI("u")
}
