package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// BeltKind discriminates the Belt variants.
type BeltKind string

const (
	// BeltChar is the bare single-character string form.
	BeltChar BeltKind = "char"
	// BeltText is a batch of typed characters.
	BeltText BeltKind = "txt"
	// BeltBackspace deletes left of the cursor.
	BeltBackspace BeltKind = "bac"
	// BeltDelete deletes under the cursor.
	BeltDelete BeltKind = "del"
	// BeltReturn submits the current line.
	BeltReturn BeltKind = "ret"
	// BeltArrow is an arrow key.
	BeltArrow BeltKind = "aro"
	// BeltHit moves the cursor to a position.
	BeltHit BeltKind = "hit"
	// BeltMod is a modifier chord.
	BeltMod BeltKind = "mod"
)

// Arrow names an arrow key.
type Arrow string

const (
	ArrowUp    Arrow = "u"
	ArrowDown  Arrow = "d"
	ArrowLeft  Arrow = "l"
	ArrowRight Arrow = "r"
)

// Modifier names a modifier key.
type Modifier string

const (
	ModCtl Modifier = "ctl"
	ModMet Modifier = "met"
	ModHyp Modifier = "hyp"
)

// Belt is a structured input event sent to the remote agent.
//
// A Belt is built once by the input encoder and never mutated afterwards.
// The char form and a one-element txt batch are interchangeable; use Chars
// to read either.
type Belt struct {
	Kind  BeltKind
	Char  string
	Text  []string
	Arrow Arrow
	Hit   Cursor
	Mod   Modifier
	Key   *Belt
}

// CharBelt returns the bare string form of a single keystroke.
func CharBelt(ch string) Belt {
	return Belt{Kind: BeltChar, Char: ch}
}

// TextBelt returns a batch of typed characters.
func TextBelt(chars []string) Belt {
	return Belt{Kind: BeltText, Text: append([]string(nil), chars...)}
}

// BackspaceBelt returns a backspace event.
func BackspaceBelt() Belt { return Belt{Kind: BeltBackspace} }

// DeleteBelt returns a delete event.
func DeleteBelt() Belt { return Belt{Kind: BeltDelete} }

// ReturnBelt returns a return event.
func ReturnBelt() Belt { return Belt{Kind: BeltReturn} }

// ArrowBelt returns an arrow key event.
func ArrowBelt(a Arrow) Belt { return Belt{Kind: BeltArrow, Arrow: a} }

// HitBelt returns a cursor hit at x, y.
func HitBelt(x, y int) Belt { return Belt{Kind: BeltHit, Hit: Cursor{X: x, Y: y}} }

// ModBelt returns a modifier chord around key.
func ModBelt(mod Modifier, key Belt) Belt {
	k := key
	return Belt{Kind: BeltMod, Mod: mod, Key: &k}
}

// IsText reports whether the belt carries typed text in either shape.
func (b Belt) IsText() bool {
	return b.Kind == BeltChar || b.Kind == BeltText
}

// Chars returns the typed characters of a text belt.
func (b Belt) Chars() []string {
	switch b.Kind {
	case BeltChar:
		return []string{b.Char}
	case BeltText:
		return append([]string(nil), b.Text...)
	default:
		return nil
	}
}

// Debounceable reports whether the batcher may coalesce the belt.
func (b Belt) Debounceable() bool {
	return b.IsText() || b.Kind == BeltHit
}

// IsBolt reports whether the belt may appear as a modifier key.
func (b Belt) IsBolt() bool {
	switch b.Kind {
	case BeltChar, BeltBackspace, BeltDelete, BeltReturn, BeltArrow, BeltHit:
		return true
	default:
		return false
	}
}

// Validate checks the variant payload.
func (b Belt) Validate() error {
	switch b.Kind {
	case BeltChar:
		if b.Char == "" {
			return fmt.Errorf("%w: empty char", ErrInvalidBelt)
		}
	case BeltText:
		if len(b.Text) == 0 {
			return fmt.Errorf("%w: empty txt", ErrInvalidBelt)
		}
	case BeltBackspace, BeltDelete, BeltReturn, BeltHit:
	case BeltArrow:
		switch b.Arrow {
		case ArrowUp, ArrowDown, ArrowLeft, ArrowRight:
		default:
			return fmt.Errorf("%w: arrow %q", ErrInvalidBelt, b.Arrow)
		}
	case BeltMod:
		switch b.Mod {
		case ModCtl, ModMet, ModHyp:
		default:
			return fmt.Errorf("%w: modifier %q", ErrInvalidBelt, b.Mod)
		}
		if b.Key == nil || !b.Key.IsBolt() {
			return fmt.Errorf("%w: modifier key must be a bolt", ErrInvalidBelt)
		}
		return b.Key.Validate()
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidBelt, b.Kind)
	}
	return nil
}

func (b Belt) String() string {
	switch b.Kind {
	case BeltChar:
		return fmt.Sprintf("%q", b.Char)
	case BeltText:
		return fmt.Sprintf("txt(%q)", strings.Join(b.Text, ""))
	case BeltArrow:
		return "aro(" + string(b.Arrow) + ")"
	case BeltHit:
		return fmt.Sprintf("hit(%d,%d)", b.Hit.X, b.Hit.Y)
	case BeltMod:
		if b.Key == nil {
			return "mod(" + string(b.Mod) + ")"
		}
		return "mod(" + string(b.Mod) + "," + b.Key.String() + ")"
	default:
		return string(b.Kind)
	}
}

// MarshalJSON encodes the belt in its tagged wire form.
func (b Belt) MarshalJSON() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	switch b.Kind {
	case BeltChar:
		return json.Marshal(b.Char)
	case BeltText:
		return tagged(string(BeltText), b.Text)
	case BeltBackspace, BeltDelete, BeltReturn:
		return tagged(string(b.Kind), nil)
	case BeltArrow:
		return tagged(string(BeltArrow), b.Arrow)
	case BeltHit:
		return tagged(string(BeltHit), b.Hit)
	case BeltMod:
		return tagged(string(BeltMod), modWire{Mod: b.Mod, Key: b.Key})
	}
	return nil, fmt.Errorf("%w: kind %q", ErrInvalidBelt, b.Kind)
}

// UnmarshalJSON decodes the tagged wire form.
func (b *Belt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var ch string
		if err := json.Unmarshal(data, &ch); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBelt, err)
		}
		*b = CharBelt(ch)
		return b.Validate()
	}
	tag, body, err := untag(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBelt, err)
	}
	var out Belt
	switch BeltKind(tag) {
	case BeltText:
		var text []string
		if err := json.Unmarshal(body, &text); err != nil {
			return fmt.Errorf("%w: txt: %v", ErrInvalidBelt, err)
		}
		out = Belt{Kind: BeltText, Text: text}
	case BeltBackspace, BeltDelete, BeltReturn:
		out = Belt{Kind: BeltKind(tag)}
	case BeltArrow:
		var a Arrow
		if err := json.Unmarshal(body, &a); err != nil {
			return fmt.Errorf("%w: aro: %v", ErrInvalidBelt, err)
		}
		out = ArrowBelt(a)
	case BeltHit:
		var c Cursor
		if err := json.Unmarshal(body, &c); err != nil {
			return fmt.Errorf("%w: hit: %v", ErrInvalidBelt, err)
		}
		out = Belt{Kind: BeltHit, Hit: c}
	case BeltMod:
		var m modWire
		if err := json.Unmarshal(body, &m); err != nil {
			return fmt.Errorf("%w: mod: %v", ErrInvalidBelt, err)
		}
		out = Belt{Kind: BeltMod, Mod: m.Mod, Key: m.Key}
	default:
		return fmt.Errorf("%w: unknown tag %q", ErrInvalidBelt, tag)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*b = out
	return nil
}

type modWire struct {
	Mod Modifier `json:"mod"`
	Key *Belt    `json:"key"`
}

func tagged(tag string, value any) ([]byte, error) {
	return json.Marshal(map[string]any{tag: value})
}

func untag(data []byte) (string, json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected exactly one tag, got %d", len(obj))
	}
	for tag, body := range obj {
		return tag, body, nil
	}
	return "", nil, nil
}
