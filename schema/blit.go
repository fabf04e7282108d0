package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BlitKind discriminates the Blit variants.
type BlitKind string

const (
	BlitBell    BlitKind = "bel"
	BlitClear   BlitKind = "clr"
	BlitHop     BlitKind = "hop"
	BlitStyled  BlitKind = "klr"
	BlitMulti   BlitKind = "mor"
	BlitNewline BlitKind = "nel"
	BlitPut     BlitKind = "put"
	BlitSaveJam BlitKind = "sag"
	BlitSave    BlitKind = "sav"
	BlitURL     BlitKind = "url"
	BlitWipe    BlitKind = "wyp"
)

// Blit is a display update sent by the remote agent.
type Blit struct {
	Kind BlitKind
	Hop  Hop
	Klr  []Stub
	Mor  []Blit
	Put  []string
	Save SaveFile
	URL  string
}

// Hop sets the cursor column, or the column and row-from-bottom when Pos is set.
type Hop struct {
	X   int
	Y   int
	Pos bool
}

// SaveFile is the payload of sag and sav blits; File is base64.
type SaveFile struct {
	Path string `json:"path"`
	File string `json:"file"`
}

// Stub is a run of styled text.
type Stub struct {
	Stye Stye     `json:"stye"`
	Text []string `json:"text"`
}

// Stye is a text style.
type Stye struct {
	Deco []Deco `json:"deco"`
	Back Tint   `json:"back"`
	Fore Tint   `json:"fore"`
}

// Deco is a text decoration; the empty value is encoded as null.
type Deco string

const (
	DecoBold      Deco = "br"
	DecoUnderline Deco = "un"
	DecoBlink     Deco = "bl"
)

// MarshalJSON encodes the empty decoration as null.
func (d Deco) MarshalJSON() ([]byte, error) {
	if d == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(d))
}

// Tint is a color: a named palette letter, a true color, or the default.
type Tint struct {
	Name string
	RGB  *RGB
}

// RGB is a true color.
type RGB struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// IsDefault reports whether the tint is the terminal default.
func (t Tint) IsDefault() bool {
	return t.Name == "" && t.RGB == nil
}

// MarshalJSON encodes null, a palette letter, or an rgb object.
func (t Tint) MarshalJSON() ([]byte, error) {
	switch {
	case t.RGB != nil:
		return json.Marshal(t.RGB)
	case t.Name != "":
		return json.Marshal(t.Name)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes null, a palette letter, or an rgb object.
func (t *Tint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = Tint{}
	case len(data) > 0 && data[0] == '"':
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*t = Tint{Name: name}
	default:
		var rgb RGB
		if err := json.Unmarshal(data, &rgb); err != nil {
			return err
		}
		*t = Tint{RGB: &rgb}
	}
	return nil
}

// HasBell reports whether the blit, or any nested blit, rings the bell.
func (b Blit) HasBell() bool {
	if b.Kind == BlitBell {
		return true
	}
	if b.Kind == BlitMulti {
		for _, sub := range b.Mor {
			if sub.HasBell() {
				return true
			}
		}
	}
	return false
}

// MarshalJSON encodes the blit in its tagged wire form.
func (b Blit) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BlitBell, BlitClear, BlitNewline, BlitWipe:
		return tagged(string(b.Kind), nil)
	case BlitHop:
		if b.Hop.Pos {
			return tagged(string(BlitHop), Cursor{X: b.Hop.X, Y: b.Hop.Y})
		}
		return tagged(string(BlitHop), b.Hop.X)
	case BlitStyled:
		return tagged(string(BlitStyled), nonNil(b.Klr))
	case BlitMulti:
		return tagged(string(BlitMulti), nonNil(b.Mor))
	case BlitPut:
		return tagged(string(BlitPut), nonNil(b.Put))
	case BlitSaveJam, BlitSave:
		return tagged(string(b.Kind), b.Save)
	case BlitURL:
		return tagged(string(BlitURL), b.URL)
	}
	return nil, fmt.Errorf("%w: kind %q", ErrInvalidBlit, b.Kind)
}

// UnmarshalJSON decodes the tagged wire form.
func (b *Blit) UnmarshalJSON(data []byte) error {
	tag, body, err := untag(bytes.TrimSpace(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlit, err)
	}
	out := Blit{Kind: BlitKind(tag)}
	switch out.Kind {
	case BlitBell, BlitClear, BlitNewline, BlitWipe:
	case BlitHop:
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			var c Cursor
			if err := json.Unmarshal(trimmed, &c); err != nil {
				return fmt.Errorf("%w: hop: %v", ErrInvalidBlit, err)
			}
			out.Hop = Hop{X: c.X, Y: c.Y, Pos: true}
		} else if err := json.Unmarshal(trimmed, &out.Hop.X); err != nil {
			return fmt.Errorf("%w: hop: %v", ErrInvalidBlit, err)
		}
	case BlitStyled:
		if err := json.Unmarshal(body, &out.Klr); err != nil {
			return fmt.Errorf("%w: klr: %v", ErrInvalidBlit, err)
		}
	case BlitMulti:
		if err := json.Unmarshal(body, &out.Mor); err != nil {
			return fmt.Errorf("%w: mor: %v", ErrInvalidBlit, err)
		}
	case BlitPut:
		if err := json.Unmarshal(body, &out.Put); err != nil {
			return fmt.Errorf("%w: put: %v", ErrInvalidBlit, err)
		}
	case BlitSaveJam, BlitSave:
		if err := json.Unmarshal(body, &out.Save); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidBlit, tag, err)
		}
	case BlitURL:
		if err := json.Unmarshal(body, &out.URL); err != nil {
			return fmt.Errorf("%w: url: %v", ErrInvalidBlit, err)
		}
	default:
		return fmt.Errorf("%w: unknown tag %q", ErrInvalidBlit, tag)
	}
	*b = out
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
