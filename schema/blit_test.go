package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestBlitDecodeVariants(t *testing.T) {
	var b Blit
	if err := json.Unmarshal([]byte(`{"hop":4}`), &b); err != nil {
		t.Fatalf("hop: %v", err)
	}
	if b.Kind != BlitHop || b.Hop.X != 4 || b.Hop.Pos {
		t.Fatalf("unexpected hop %+v", b)
	}
	if err := json.Unmarshal([]byte(`{"hop":{"x":2,"y":5}}`), &b); err != nil {
		t.Fatalf("hop pos: %v", err)
	}
	if !b.Hop.Pos || b.Hop.X != 2 || b.Hop.Y != 5 {
		t.Fatalf("unexpected hop pos %+v", b.Hop)
	}

	raw := `{"mor":[{"hop":0},{"wyp":null},{"klr":[{"stye":{"deco":[null,"br"],"back":null,"fore":"r"},"text":["~","z","o","d"]},{"stye":{"deco":[],"back":{"r":1,"g":2,"b":3},"fore":null},"text":[">"]}]},{"bel":null}]}`
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		t.Fatalf("mor: %v", err)
	}
	if b.Kind != BlitMulti || len(b.Mor) != 4 {
		t.Fatalf("unexpected mor %+v", b)
	}
	klr := b.Mor[2]
	if klr.Kind != BlitStyled || len(klr.Klr) != 2 {
		t.Fatalf("unexpected klr %+v", klr)
	}
	if klr.Klr[0].Stye.Fore.Name != "r" || klr.Klr[0].Stye.Deco[1] != DecoBold || klr.Klr[0].Stye.Deco[0] != "" {
		t.Fatalf("unexpected stye %+v", klr.Klr[0].Stye)
	}
	if klr.Klr[1].Stye.Back.RGB == nil || klr.Klr[1].Stye.Back.RGB.B != 3 {
		t.Fatalf("unexpected rgb %+v", klr.Klr[1].Stye.Back)
	}
	if !b.HasBell() {
		t.Fatalf("expected nested bell")
	}

	out, err := json.Marshal(klr.Klr[0].Stye)
	if err != nil {
		t.Fatalf("marshal stye: %v", err)
	}
	if string(out) != `{"deco":[null,"br"],"back":null,"fore":"r"}` {
		t.Fatalf("unexpected stye wire %s", out)
	}
}

func TestBlitSaveAndURL(t *testing.T) {
	var b Blit
	if err := json.Unmarshal([]byte(`{"sav":{"path":"/a/b/c/txt","file":"aGk="}}`), &b); err != nil {
		t.Fatalf("sav: %v", err)
	}
	if b.Kind != BlitSave || b.Save.File != "aGk=" {
		t.Fatalf("unexpected sav %+v", b)
	}
	if err := json.Unmarshal([]byte(`{"url":"https://urbit.org"}`), &b); err != nil {
		t.Fatalf("url: %v", err)
	}
	if b.URL != "https://urbit.org" || b.HasBell() {
		t.Fatalf("unexpected url %+v", b)
	}
}

func TestBlitEncodeHop(t *testing.T) {
	data, err := json.Marshal(Blit{Kind: BlitHop, Hop: Hop{X: 3}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"hop":3}` {
		t.Fatalf("unexpected hop wire %s", data)
	}
	data, err = json.Marshal(Blit{Kind: BlitMulti})
	if err != nil {
		t.Fatalf("marshal mor: %v", err)
	}
	if string(data) != `{"mor":[]}` {
		t.Fatalf("unexpected mor wire %s", data)
	}
}

func TestBlitRejectsUnknown(t *testing.T) {
	var b Blit
	if err := json.Unmarshal([]byte(`{"zap":null}`), &b); !errors.Is(err, ErrInvalidBlit) {
		t.Fatalf("expected ErrInvalidBlit, got %v", err)
	}
}
