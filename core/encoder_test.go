package core

import (
	"reflect"
	"strings"
	"testing"

	"pkt.systems/hermterm/schema"
)

func promptView(x int) EncoderView {
	return EncoderView{Content: testPrompt, Cursor: schema.Cursor{X: x, Y: 23}}
}

func TestEncodePrintableTextIsOneBatch(t *testing.T) {
	for _, input := range []string{"hello", "ls -la", "a"} {
		encoded := Encode(promptView(11), input)
		if len(encoded.Belts) != 1 {
			t.Fatalf("%q: expected one event, got %v", input, encoded.Belts)
		}
		if got := strings.Join(encoded.Belts[0].Chars(), ""); got != input {
			t.Fatalf("%q: expected batch %q, got %q", input, input, got)
		}
		if strings.Count(encoded.Feedback, "\x1b[4h") != len(input) {
			t.Fatalf("%q: expected insert-mode echo per character, got %q", input, encoded.Feedback)
		}
	}
	single := Encode(promptView(11), "a")
	if single.Belts[0].Kind != schema.BeltChar {
		t.Fatalf("expected a single trailing character in bare form, got %v", single.Belts[0])
	}
}

func TestEncodeLsReturnScenario(t *testing.T) {
	view := EncoderView{Content: "~zod:dojo> ", Cursor: schema.Cursor{X: 11, Y: 0}}
	encoded := Encode(view, "ls\r")
	want := []schema.Belt{schema.TextBelt([]string{"l", "s"}), schema.ReturnBelt()}
	if !reflect.DeepEqual(encoded.Belts, want) {
		t.Fatalf("expected %v, got %v", want, encoded.Belts)
	}
	if encoded.Feedback != "" {
		t.Fatalf("expected pasted input to skip local echo, got %q", encoded.Feedback)
	}
}

func TestEncodeBackspaceRespectsPromptBoundary(t *testing.T) {
	atBoundary := Encode(promptView(11), "\x7f")
	if len(atBoundary.Belts) != 0 || atBoundary.Feedback != "" {
		t.Fatalf("expected no event at the boundary, got %+v", atBoundary)
	}
	past := Encode(EncoderView{Content: "\x1b[0m~zod:dojo> l\x1b[0m\x1b[u", Cursor: schema.Cursor{X: 12, Y: 23}}, "\b")
	if len(past.Belts) != 1 || past.Belts[0].Kind != schema.BeltBackspace {
		t.Fatalf("expected backspace, got %v", past.Belts)
	}
	if past.Feedback != "\x1b[D\x1b[1P" {
		t.Fatalf("unexpected feedback %q", past.Feedback)
	}
}

func TestEncodeBackspaceFlipsContinuationMarker(t *testing.T) {
	view := EncoderView{Content: "\x1b[0m~zod:dojo< \x1b[0m\x1b[u", Cursor: schema.Cursor{X: 11, Y: 23}}
	encoded := Encode(view, "\x7f")
	if len(encoded.Belts) != 1 || encoded.Belts[0].Kind != schema.BeltBackspace {
		t.Fatalf("expected backspace, got %v", encoded.Belts)
	}
	if !strings.HasSuffix(encoded.Feedback, "> ") {
		t.Fatalf("expected marker flip feedback, got %q", encoded.Feedback)
	}
}

func TestEncodeControlCodes(t *testing.T) {
	encoded := Encode(promptView(11), "\x03")
	want := []schema.Belt{schema.ModBelt(schema.ModCtl, schema.CharBelt("c"))}
	if !reflect.DeepEqual(encoded.Belts, want) {
		t.Fatalf("expected ctl-c, got %v", encoded.Belts)
	}
	if got := Encode(promptView(11), "\x04"); len(got.Belts) != 0 {
		t.Fatalf("expected ctl-d to be swallowed, got %v", got.Belts)
	}
	if got := Encode(promptView(11), "\x00"); len(got.Belts) != 0 || got.Feedback != "\x07" {
		t.Fatalf("expected NUL to ring the bell only, got %+v", got)
	}
}

func TestEncodeArrows(t *testing.T) {
	content := "\x1b[0m~zod:dojo> ls\x1b[0m\x1b[u"
	up := Encode(promptView(11), "\x1b[A")
	if !reflect.DeepEqual(up.Belts, []schema.Belt{schema.ArrowBelt(schema.ArrowUp)}) {
		t.Fatalf("expected up arrow, got %v", up.Belts)
	}
	down := Encode(promptView(11), "\x1bOB")
	if !reflect.DeepEqual(down.Belts, []schema.Belt{schema.ArrowBelt(schema.ArrowDown)}) {
		t.Fatalf("expected down arrow, got %v", down.Belts)
	}

	right := Encode(EncoderView{Content: content, Cursor: schema.Cursor{X: 11, Y: 23}}, "\x1b[C")
	if !reflect.DeepEqual(right.Belts, []schema.Belt{schema.HitBelt(12, 23)}) || right.Feedback != "\x1b[C" {
		t.Fatalf("expected hit to the right, got %+v", right)
	}
	atEnd := Encode(EncoderView{Content: content, Cursor: schema.Cursor{X: 13, Y: 23}}, "\x1b[C")
	if len(atEnd.Belts) != 0 {
		t.Fatalf("expected no hit past the end of the line, got %v", atEnd.Belts)
	}

	left := Encode(EncoderView{Content: content, Cursor: schema.Cursor{X: 12, Y: 23}}, "\x1b[D")
	if !reflect.DeepEqual(left.Belts, []schema.Belt{schema.HitBelt(11, 23)}) || left.Feedback != "\x1b[D" {
		t.Fatalf("expected hit to the left, got %+v", left)
	}
	atPrompt := Encode(EncoderView{Content: content, Cursor: schema.Cursor{X: 11, Y: 23}}, "\x1b[D")
	if len(atPrompt.Belts) != 0 {
		t.Fatalf("expected no hit into the prompt, got %v", atPrompt.Belts)
	}
}

func TestEncodeMouseClickClampsColumn(t *testing.T) {
	content := "\x1b[0m~zod:dojo> ls\x1b[0m\x1b[u"
	view := EncoderView{Content: content, Cursor: schema.Cursor{X: 11, Y: 23}}
	click := "\x1b[M" + string([]byte{32, 33 + 40, 33 + 23})
	encoded := Encode(view, click)
	if !reflect.DeepEqual(encoded.Belts, []schema.Belt{schema.HitBelt(13, 23)}) {
		t.Fatalf("expected clamped hit at the end of the line, got %v", encoded.Belts)
	}
	intoPrompt := Encode(EncoderView{Content: content, Cursor: schema.Cursor{X: 12, Y: 23}}, "\x1b[M"+string([]byte{32, 33 + 2, 33 + 23}))
	if !reflect.DeepEqual(intoPrompt.Belts, []schema.Belt{schema.HitBelt(11, 23)}) {
		t.Fatalf("expected hit clamped to the prompt boundary, got %v", intoPrompt.Belts)
	}
	same := Encode(view, "\x1b[M"+string([]byte{32, 33 + 5, 33 + 23})+"x")
	if !reflect.DeepEqual(same.Belts, []schema.Belt{schema.CharBelt("x")}) {
		t.Fatalf("expected click on the cursor to emit nothing and consume its bytes, got %v", same.Belts)
	}
}

func TestEncodeMetaKeys(t *testing.T) {
	encoded := Encode(promptView(11), "\x1bb\x1b.\x1b\x7f")
	want := []schema.Belt{
		schema.ModBelt(schema.ModMet, schema.CharBelt("b")),
		schema.ModBelt(schema.ModMet, schema.CharBelt(".")),
		schema.ModBelt(schema.ModMet, schema.BackspaceBelt()),
	}
	if !reflect.DeepEqual(encoded.Belts, want) {
		t.Fatalf("expected %v, got %v", want, encoded.Belts)
	}
}

func TestEncodeUnknownEscapes(t *testing.T) {
	introduced := Encode(promptView(11), "\x1b[Zab")
	if introduced.Feedback[:1] != "\x07" {
		t.Fatalf("expected bell for unknown sequence, got %q", introduced.Feedback)
	}
	if !reflect.DeepEqual(introduced.Belts, []schema.Belt{schema.TextBelt([]string{"a", "b"})}) {
		t.Fatalf("expected parsing to continue after the sequence, got %v", introduced.Belts)
	}
	for _, input := range []string{"\x1b[3~", "\x1b[5~", "\x1b[1;5C", "\x1b[15;2~"} {
		got := Encode(promptView(11), input)
		if len(got.Belts) != 0 || got.Feedback != "\x07" {
			t.Fatalf("expected %q to ring the bell and send nothing, got %v %q", input, got.Belts, got.Feedback)
		}
	}
	tail := Encode(promptView(11), "\x1b[3~ab")
	if !reflect.DeepEqual(tail.Belts, []schema.Belt{schema.TextBelt([]string{"a", "b"})}) {
		t.Fatalf("expected text after a skipped sequence, got %v", tail.Belts)
	}
	cut := Encode(promptView(11), "\x1b[12")
	if len(cut.Belts) != 0 || cut.Feedback != "\x07" {
		t.Fatalf("expected an unterminated sequence to be dropped, got %v %q", cut.Belts, cut.Feedback)
	}
	bare := Encode(promptView(11), "x\x1b!yz")
	if !reflect.DeepEqual(bare.Belts, []schema.Belt{schema.TextBelt([]string{"x"})}) {
		t.Fatalf("expected the rest of the input to be dropped, got %v", bare.Belts)
	}
	if !strings.HasSuffix(bare.Feedback, "\x07") {
		t.Fatalf("expected bell feedback, got %q", bare.Feedback)
	}
}

func TestEncodeBlockedOnlyAcceptsHistoryArrows(t *testing.T) {
	view := promptView(11)
	view.Blocked = true
	if got := Encode(view, "x"); len(got.Belts) != 0 || got.Feedback != "" {
		t.Fatalf("expected blocked input to be rejected, got %+v", got)
	}
	if got := Encode(view, "\x1b[B"); len(got.Belts) != 1 {
		t.Fatalf("expected down arrow while blocked, got %v", got.Belts)
	}
}
