package ansi

import "testing"

func TestToMarkup_PlainTextUnchanged(t *testing.T) {
	in := "You are standing in an open field west of a white house."
	if got := ToMarkup(in); got != in {
		t.Errorf("plain text changed: got %q", got)
	}
}

func TestToMarkup_RedSpan(t *testing.T) {
	got := ToMarkup("\x1b[31mHello\x1b[0m World")
	want := `<span class="ansi-fg-red">Hello</span> World`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToMarkup_ForceClosesOpenSpan(t *testing.T) {
	got := ToMarkup("\x1b[31mstill red")
	want := `<span class="ansi-fg-red">still red</span>`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToMarkup_CombinedAttributes(t *testing.T) {
	got := ToMarkup("\x1b[1;32mok\x1b[0m")
	want := `<span class="ansi-bold ansi-fg-green">ok</span>`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToMarkup_StyleChangeMidRun(t *testing.T) {
	got := ToMarkup("\x1b[31mA\x1b[34mB\x1b[0m")
	want := `<span class="ansi-fg-red">A</span><span class="ansi-fg-blue">B</span>`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToMarkup_BrightAndBackground(t *testing.T) {
	got := ToMarkup("\x1b[91;44mX\x1b[0m")
	want := `<span class="ansi-fg-bright-red ansi-bg-blue">X</span>`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToMarkup_UnrecognizedSGRIgnored(t *testing.T) {
	// Reverse video (7) and blink (5) are not rendered; the text must
	// survive unstyled.
	got := ToMarkup("\x1b[7;5mplain\x1b[0m")
	if got != "plain" {
		t.Errorf("got %q, want %q", got, "plain")
	}
}

func TestToMarkup_EmptySGRIsReset(t *testing.T) {
	got := ToMarkup("\x1b[31mred\x1b[mplain")
	want := `<span class="ansi-fg-red">red</span>plain`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToMarkup_CursorAndClearStripped(t *testing.T) {
	got := ToMarkup("\x1b[2J\x1b[H\x1b[10;20Hprompt>")
	if got != "prompt>" {
		t.Errorf("got %q, want %q", got, "prompt>")
	}
}

func TestToMarkup_OSCStripped(t *testing.T) {
	got := ToMarkup("\x1b]0;window title\x07text")
	if got != "text" {
		t.Errorf("got %q, want %q", got, "text")
	}
}

func TestToMarkup_CarriageReturnNormalized(t *testing.T) {
	got := ToMarkup("one\r\ntwo\rthree")
	if got != "one\ntwo\nthree" {
		t.Errorf("got %q", got)
	}
}

func TestToMarkup_HTMLEscaped(t *testing.T) {
	got := ToMarkup("<b>&</b>")
	want := "&lt;b&gt;&amp;&lt;/b&gt;"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToMarkup_PartialTrailingSequenceDropped(t *testing.T) {
	got := ToMarkup("abc\x1b[3")
	if got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}

func TestToMarkup_PartialTrailingSequenceClosesSpan(t *testing.T) {
	got := ToMarkup("\x1b[31mabc\x1b[0")
	want := `<span class="ansi-fg-red">abc</span>`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestToMarkup_LoneEscapeDropped(t *testing.T) {
	got := ToMarkup("tail\x1b")
	if got != "tail" {
		t.Errorf("got %q, want %q", got, "tail")
	}
}

func TestStrip_RemovesSequencesAndMarkup(t *testing.T) {
	got := Strip("\x1b[31mHello\x1b[0m World")
	if got != "Hello World" {
		t.Errorf("got %q, want %q", got, "Hello World")
	}
}

func TestStrip_DoesNotEscapeHTML(t *testing.T) {
	got := Strip("<tell> hi & bye")
	if got != "<tell> hi & bye" {
		t.Errorf("got %q", got)
	}
}

func TestStrip_NormalizesCarriageReturns(t *testing.T) {
	got := Strip("a\r\nb\rc")
	if got != "a\nb\nc" {
		t.Errorf("got %q", got)
	}
}
