// Package ansi converts raw terminal output containing ANSI/VT100 escape
// sequences into either safe styled markup for a scrolling web view or
// plain text for terminal-native clients. It is a display formatter, not a
// terminal emulator: cursor movement and screen-clear sequences are
// stripped, never interpreted.
package ansi

import (
	"strconv"
	"strings"
)

const esc = 0x1b

// colorNames maps SGR color offsets 0-7 to class name suffixes.
var colorNames = [8]string{"black", "red", "green", "yellow", "blue", "magenta", "cyan", "white"}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// style is the set of SGR attributes currently in effect.
type style struct {
	bold      bool
	italic    bool
	underline bool
	fg        string
	bg        string
}

// classes renders the active attributes as a space-separated class list,
// empty when no attribute is set.
func (s style) classes() string {
	var cls []string
	if s.bold {
		cls = append(cls, "ansi-bold")
	}
	if s.italic {
		cls = append(cls, "ansi-italic")
	}
	if s.underline {
		cls = append(cls, "ansi-underline")
	}
	if s.fg != "" {
		cls = append(cls, "ansi-fg-"+s.fg)
	}
	if s.bg != "" {
		cls = append(cls, "ansi-bg-"+s.bg)
	}
	return strings.Join(cls, " ")
}

// ToMarkup translates a chunk into HTML-safe markup where each recognized
// SGR style run is wrapped in a span carrying its style classes. Any span
// still open at the end of the chunk is force-closed. Chunks are treated
// independently: a partial escape sequence at the end of a chunk is
// dropped, and styles do not carry over to the next call.
func ToMarkup(chunk string) string {
	return translate(chunk, true)
}

// Strip translates a chunk into plain text: all escape sequences removed,
// carriage returns normalized, nothing escaped or wrapped.
func Strip(chunk string) string {
	return translate(chunk, false)
}

func translate(chunk string, markup bool) string {
	var b strings.Builder
	b.Grow(len(chunk))

	var cur style
	open := "" // class list of the currently open span

	closeSpan := func() {
		if open != "" {
			b.WriteString("</span>")
			open = ""
		}
	}
	writeText := func(text string) {
		if !markup {
			b.WriteString(text)
			return
		}
		if cls := cur.classes(); cls != open {
			closeSpan()
			if cls != "" {
				b.WriteString(`<span class="` + cls + `">`)
				open = cls
			}
		}
		b.WriteString(htmlEscaper.Replace(text))
	}

	for i := 0; i < len(chunk); {
		switch c := chunk[i]; {
		case c == esc:
			next, params, final, complete := scanEscape(chunk, i)
			if !complete {
				// Partial trailing sequence; drop the remainder.
				closeSpan()
				return b.String()
			}
			if final == 'm' {
				cur = applySGR(cur, params)
			}
			// Any other final byte (cursor movement, clears, OSC,
			// bare ESC) is stripped.
			i = next

		case c == '\r':
			writeText("\n")
			if i+1 < len(chunk) && chunk[i+1] == '\n' {
				i += 2
			} else {
				i++
			}

		default:
			j := i
			for j < len(chunk) && chunk[j] != esc && chunk[j] != '\r' {
				j++
			}
			writeText(chunk[i:j])
			i = j
		}
	}

	closeSpan()
	return b.String()
}

// scanEscape consumes one escape sequence starting at s[i] (which is ESC).
// It returns the index just past the sequence, the parameter bytes and
// final byte for CSI sequences, and whether the sequence was complete
// within the chunk. A bare ESC that introduces no sequence consumes only
// itself.
func scanEscape(s string, i int) (next int, params string, final byte, complete bool) {
	if i+1 >= len(s) {
		return len(s), "", 0, false
	}

	switch s[i+1] {
	case '[': // CSI
		j := i + 2
		for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == ';' || s[j] == ':' || s[j] == '?') {
			j++
		}
		for j < len(s) && s[j] >= 0x20 && s[j] <= 0x2f { // intermediate bytes
			j++
		}
		if j >= len(s) {
			return len(s), "", 0, false
		}
		if s[j] < 0x40 || s[j] > 0x7e {
			// Not a valid final byte; treat the ESC as malformed and
			// pass the rest through.
			return i + 1, "", 0, true
		}
		return j + 1, s[i+2 : j], s[j], true

	case ']': // OSC, terminated by BEL or ST
		for j := i + 2; j < len(s); j++ {
			if s[j] == 0x07 {
				return j + 1, "", 0, true
			}
			if s[j] == esc && j+1 < len(s) && s[j+1] == '\\' {
				return j + 2, "", 0, true
			}
		}
		return len(s), "", 0, false

	default:
		// Two-byte escape (or stray ESC); drop the ESC and its
		// designator if it has one in the 0x40-0x5f range.
		if s[i+1] >= 0x40 && s[i+1] <= 0x5f {
			return i + 2, "", 0, true
		}
		return i + 1, "", 0, true
	}
}

// applySGR folds a CSI m parameter list into the current style.
// Unrecognized parameters are ignored.
func applySGR(cur style, params string) style {
	for _, p := range strings.Split(params, ";") {
		n := 0
		if p != "" {
			var err error
			n, err = strconv.Atoi(p)
			if err != nil {
				continue
			}
		}
		switch {
		case n == 0:
			cur = style{}
		case n == 1:
			cur.bold = true
		case n == 3:
			cur.italic = true
		case n == 4:
			cur.underline = true
		case n >= 30 && n <= 37:
			cur.fg = colorNames[n-30]
		case n >= 90 && n <= 97:
			cur.fg = "bright-" + colorNames[n-90]
		case n >= 40 && n <= 47:
			cur.bg = colorNames[n-40]
		}
	}
	return cur
}
