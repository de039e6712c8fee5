// Package ansi converts raw terminal output into ordered styled text
// segments. Dev-server processes in the sandbox emit SGR color escapes;
// this turns one raw line into spans the console surface can style, and is
// a pure function of its input.
package ansi

import (
	"strconv"
	"strings"

	xansi "github.com/charmbracelet/x/ansi"

	"gittyup-client/internal/models"
)

// style is the subset of SGR state the console surface can represent.
type style struct {
	fg   int // 30-37, 90-97, or 0 for default
	bold bool
}

func (s style) class() string {
	var classes []string
	if s.fg != 0 {
		classes = append(classes, "ansi-"+strconv.Itoa(s.fg))
	}
	if s.bold {
		classes = append(classes, "ansi-bold")
	}
	return strings.Join(classes, " ")
}

// Parse splits raw output into styled segments. Printable runs become
// segments carrying the SGR style active at that point; escape sequences
// other than SGR are dropped. Unstyled text gets an empty class, which the
// surface renders with its default console styling.
func Parse(raw string) []models.TextSegment {
	var segments []models.TextSegment
	var text strings.Builder
	current := style{}

	flush := func() {
		if text.Len() == 0 {
			return
		}
		segments = append(segments, models.TextSegment{Text: text.String(), Class: current.class()})
		text.Reset()
	}

	var state byte
	remaining := raw
	for len(remaining) > 0 {
		sequence, width, n, newState := xansi.DecodeSequence(remaining, state, nil)
		state = newState
		remaining = remaining[n:]

		if width > 0 {
			text.WriteString(sequence)
			continue
		}
		if sequence == "\t" {
			text.WriteString(sequence)
			continue
		}
		if next, ok := applySGR(current, sequence); ok {
			if next != current {
				flush()
				current = next
			}
			continue
		}
		// Non-SGR escape or control byte: dropped.
	}
	flush()
	return segments
}

// applySGR folds one CSI ... m sequence into the style. Reports false for
// sequences that are not SGR.
func applySGR(s style, sequence string) (style, bool) {
	if !strings.HasPrefix(sequence, "\x1b[") || !strings.HasSuffix(sequence, "m") {
		return s, false
	}
	body := sequence[2 : len(sequence)-1]
	if body == "" {
		return style{}, true // bare ESC[m is a reset
	}

	for _, param := range strings.Split(body, ";") {
		code, err := strconv.Atoi(param)
		if err != nil {
			return s, true // private or malformed SGR, ignore the rest
		}
		switch {
		case code == 0:
			s = style{}
		case code == 1:
			s.bold = true
		case code == 22:
			s.bold = false
		case code == 39:
			s.fg = 0
		case code >= 30 && code <= 37, code >= 90 && code <= 97:
			s.fg = code
		case code == 38:
			// Extended color forms (38;5;n and 38;2;r;g;b) are beyond
			// what the console palette represents; drop the remainder.
			return s, true
		}
	}
	return s, true
}
