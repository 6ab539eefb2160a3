// internal/navlog/formatter.go
package navlog

import (
	"fmt"
	"regexp"
	"strings"
)

// StepMark is a structured "step X/Y" progress marker extracted from the
// raw stream.
type StepMark struct {
	Current int
	Total   int
}

// Parsed is the result of one ParseDelta call. Next carries any trailing
// partial line and must be fed back into the following call.
type Parsed struct {
	Next    string
	Lines   []string
	Steps   []StepMark
	SawDone bool
}

var (
	logPrefixRegex = regexp.MustCompile(`^(?:\[[^\]]*\]\s*)+`)
	stepRegex      = regexp.MustCompile(`(?i)\bstep\s+(\d+)\s*/\s*(\d+)\b`)
	quotedRegex    = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	urlRegex       = regexp.MustCompile(`https?://[^\s"')\]}]+`)
)

const doneMarker = "no more actions"

// rule pairs a keyword predicate with a renderer producing the
// human-readable one-line summary. Rules are evaluated in order; the first
// match wins. Renderers never echo raw coordinates or JSON arguments.
type rule struct {
	match  func(line string) bool
	render func(line string) string
}

func keyword(words ...string) func(string) bool {
	return func(line string) bool {
		for _, w := range words {
			if strings.Contains(line, w) {
				return true
			}
		}
		return false
	}
}

// quotedText pulls the first quoted payload out of a line, skipping JSON
// key names so `"text": "hello"` yields "hello".
func quotedText(line string) string {
	matches := quotedRegex.FindAllStringSubmatch(line, -1)
	for i := 0; i < len(matches); i++ {
		s := matches[i][1]
		if s == "" || isJSONKey(line, s) {
			continue
		}
		return s
	}
	return ""
}

func isJSONKey(line, candidate string) bool {
	needle := `"` + candidate + `"`
	pos := strings.Index(line, needle)
	for pos != -1 {
		rest := strings.TrimLeft(line[pos+len(needle):], " ")
		if strings.HasPrefix(rest, ":") {
			return true
		}
		next := strings.Index(line[pos+1:], needle)
		if next == -1 {
			break
		}
		pos += 1 + next
	}
	return false
}

func extractURL(line string) string {
	return urlRegex.FindString(line)
}

// rules is the ordered classification table. Typing outranks searching, and
// both outrank clicking, because a type action line routinely also mentions
// the click used to focus the field.
var rules = []rule{
	{
		match: keyword("type_text_at", "typing"),
		render: func(line string) string {
			text := quotedText(line)
			submitting := strings.Contains(line, "press_enter") || strings.Contains(line, "submitting")
			switch {
			case text != "" && submitting:
				return fmt.Sprintf("Typing %q and submitting", text)
			case text != "":
				return fmt.Sprintf("Typing %q", text)
			case submitting:
				return "Typing and submitting"
			default:
				return "Typing"
			}
		},
	},
	{
		match: keyword("search"),
		render: func(line string) string {
			if text := quotedText(line); text != "" {
				return fmt.Sprintf("Searching for %q", text)
			}
			return "Searching"
		},
	},
	{
		match: keyword("navigate", "open_page", "opening"),
		render: func(line string) string {
			if url := extractURL(line); url != "" {
				return "Opening " + url
			}
			return "Opening a page"
		},
	},
	{match: keyword("go_back", "going back"), render: func(string) string { return "Going back" }},
	{match: keyword("go_forward", "going forward"), render: func(string) string { return "Going forward" }},
	{match: keyword("drag_and_drop", "dragging"), render: func(string) string { return "Dragging" }},
	{match: keyword("hover"), render: func(string) string { return "Hovering" }},
	{match: keyword("click"), render: func(string) string { return "Clicking" }},
	{
		match: keyword("scroll"),
		render: func(line string) string {
			switch {
			case strings.Contains(line, "up"):
				return "Scrolling up"
			case strings.Contains(line, "down"):
				return "Scrolling down"
			default:
				return "Scrolling"
			}
		},
	},
	{
		match: keyword("key_combination", "pressing"),
		render: func(line string) string {
			if text := quotedText(line); text != "" && !strings.ContainsAny(text, "{}[]") {
				return fmt.Sprintf("Pressing %s", text)
			}
			return "Pressing keys"
		},
	},
	{match: keyword("wait"), render: func(string) string { return "Waiting" }},
}

const fallbackLine = "Continuing..."

// ParseDelta incrementally parses a raw newline-delimited progress stream.
// carry is the trailing partial line returned by the previous call; the
// function is restartable at any byte boundary given that buffer.
func ParseDelta(raw, carry string) Parsed {
	out := Parsed{}
	buf := carry + raw

	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		classifyLine(line, &out)
	}

	out.Next = buf
	return out
}

func classifyLine(line string, out *Parsed) {
	line = strings.TrimSpace(logPrefixRegex.ReplaceAllString(strings.TrimSpace(line), ""))
	if line == "" {
		return
	}

	if m := stepRegex.FindStringSubmatch(line); m != nil {
		var cur, total int
		fmt.Sscanf(m[1], "%d", &cur)
		fmt.Sscanf(m[2], "%d", &total)
		out.Steps = append(out.Steps, StepMark{Current: cur, Total: total})
		return
	}

	lower := strings.ToLower(line)
	if strings.Contains(lower, doneMarker) {
		out.SawDone = true
		return
	}

	for _, r := range rules {
		if r.match(lower) {
			// Render against the original line so quoted text and URLs keep
			// their casing.
			out.Lines = append(out.Lines, r.render(line))
			return
		}
	}
	out.Lines = append(out.Lines, fallbackLine)
}
