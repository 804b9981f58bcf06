package shot

import (
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/andybalholm/cascadia"
	"github.com/microcosm-cc/bluemonday"
)

var snippetBgPattern = regexp.MustCompile(`background-color: (#[a-fA-F0-9]+)`)

// leadingRuns selects the first styled run of every line in the editor layout.
var leadingRuns = cascadia.MustCompile("div > div span:first-child")

var clipboardPolicy = newClipboardPolicy()

// snippetStyles are the declarations editors put on highlighted markup.
var snippetStyles = []string{
	"color", "background-color", "background",
	"font-family", "font-weight", "font-style", "font-size",
	"line-height", "white-space", "text-decoration", "letter-spacing",
	"opacity", "tab-size",
}

func newClipboardPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "span", "br", "b", "i", "em", "strong", "code", "pre")
	p.AllowAttrs("style").Globally()
	p.AllowStyles(snippetStyles...).MatchingHandler(safeStyleValue).Globally()
	return p
}

func safeStyleValue(v string) bool {
	v = strings.ToLower(v)
	for _, bad := range []string{"expression(", "javascript:", "url(", "@import", "behavior:"} {
		if strings.Contains(v, bad) {
			return false
		}
	}
	return true
}

// SnippetBackground returns the first background-color hex found in the
// markup, or "".
func SnippetBackground(markup string) string {
	m := snippetBgPattern.FindStringSubmatch(markup)
	if m == nil {
		return ""
	}
	return m[1]
}

// MinIndent returns the smallest count of leading whitespace characters over
// the lines that contain something other than whitespace. Blank input yields 0.
func MinIndent(code string) int {
	least := -1
	for _, line := range strings.Split(code, "\n") {
		idx := strings.IndexFunc(line, func(r rune) bool { return !unicode.IsSpace(r) })
		if idx == -1 {
			continue
		}
		ws := utf8.RuneCountInString(line[:idx])
		if least == -1 || ws < least {
			least = ws
		}
	}
	if least < 0 {
		return 0
	}
	return least
}

// StripInitialIndent removes indent characters from the first styled run of
// every line. A run shorter than indent is left as it is.
func StripInitialIndent(markup string, indent int) (string, error) {
	body, err := parseBody(markup)
	if err != nil {
		return "", err
	}
	if indent > 0 {
		for _, span := range cascadia.QueryAll(body, leadingRuns) {
			runes := []rune(textContent(span))
			if len(runes) < indent {
				continue
			}
			setTextContent(span, string(runes[indent:]))
		}
	}
	return innerHTML(body)
}

// Normalize turns a highlighted copy into a SnippetDocument. Blank plaintext
// is rejected with ErrInvalidPaste. Every line is shifted left by the same
// amount, so relative nesting survives.
func Normalize(markup, plaintext string) (*SnippetDocument, error) {
	if strings.TrimSpace(plaintext) == "" {
		return nil, ErrInvalidPaste
	}
	if strings.TrimSpace(markup) == "" {
		markup = plainMarkup(plaintext)
	}
	bg := SnippetBackground(markup)
	indent := MinIndent(plaintext)

	clean := clipboardPolicy.Sanitize(markup)
	normalized, err := StripInitialIndent(clean, indent)
	if err != nil {
		return nil, err
	}
	doc, err := snippetFromMarkup(normalized)
	if err != nil {
		return nil, err
	}
	if bg != "" {
		doc.BackgroundColor = bg
	}
	doc.MinIndent = indent
	return doc, nil
}

// plainMarkup lays out a text-only paste the way editors lay out a
// highlighted one: one div per line, one span per line.
func plainMarkup(plaintext string) string {
	var b strings.Builder
	b.WriteString(`<div style="white-space: pre;">`)
	for _, line := range strings.Split(strings.TrimRight(plaintext, "\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			b.WriteString("<div><br></div>")
			continue
		}
		b.WriteString("<div><span>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</span></div>")
	}
	b.WriteString("</div>")
	return b.String()
}
