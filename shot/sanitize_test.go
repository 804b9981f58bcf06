package shot

import (
	"errors"
	"strings"
	"testing"
)

const editorStyle = `color: #d4d4d4;background-color: #1e1e1e;font-family: Menlo, Monaco, 'Courier New', monospace;font-weight: normal;font-size: 12px;line-height: 18px;white-space: pre;`

func editorMarkup(lines ...string) string {
	var b strings.Builder
	b.WriteString(`<meta charset='utf-8'><div style="` + editorStyle + `">`)
	for _, l := range lines {
		b.WriteString("<div>" + l + "</div>")
	}
	b.WriteString("</div>")
	return b.String()
}

func lineTexts(doc *SnippetDocument) []string {
	out := make([]string, len(doc.Lines))
	for i, l := range doc.Lines {
		out[i] = l.Text()
	}
	return out
}

func TestNormalizeRejectsBlankPlaintext(t *testing.T) {
	t.Parallel()
	for _, plain := range []string{"", "   ", " \n\t\n "} {
		_, err := Normalize(editorMarkup(`<span>x</span>`), plain)
		if !errors.Is(err, ErrInvalidPaste) {
			t.Fatalf("Normalize with plaintext %q: err = %v, want ErrInvalidPaste", plain, err)
		}
	}
}

func TestMinIndent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		code     string
		expected int
	}{
		{"mixed", "    a\n  b\n      c", 2},
		{"blank_lines_ignored", "    a\n\n   \n    b", 4},
		{"no_indent", "a\n  b", 0},
		{"tabs", "\t\tx\n\ty", 1},
		{"only_blank", "\n   \n", 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := MinIndent(tc.code); got != tc.expected {
				t.Fatalf("MinIndent(%q) = %d, expected %d", tc.code, got, tc.expected)
			}
		})
	}
}

func TestNormalizeStripsCommonIndent(t *testing.T) {
	t.Parallel()
	markup := editorMarkup(
		`<span style="color: #569cd6;">  foo</span>`,
		`<span style="color: #569cd6;">    bar</span><span style="color: #d4d4d4;">()</span>`,
		`<span>  baz</span>`,
	)
	doc, err := Normalize(markup, "  foo\n    bar()\n  baz")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	got := lineTexts(doc)
	want := []string{"foo", "  bar()", "baz"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	if doc.MinIndent != 2 {
		t.Fatalf("MinIndent = %d, want 2", doc.MinIndent)
	}
	if doc.BackgroundColor != "#1e1e1e" {
		t.Fatalf("BackgroundColor = %q, want #1e1e1e", doc.BackgroundColor)
	}
	if !doc.Dark() {
		t.Fatalf("expected a dark snippet")
	}
	if doc.Lines[1].Runs[0].Color != "#569cd6" || doc.Lines[1].Runs[1].Color != "#d4d4d4" {
		t.Fatalf("run colors lost: %+v", doc.Lines[1].Runs)
	}
	if !strings.HasPrefix(doc.FontFamily, "Menlo") {
		t.Fatalf("FontFamily = %q", doc.FontFamily)
	}
}

func TestNormalizeLeavesShortLeadingRun(t *testing.T) {
	t.Parallel()
	markup := editorMarkup(
		`<span>    a</span>`,
		`<span> </span><span> b</span>`,
	)
	doc, err := Normalize(markup, "    a\n  b")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	got := lineTexts(doc)
	if got[0] != "  a" {
		t.Fatalf("line 0 = %q, want %q", got[0], "  a")
	}
	if got[1] != "  b" {
		t.Fatalf("line 1 = %q, want the short run untouched (%q)", got[1], "  b")
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()
	markup := editorMarkup(
		`<span style="color: #c586c0;">    if</span><span> x {</span>`,
		`<br>`,
		`<span>      y()</span>`,
	)
	plain := "    if x {\n\n      y()"
	first, err := Normalize(markup, plain)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	second, err := Normalize(markup, plain)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if first.HTML != second.HTML {
		t.Fatalf("normalization not deterministic:\n%s\n%s", first.HTML, second.HTML)
	}
	if got := first.Plaintext(); got != "if x {\n\n  y()" {
		t.Fatalf("Plaintext = %q", got)
	}
}

func TestNormalizeDropsActiveContent(t *testing.T) {
	t.Parallel()
	markup := editorMarkup(`<span onclick="steal()" style="color: #fff; background: url(http://evil/x.png)">a</span><script>alert(1)</script>`)
	doc, err := Normalize(markup, "a")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for _, bad := range []string{"script", "onclick", "alert", "evil"} {
		if strings.Contains(doc.HTML, bad) {
			t.Fatalf("sanitized markup still contains %q: %s", bad, doc.HTML)
		}
	}
	if got := doc.Plaintext(); got != "a" {
		t.Fatalf("Plaintext = %q, want a", got)
	}
}

func TestNormalizePlainTextOnly(t *testing.T) {
	t.Parallel()
	doc, err := Normalize("", "  a < b\n    c")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := doc.Plaintext(); got != "a < b\n  c" {
		t.Fatalf("Plaintext = %q", got)
	}
	if doc.BackgroundColor != "" {
		t.Fatalf("unexpected background %q", doc.BackgroundColor)
	}
}

func TestSnippetBackground(t *testing.T) {
	t.Parallel()
	if got := SnippetBackground(`<div style="background-color: #FFFFFE;">`); got != "#FFFFFE" {
		t.Fatalf("SnippetBackground = %q", got)
	}
	if got := SnippetBackground(`<div style="color: red">`); got != "" {
		t.Fatalf("SnippetBackground = %q, want empty", got)
	}
}
