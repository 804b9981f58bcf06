package shot

import (
	"strings"

	"golang.org/x/net/html"
)

// Run is one styled token of a snippet line.
type Run struct {
	Text  string
	Color string
}

// Line is an ordered sequence of runs.
type Line struct {
	Runs []Run
}

// Text concatenates the runs of the line.
func (l Line) Text() string {
	var b strings.Builder
	for _, r := range l.Runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// SnippetDocument is the normalized form of one highlighted copy.
type SnippetDocument struct {
	BackgroundColor string
	FontFamily      string
	MinIndent       int
	Lines           []Line
	// HTML is the normalized markup that replaces the preview content.
	HTML string
}

// Plaintext joins the line texts with newlines.
func (d *SnippetDocument) Plaintext() string {
	if d == nil {
		return ""
	}
	out := make([]string, len(d.Lines))
	for i, l := range d.Lines {
		out[i] = l.Text()
	}
	return strings.Join(out, "\n")
}

// Dark reports whether the snippet background is dark.
func (d *SnippetDocument) Dark() bool {
	return d != nil && IsDark(d.BackgroundColor)
}

// snippetFromMarkup reads the editor layout: a root div holding one div per
// line, each line a sequence of colored spans. Text outside spans inherits
// the root color.
func snippetFromMarkup(markup string) (*SnippetDocument, error) {
	body, err := parseBody(markup)
	if err != nil {
		return nil, err
	}
	doc := &SnippetDocument{HTML: markup}
	root := findFirstByTag(body, "div")
	if root == nil {
		return doc, nil
	}
	baseColor := CSSToHex(inlineStyleValue(root, "color"))
	doc.FontFamily = strings.TrimSpace(inlineStyleValue(root, "font-family"))
	if bg := CSSToHex(inlineStyleValue(root, "background-color")); bg != "" {
		doc.BackgroundColor = bg
	}

	lineDivs := 0
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && strings.EqualFold(c.Data, "div") {
			lineDivs++
		}
	}
	if lineDivs == 0 {
		doc.Lines = splitRuns(collectRuns(root, baseColor))
		return doc, nil
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || !strings.EqualFold(c.Data, "div") {
			continue
		}
		doc.Lines = append(doc.Lines, Line{Runs: collectRuns(c, baseColor)})
	}
	return doc, nil
}

func collectRuns(n *html.Node, color string) []Run {
	var runs []Run
	var visit func(*html.Node, string)
	visit = func(cur *html.Node, col string) {
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				if c.Data != "" {
					runs = append(runs, Run{Text: c.Data, Color: col})
				}
			case html.ElementNode:
				if strings.EqualFold(c.Data, "br") {
					runs = append(runs, Run{Text: "\n", Color: col})
					continue
				}
				next := col
				if v := CSSToHex(inlineStyleValue(c, "color")); v != "" {
					next = v
				}
				visit(c, next)
			}
		}
	}
	visit(n, color)
	out := runs[:0]
	for _, r := range runs {
		// a lone <br> marks an empty line in the editor layout
		if r.Text == "\n" && len(runs) == 1 {
			continue
		}
		out = append(out, r)
	}
	return out
}

// splitRuns breaks a flat run list into lines at newline characters.
func splitRuns(runs []Run) []Line {
	lines := []Line{{}}
	for _, r := range runs {
		parts := strings.Split(r.Text, "\n")
		for i, p := range parts {
			if i > 0 {
				lines = append(lines, Line{})
			}
			if p != "" {
				cur := &lines[len(lines)-1]
				cur.Runs = append(cur.Runs, Run{Text: p, Color: r.Color})
			}
		}
	}
	return lines
}
