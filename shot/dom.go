package shot

import (
	"bytes"
	"strings"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func removeAttr(n *html.Node, name string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, name) {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// GetAttr is exported for the debug tooling.
func GetAttr(n *html.Node, name string) string { return getAttr(n, name) }

func addClass(n *html.Node, class string) {
	cur := strings.Fields(getAttr(n, "class"))
	for _, c := range cur {
		if c == class {
			return
		}
	}
	setAttr(n, "class", strings.TrimSpace(strings.Join(append(cur, class), " ")))
}

func textContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(c *html.Node) {
		for ; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
			visit(c.FirstChild)
		}
	}
	visit(n.FirstChild)
	return b.String()
}

func setTextContent(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func newElement(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

func findFirstByTag(n *html.Node, name string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, name) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if r := findFirstByTag(c, name); r != nil {
			return r
		}
	}
	return nil
}

func elementChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// innerHTML renders the children of n.
func innerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// parseBody parses a markup fragment as a full document and returns its body.
func parseBody(markup string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	body := findFirstByTag(doc, "body")
	if body == nil {
		return doc, nil
	}
	return body, nil
}

// inlineDeclarations parses a style attribute into an ordered property list.
// Malformed attributes fall back to a plain split on ';'.
func inlineDeclarations(style string) []cssDeclaration {
	style = strings.TrimSpace(style)
	if style == "" {
		return nil
	}
	if decls, err := parser.ParseDeclarations(terminateDeclarations(style)); err == nil {
		return convertDeclarations(decls)
	}
	var out []cssDeclaration
	for _, part := range strings.Split(style, ";") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		value := strings.TrimSpace(kv[1])
		important := false
		if strings.HasSuffix(strings.ToLower(value), "!important") {
			important = true
			value = strings.TrimSpace(value[:len(value)-len("!important")])
		}
		prop := strings.ToLower(strings.TrimSpace(kv[0]))
		if prop == "" || value == "" {
			continue
		}
		out = append(out, cssDeclaration{property: prop, value: value, important: important})
	}
	return out
}

// terminateDeclarations appends the ';' the douceur parser needs to keep the
// last declaration of a block.
func terminateDeclarations(style string) string {
	if strings.HasSuffix(style, ";") {
		return style
	}
	return style + ";"
}

func inlineStyleValue(n *html.Node, prop string) string {
	val := ""
	for _, d := range inlineDeclarations(getAttr(n, "style")) {
		if d.property == prop {
			val = d.value
		}
	}
	return val
}
