package preview

import (
	"sort"
	"strings"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
)

func getAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func addClass(n *html.Node, class string) {
	fields := strings.Fields(getAttr(n, "class"))
	for _, f := range fields {
		if f == class {
			return
		}
	}
	setAttr(n, "class", strings.Join(append(fields, class), " "))
}

func removeClass(n *html.Node, class string) {
	fields := strings.Fields(getAttr(n, "class"))
	out := fields[:0]
	for _, f := range fields {
		if f != class {
			out = append(out, f)
		}
	}
	setAttr(n, "class", strings.Join(out, " "))
}

// styleProps reads a style attribute keeping declaration order.
func styleProps(n *html.Node) ([]string, map[string]string) {
	style := strings.TrimSpace(getAttr(n, "style"))
	if style != "" && !strings.HasSuffix(style, ";") {
		// without the terminator douceur drops the last declaration
		style += ";"
	}
	decls, err := parser.ParseDeclarations(style)
	if err != nil {
		return nil, map[string]string{}
	}
	order := make([]string, 0, len(decls))
	vals := make(map[string]string, len(decls))
	for _, d := range decls {
		prop := strings.ToLower(strings.TrimSpace(d.Property))
		if _, ok := vals[prop]; !ok {
			order = append(order, prop)
		}
		vals[prop] = d.Value
	}
	return order, vals
}

func writeStyle(n *html.Node, order []string, vals map[string]string) {
	parts := make([]string, 0, len(order))
	for _, p := range order {
		if v, ok := vals[p]; ok {
			parts = append(parts, p+": "+v)
		}
	}
	setAttr(n, "style", strings.Join(parts, "; "))
}

func setStyleProp(n *html.Node, prop, val string) {
	order, vals := styleProps(n)
	if _, ok := vals[prop]; !ok {
		order = append(order, prop)
	}
	vals[prop] = val
	writeStyle(n, order, vals)
}

func removeStyleProp(n *html.Node, prop string) {
	order, vals := styleProps(n)
	delete(vals, prop)
	writeStyle(n, order, vals)
}

// StyleOf returns the style attribute of the element with the given id as a
// sorted property map. It is meant for inspection and tests.
func (d *Document) StyleOf(id string) map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n *html.Node
	switch id {
	case ContainerID:
		n = d.container
	case SnippetID:
		n = d.snippet
	default:
		return nil
	}
	_, vals := styleProps(n)
	return vals
}

// ClassesOf returns the sorted classes of the snippet box.
func (d *Document) ClassesOf(id string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id != SnippetID {
		return nil
	}
	cls := strings.Fields(getAttr(d.snippet, "class"))
	sort.Strings(cls)
	return cls
}
