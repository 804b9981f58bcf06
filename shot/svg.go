package shot

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	xhtmlNamespace = "http://www.w3.org/1999/xhtml"
	svgNamespace   = "http://www.w3.org/2000/svg"
	xlinkNamespace = "http://www.w3.org/1999/xlink"

	svgDataPrefix = "data:image/svg+xml;charset=utf-8,"
)

// SerializeXHTML writes n and its subtree as well-formed XHTML. The root
// element is put in the XHTML namespace so an SVG foreignObject accepts it.
func SerializeXHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := writeXHTML(w, n, true); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeXHTML(w *bufio.Writer, n *html.Node, root bool) error {
	switch n.Type {
	case html.TextNode:
		return xml.EscapeText(w, []byte(n.Data))
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := writeXHTML(w, c, root); err != nil {
				return err
			}
		}
		return nil
	case html.ElementNode:
	default:
		return nil
	}

	name := strings.ToLower(n.Data)
	if n.Namespace == "svg" || n.Namespace == "math" {
		name = n.Data
	}
	w.WriteByte('<')
	w.WriteString(name)

	attrs := xhtmlAttributes(n, root)
	for _, a := range attrs {
		w.WriteByte(' ')
		w.WriteString(a.Key)
		w.WriteString(`="`)
		if err := escapeAttr(w, a.Val); err != nil {
			return err
		}
		w.WriteByte('"')
	}

	if n.FirstChild == nil {
		_, err := w.WriteString(" />")
		return err
	}
	w.WriteByte('>')
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := writeXHTML(w, c, false); err != nil {
			return err
		}
	}
	w.WriteString("</")
	w.WriteString(name)
	return w.WriteByte('>')
}

// xhtmlAttributes returns the attributes of n as they must appear in XML:
// qualified names, no duplicates, no names XML cannot express, and the
// namespace declarations the element needs.
func xhtmlAttributes(n *html.Node, root bool) []html.Attribute {
	out := make([]html.Attribute, 0, len(n.Attr)+2)
	seen := map[string]bool{}
	add := func(key, val string) {
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, html.Attribute{Key: key, Val: val})
	}
	if root && n.Namespace == "" {
		add("xmlns", xhtmlNamespace)
	}
	usesXlink := false
	for _, a := range n.Attr {
		key := a.Key
		if a.Namespace != "" {
			key = a.Namespace + ":" + a.Key
			if a.Namespace == "xlink" {
				usesXlink = true
			}
		}
		if root && key == "xmlns" && n.Namespace == "" {
			continue
		}
		if !validXMLName(key) {
			continue
		}
		add(key, a.Val)
	}
	if usesXlink || (strings.EqualFold(n.Data, "svg") && n.Namespace == "svg") {
		add("xmlns:xlink", xlinkNamespace)
	}
	return out
}

func validXMLName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == ':' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 0x7f:
		case i > 0 && (r == '-' || r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

func escapeAttr(w io.Writer, val string) error {
	return xml.EscapeText(w, []byte(val))
}

// escapeXHTML percent-encodes the two characters that break an unencoded
// data URI.
func escapeXHTML(s string) string {
	return strings.NewReplacer("#", "%23", "\n", "%0A").Replace(s)
}

// WrapSVG embeds serialized XHTML in an SVG foreignObject of the given size
// and returns it as a data URI.
func WrapSVG(xhtml string, width, height int) string {
	var b strings.Builder
	b.WriteString(svgDataPrefix)
	b.WriteString(`<svg xmlns="`)
	b.WriteString(svgNamespace)
	b.WriteString(`" width="`)
	b.WriteString(strconv.Itoa(width))
	b.WriteString(`" height="`)
	b.WriteString(strconv.Itoa(height))
	b.WriteString(`"><foreignObject x="0" y="0" width="100%" height="100%">`)
	b.WriteString(escapeXHTML(xhtml))
	b.WriteString(`</foreignObject></svg>`)
	return b.String()
}

// MakeSVGDataURI serializes n and wraps it with WrapSVG.
func MakeSVGDataURI(n *html.Node, width, height int) (string, error) {
	if n == nil || n.Type != html.ElementNode {
		return "", ErrEmptyNode
	}
	if width <= 0 || height <= 0 {
		return "", ErrBadDimensions
	}
	xhtml, err := SerializeXHTML(n)
	if err != nil {
		return "", err
	}
	return WrapSVG(xhtml, width, height), nil
}
