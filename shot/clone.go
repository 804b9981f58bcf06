package shot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// CanvasSource supplies the current bitmap of a <canvas> element as PNG.
type CanvasSource interface {
	CanvasPNG(n *html.Node) ([]byte, error)
}

// FormValues supplies the live value of form controls, which may differ
// from what the markup says.
type FormValues interface {
	Value(n *html.Node) (string, bool)
}

// ClonerOptions configures a Cloner.
type ClonerOptions struct {
	Stylesheet *Stylesheet
	Canvas     CanvasSource
	Forms      FormValues
	// Filter reports whether a node is kept. The capture root is always
	// kept; a dropped node takes its subtree with it.
	Filter func(*html.Node) bool
}

// Cloner produces detached copies of a DOM subtree with every element's
// captured style written out as its style attribute.
type Cloner struct {
	opts ClonerOptions
	uid  int
}

// NewCloner returns a Cloner.
func NewCloner(opts ClonerOptions) *Cloner {
	return &Cloner{opts: opts}
}

// Clone deep-copies node. The copy shares nothing with the source tree.
func (c *Cloner) Clone(ctx context.Context, node *html.Node) (*html.Node, error) {
	if node == nil || node.Type != html.ElementNode {
		return nil, ErrEmptyNode
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := c.cloneNode(ctx, node, true)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cloner) cloneNode(ctx context.Context, n *html.Node, root bool) (*html.Node, error) {
	if !root && c.opts.Filter != nil && !c.opts.Filter(n) {
		return nil, nil
	}
	switch n.Type {
	case html.TextNode:
		return &html.Node{Type: html.TextNode, Data: n.Data}, nil
	case html.ElementNode:
	default:
		return nil, nil
	}

	if strings.EqualFold(n.Data, "canvas") {
		return c.cloneCanvas(n, root)
	}

	clone := &html.Node{
		Type:      html.ElementNode,
		Data:      n.Data,
		DataAtom:  n.DataAtom,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cc, err := c.cloneNode(ctx, child, false)
		if err != nil {
			return nil, err
		}
		if cc != nil {
			clone.AppendChild(cc)
		}
	}
	c.processClone(n, clone, root)
	return clone, nil
}

func (c *Cloner) processClone(orig, clone *html.Node, root bool) {
	c.cloneStyle(orig, clone, root)
	c.clonePseudoElements(orig, clone)
	c.copyUserInput(orig, clone)
	fixSVG(clone)
}

func (c *Cloner) capturedStyle(n *html.Node, root bool) map[string]string {
	style := computeStyleFor(n, c.opts.Stylesheet)
	if root {
		style = inheritFromAncestors(n, c.opts.Stylesheet, style)
	}
	return style
}

func (c *Cloner) cloneStyle(orig, clone *html.Node, root bool) {
	record := styleRecord(c.capturedStyle(orig, root))
	if record == "" {
		removeAttr(clone, "style")
		return
	}
	setAttr(clone, "style", record)
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

func (c *Cloner) clonePseudoElements(orig, clone *html.Node) {
	if voidElements[strings.ToLower(orig.Data)] || orig.Namespace != "" {
		return
	}
	for _, pseudo := range []string{"before", "after"} {
		style := computePseudoStyleFor(orig, c.opts.Stylesheet, pseudo)
		content := strings.TrimSpace(style["content"])
		if content == "" || content == "none" || content == "normal" {
			continue
		}
		class := c.nextClass()
		addClass(clone, class)
		sheet := newElement("style")
		sheet.AppendChild(&html.Node{
			Type: html.TextNode,
			Data: "." + class + ":" + pseudo + " { " + styleRecord(style) + " }",
		})
		clone.AppendChild(sheet)
	}
}

func (c *Cloner) nextClass() string {
	c.uid++
	return "shot-u" + strconv.Itoa(c.uid)
}

func (c *Cloner) copyUserInput(orig, clone *html.Node) {
	tag := strings.ToLower(orig.Data)
	if tag != "textarea" && tag != "input" {
		return
	}
	if c.opts.Forms == nil {
		return
	}
	val, ok := c.opts.Forms.Value(orig)
	if !ok {
		return
	}
	if tag == "textarea" {
		setTextContent(clone, val)
		return
	}
	setAttr(clone, "value", val)
}

// fixSVG makes a cloned SVG element render outside its document: every
// element gets an explicit namespace and rect sizes move into the style.
func fixSVG(clone *html.Node) {
	if clone.Namespace != "svg" && !strings.EqualFold(clone.Data, "svg") {
		return
	}
	setAttr(clone, "xmlns", svgNamespace)
	if !strings.EqualFold(clone.Data, "rect") {
		return
	}
	decls := inlineDeclarations(getAttr(clone, "style"))
	style := make(map[string]string, len(decls)+2)
	for _, d := range decls {
		style[d.property] = d.value
	}
	for _, dim := range []string{"width", "height"} {
		if v := getAttr(clone, dim); v != "" {
			style[dim] = v
		}
	}
	if rec := styleRecord(style); rec != "" {
		setAttr(clone, "style", rec)
	}
}

func (c *Cloner) cloneCanvas(n *html.Node, root bool) (*html.Node, error) {
	var pngBytes []byte
	if c.opts.Canvas != nil {
		b, err := c.opts.Canvas.CanvasPNG(n)
		if err != nil {
			return nil, fmt.Errorf("canvas snapshot: %w", err)
		}
		pngBytes = b
	}
	if pngBytes == nil {
		w := attrInt(n, "width", 300)
		h := attrInt(n, "height", 150)
		if w > maxCanvasSide || h > maxCanvasSide || w*h > maxCanvasPixels {
			return nil, fmt.Errorf("%w: %dx%d", ErrCanvasTooLarge, w, h)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
			return nil, err
		}
		pngBytes = buf.Bytes()
	}
	img := newElement("img", html.Attribute{Key: "src", Val: encodePNGDataURL(pngBytes)})
	for _, key := range []string{"width", "height", "class", "id"} {
		if v := getAttr(n, key); v != "" {
			setAttr(img, key, v)
		}
	}
	if record := styleRecord(c.capturedStyle(n, root)); record != "" {
		setAttr(img, "style", record)
	}
	return img, nil
}

// Blank canvas snapshots stay within what browsers allocate for a canvas.
const (
	maxCanvasSide   = 16384
	maxCanvasPixels = 1 << 24
)

func attrInt(n *html.Node, name string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(getAttr(n, name)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
