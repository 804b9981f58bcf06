// Package preview holds the page a snippet is shown on before it is
// captured: a backdrop container wrapping the snippet box, plus the user
// toggles that decorate it.
package preview

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"codeshot/shot"
)

//go:embed page.html
var pageHTML string

const (
	ContainerID   = "snippet-container"
	SnippetID     = "snippet"
	NoShadowClass = "snippet--no-shadows"
)

var (
	containerSel = cascadia.MustCompile("#" + ContainerID)
	snippetSel   = cascadia.MustCompile("#" + SnippetID)
)

// MonoFontStack puts the editor font in front of the usual monospace
// fallbacks.
func MonoFontStack(fontFamily string) string {
	const fallbacks = "SFMono-Regular,Consolas,DejaVu Sans Mono,Ubuntu Mono,Liberation Mono,Menlo,Courier,monospace"
	fontFamily = strings.TrimSpace(fontFamily)
	if fontFamily == "" {
		return fallbacks
	}
	return fontFamily + "," + fallbacks
}

// InitialHTML is the demo snippet shown until the first paste.
func InitialHTML(fontFamily string) string {
	const camera = "\U0001F4F8"
	line := func(text string) string {
		return `<div><span style="color: #8fbcbb;">console</span><span style="color: #eceff4;">.</span>` +
			`<span style="color: #88c0d0;">log</span><span style="color: #d8dee9;">(</span>` +
			`<span style="color: #eceff4;">'</span><span style="color: #a3be8c;">` + html.EscapeString(text) + `</span>` +
			`<span style="color: #eceff4;">'</span><span style="color: #d8dee9;">)</span></div>`
	}
	var b strings.Builder
	b.WriteString(`<div style="color: #d8dee9;background-color: #2e3440; font-family: `)
	b.WriteString(html.EscapeString(MonoFontStack(fontFamily)))
	b.WriteString(`;font-weight: normal;font-size: 12px;line-height: 18px;white-space: pre;">`)
	b.WriteString(line("0. Run codeshot " + camera))
	b.WriteString(line("1. Copy some code"))
	b.WriteString(line("2. Paste into the preview"))
	b.WriteString(line("3. Click the button " + camera))
	b.WriteString(`</div>`)
	return b.String()
}

// Document is the preview page. All reads and writes go through its lock;
// captures run under the read lock via View.
type Document struct {
	mu        sync.RWMutex
	root      *html.Node
	container *html.Node
	snippet   *html.Node
	styles    *shot.Stylesheet
	opts      shot.RenderOptions
	current   *shot.SnippetDocument
}

// New parses the page shell and shows the demo snippet.
func New(fontFamily, lastBackground string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("preview: parse page: %w", err)
	}
	d := &Document{
		root:      root,
		container: cascadia.Query(root, containerSel),
		snippet:   cascadia.Query(root, snippetSel),
		opts:      shot.DefaultRenderOptions(),
	}
	if d.container == nil || d.snippet == nil {
		return nil, fmt.Errorf("preview: page lacks #%s or #%s", ContainerID, SnippetID)
	}
	d.styles = shot.BuildStylesheet(context.Background(), root, "", nil)
	if err := d.Init(fontFamily, lastBackground); err != nil {
		return nil, err
	}
	return d, nil
}

// Init resets the snippet to the demo content and sets the backdrop from
// the background of the last pasted snippet.
func (d *Document) Init(fontFamily, lastBackground string) error {
	demo, err := shot.Normalize(InitialHTML(fontFamily), "demo")
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := setInnerHTML(d.snippet, demo.HTML); err != nil {
		return err
	}
	d.current = demo
	d.applyBackdropLocked(lastBackground)
	return nil
}

// Replace swaps the snippet content for doc.
func (d *Document) Replace(doc *shot.SnippetDocument) error {
	if doc == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := setInnerHTML(d.snippet, doc.HTML); err != nil {
		return err
	}
	if doc.BackgroundColor != "" {
		setStyleProp(d.snippet, "background-color", doc.BackgroundColor)
	}
	d.current = doc
	d.applyBackdropLocked(doc.BackgroundColor)
	return nil
}

// applyBackdropLocked makes the backdrop transparent behind dark snippets
// and clears it behind light ones.
func (d *Document) applyBackdropLocked(snippetBackground string) {
	if shot.IsDark(snippetBackground) {
		removeStyleProp(d.container, "background")
		setStyleProp(d.container, "background-color", "transparent")
		return
	}
	removeStyleProp(d.container, "background-color")
	setStyleProp(d.container, "background", "none")
}

// SetOptions applies the shadow and backdrop toggles.
func (d *Document) SetOptions(o shot.RenderOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = o
	if o.Shadow {
		removeClass(d.snippet, NoShadowClass)
	} else {
		addClass(d.snippet, NoShadowClass)
	}
	removeStyleProp(d.container, "background")
	setStyleProp(d.container, "background-color", o.Backdrop())
}

// Options returns the current toggles.
func (d *Document) Options() shot.RenderOptions {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

// Snippet returns the snippet currently shown.
func (d *Document) Snippet() *shot.SnippetDocument {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Render serializes the whole page.
func (d *Document) Render() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	if err := html.Render(&b, d.root); err != nil {
		return "", err
	}
	return b.String(), nil
}

// View runs fn with the capture root, the page stylesheet and the measured
// size of the capture root. fn must not keep the node.
func (d *Document) View(fn func(container *html.Node, styles *shot.Stylesheet, size Size) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fn(d.container, d.styles, Measure(d.current))
}

func setInnerHTML(n *html.Node, markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return fmt.Errorf("preview: parse snippet: %w", err)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, c := range nodes {
		n.AppendChild(c)
	}
	return nil
}
