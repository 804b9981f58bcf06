package shot

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"github.com/charmbracelet/log"
	"golang.org/x/net/html"
)

type propState struct {
	val       string
	spec      cascadia.Specificity
	order     int
	important bool
}

type cssDeclaration struct {
	property  string
	value     string
	important bool
}

type cssRule struct {
	selector     cascadia.Sel
	specificity  cascadia.Specificity
	declarations []cssDeclaration
	order        int
	// pseudo is "before" or "after" for pseudo-element rules.
	pseudo string
}

// FontFace is one @font-face rule together with the URL of the sheet it came
// from, which relative src URLs resolve against.
type FontFace struct {
	BaseURL      string
	declarations []cssDeclaration
}

// CSS renders the rule with its declarations in source order.
func (f FontFace) CSS() string {
	var b strings.Builder
	b.WriteString("@font-face {")
	for _, d := range f.declarations {
		b.WriteString(" ")
		b.WriteString(d.property)
		b.WriteString(": ")
		b.WriteString(d.value)
		if d.important {
			b.WriteString(" !important")
		}
		b.WriteString(";")
	}
	b.WriteString(" }")
	return b.String()
}

// Stylesheet is the parsed author CSS of one document.
type Stylesheet struct {
	rules     []cssRule
	fontFaces []FontFace
	baseURL   string
}

// FontFaces returns the @font-face rules in document order.
func (ss *Stylesheet) FontFaces() []FontFace {
	if ss == nil {
		return nil
	}
	return ss.fontFaces
}

// Viewport is the layout size used to evaluate @media queries.
type Viewport struct {
	Width  int
	Height int
}

// StylesheetOptions tunes BuildStylesheet. The zero value is usable.
type StylesheetOptions struct {
	Client   *http.Client
	Viewport Viewport
	Logger   *log.Logger
}

type cssParseContext struct {
	ctx     context.Context
	baseURL string
	opts    *StylesheetOptions
	depth   int
	visited map[string]struct{}
	budget  *int
}

func (c *cssParseContext) child(newBase string) *cssParseContext {
	next := *c
	next.baseURL = newBase
	next.depth = c.depth + 1
	return &next
}

const maxImportDepth = 16

// BuildStylesheet collects the rules of every <style> element and every
// stylesheet <link> of doc. Linked and imported sheets are fetched relative
// to base; a sheet that cannot be fetched is skipped.
func BuildStylesheet(ctx context.Context, doc *html.Node, base string, opts *StylesheetOptions) *Stylesheet {
	ss := &Stylesheet{baseURL: base}
	if doc == nil {
		return ss
	}
	if opts == nil {
		opts = &StylesheetOptions{}
	}
	budget := 16
	pc := &cssParseContext{
		ctx:     ctx,
		baseURL: base,
		opts:    opts,
		visited: map[string]struct{}{},
		budget:  &budget,
	}
	order := 0

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "style":
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					order = ss.parseCSSText(n.FirstChild.Data, order, pc)
				}
			case "link":
				if href := stylesheetHref(n); href != "" {
					order = ss.importSheet(href, "", order, pc)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return ss
}

// ParseStylesheet parses CSS text without fetching anything.
func ParseStylesheet(css, base string) *Stylesheet {
	ss := &Stylesheet{baseURL: base}
	ss.parseCSSText(css, 0, &cssParseContext{
		ctx:     context.Background(),
		baseURL: base,
		opts:    &StylesheetOptions{},
		visited: map[string]struct{}{},
		budget:  new(int),
	})
	return ss
}

func stylesheetHref(n *html.Node) string {
	rel := strings.ToLower(strings.TrimSpace(getAttr(n, "rel")))
	if rel != "" && !strings.Contains(rel, "stylesheet") {
		return ""
	}
	typ := strings.ToLower(strings.TrimSpace(getAttr(n, "type")))
	if typ != "" && typ != "text/css" {
		return ""
	}
	return strings.TrimSpace(getAttr(n, "href"))
}

func (ss *Stylesheet) importSheet(href, media string, order int, pc *cssParseContext) int {
	if media != "" && !mediaRuleActive(media, pc.opts.Viewport) {
		return order
	}
	abs := resolveAbsURL(pc.baseURL, href)
	if abs == "" {
		return order
	}
	if _, seen := pc.visited[abs]; seen {
		return order
	}
	pc.visited[abs] = struct{}{}
	if *pc.budget <= 0 {
		return order
	}
	*pc.budget--
	b, err := fetchText(pc.ctx, pc.opts.Client, abs, "text/css")
	if err != nil {
		loggerOr(pc.opts.Logger).Warn("stylesheet fetch failed", "url", abs, "err", err)
		return order
	}
	return ss.parseCSSText(string(b), order, pc.child(abs))
}

func (ss *Stylesheet) parseCSSText(txt string, order int, pc *cssParseContext) int {
	trimmed := strings.TrimSpace(txt)
	if trimmed == "" || pc.depth >= maxImportDepth {
		return order
	}
	sheet, err := parser.Parse(trimmed)
	if err != nil {
		loggerOr(pc.opts.Logger).Warn("css parse failed", "base", pc.baseURL, "err", err)
		return order
	}

	var walk func([]*cssast.Rule)
	walk = func(list []*cssast.Rule) {
		for _, rule := range list {
			if rule == nil {
				continue
			}
			switch rule.Kind {
			case cssast.AtRule:
				switch strings.ToLower(strings.TrimSpace(rule.Name)) {
				case "@media":
					if mediaRuleActive(rule.Prelude, pc.opts.Viewport) {
						walk(rule.Rules)
					}
				case "@supports":
					walk(rule.Rules)
				case "@font-face":
					if decls := convertDeclarations(rule.Declarations); len(decls) > 0 {
						ss.fontFaces = append(ss.fontFaces, FontFace{BaseURL: pc.baseURL, declarations: decls})
					}
				case "@import":
					target, media := extractImportTarget(rule.Prelude)
					if target != "" {
						order = ss.importSheet(target, media, order, pc)
					}
				default:
					if rule.EmbedsRules() {
						walk(rule.Rules)
					}
				}
			case cssast.QualifiedRule:
				decls := convertDeclarations(rule.Declarations)
				if len(decls) == 0 || len(rule.Selectors) == 0 {
					continue
				}
				group, err := cascadia.ParseGroupWithPseudoElements(strings.Join(rule.Selectors, ","))
				if err != nil {
					loggerOr(pc.opts.Logger).Debug("selector skipped", "selector", strings.Join(rule.Selectors, ","), "err", err)
					continue
				}
				for _, sel := range group {
					if sel == nil {
						continue
					}
					pseudo := sel.PseudoElement()
					if pseudo != "" && pseudo != "before" && pseudo != "after" {
						continue
					}
					ss.rules = append(ss.rules, cssRule{
						selector:     sel,
						specificity:  sel.Specificity(),
						declarations: cloneDecls(decls),
						order:        order,
						pseudo:       pseudo,
					})
					order++
				}
			}
		}
	}
	walk(sheet.Rules)
	return order
}

func cloneDecls(src []cssDeclaration) []cssDeclaration {
	out := make([]cssDeclaration, len(src))
	copy(out, src)
	return out
}

func convertDeclarations(list []*cssast.Declaration) []cssDeclaration {
	if len(list) == 0 {
		return nil
	}
	out := make([]cssDeclaration, 0, len(list))
	for _, decl := range list {
		if decl == nil {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(decl.Property))
		if prop == "" {
			continue
		}
		val := strings.TrimSpace(decl.Value)
		if val == "" {
			continue
		}
		out = append(out, cssDeclaration{property: prop, value: val, important: decl.Important})
	}
	return out
}

func extractImportTarget(prelude string) (string, string) {
	s := strings.TrimSpace(prelude)
	if s == "" {
		return "", ""
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "url(") {
		end := strings.Index(s, ")")
		if end == -1 {
			return "", ""
		}
		return trimCSSString(s[4:end]), strings.TrimSpace(s[end+1:])
	}
	if (s[0] == '"' || s[0] == '\'') && len(s) > 1 {
		if idx := strings.IndexByte(s[1:], s[0]); idx != -1 {
			return s[1 : idx+1], strings.TrimSpace(s[idx+2:])
		}
	}
	fields := strings.Fields(s)
	target := trimCSSString(fields[0])
	return target, strings.TrimSpace(strings.TrimPrefix(s, fields[0]))
}

func trimCSSString(v string) string {
	vv := strings.TrimSpace(v)
	if len(vv) >= 2 {
		if (vv[0] == '"' && vv[len(vv)-1] == '"') || (vv[0] == '\'' && vv[len(vv)-1] == '\'') {
			return vv[1 : len(vv)-1]
		}
	}
	return vv
}

func mediaRuleActive(prelude string, vp Viewport) bool {
	if strings.TrimSpace(prelude) == "" {
		return true
	}
	for _, raw := range strings.Split(prelude, ",") {
		query := strings.ToLower(strings.TrimSpace(raw))
		if query == "" {
			continue
		}
		query = strings.TrimSpace(strings.TrimPrefix(query, "only "))
		mediaType := ""
		rest := query
		if parts := strings.Fields(query); len(parts) > 0 && !strings.HasPrefix(parts[0], "(") {
			mediaType = parts[0]
			rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(query, mediaType), " and"))
		}
		switch mediaType {
		case "", "all", "screen":
			if evaluateMediaFeatures(rest, vp) {
				return true
			}
		}
	}
	return false
}

func evaluateMediaFeatures(expr string, vp Viewport) bool {
	width, height := vp.Width, vp.Height
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 768
	}
	for _, clause := range strings.Split(expr, " and ") {
		c := strings.TrimSpace(clause)
		if c == "" {
			continue
		}
		if strings.HasPrefix(c, "(") && strings.HasSuffix(c, ")") {
			c = strings.TrimSpace(c[1 : len(c)-1])
		}
		parts := strings.SplitN(c, ":", 2)
		feature := strings.TrimSpace(parts[0])
		value := ""
		if len(parts) == 2 {
			value = strings.TrimSpace(parts[1])
		}
		switch feature {
		case "orientation":
			orientation := "portrait"
			if width > height {
				orientation = "landscape"
			}
			if value != "" && value != orientation {
				return false
			}
		case "min-width":
			if px, ok := cssLengthToPx(value, width); ok && width < px {
				return false
			}
		case "max-width":
			if px, ok := cssLengthToPx(value, width); ok && width > px {
				return false
			}
		case "min-height":
			if px, ok := cssLengthToPx(value, height); ok && height < px {
				return false
			}
		case "max-height":
			if px, ok := cssLengthToPx(value, height); ok && height > px {
				return false
			}
		case "prefers-color-scheme":
			if value != "" && value != "light" {
				return false
			}
		}
	}
	return true
}

func cssLengthToPx(val string, base int) (int, bool) {
	v := strings.ToLower(strings.TrimSpace(val))
	if v == "" {
		return 0, false
	}
	num := func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	switch {
	case strings.HasSuffix(v, "px"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f + 0.5), true
		}
	case strings.HasSuffix(v, "%"):
		if f, ok := num(v[:len(v)-1]); ok && base > 0 {
			return int(float64(base) * f / 100.0), true
		}
	case strings.HasSuffix(v, "rem"):
		if f, ok := num(v[:len(v)-3]); ok {
			return int(f*16.0 + 0.5), true
		}
	case strings.HasSuffix(v, "em"):
		if f, ok := num(v[:len(v)-2]); ok {
			return int(f*16.0 + 0.5), true
		}
	default:
		if f, ok := num(v); ok {
			return int(f + 0.5), true
		}
	}
	return 0, false
}

// inlineSpecificity ranks style attributes above every selector.
var inlineSpecificity = cascadia.Specificity{1 << 12, 0, 0}

// computeStyleFor runs the cascade for n: matching author rules by
// importance, specificity and source order, then the style attribute.
func computeStyleFor(n *html.Node, ss *Stylesheet) map[string]string {
	return cascade(n, ss, "", true)
}

// ComputeStyle returns the cascaded style of n, inline declarations
// included.
func ComputeStyle(n *html.Node, ss *Stylesheet) map[string]string {
	return computeStyleFor(n, ss)
}

// StyleRecord renders style the way captured clones carry it.
func StyleRecord(style map[string]string) string {
	return styleRecord(style)
}

// computePseudoStyleFor runs the cascade of the ::before or ::after rules
// whose host is n.
func computePseudoStyleFor(n *html.Node, ss *Stylesheet, pseudo string) map[string]string {
	return cascade(n, ss, pseudo, false)
}

func cascade(n *html.Node, ss *Stylesheet, pseudo string, withInline bool) map[string]string {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	props := map[string]propState{}
	if ss != nil {
		for _, rule := range ss.rules {
			if rule.pseudo != pseudo || rule.selector == nil || !rule.selector.Match(n) {
				continue
			}
			for _, decl := range rule.declarations {
				applyDeclaration(props, decl, rule.specificity, rule.order)
			}
		}
	}
	if withInline {
		for i, decl := range inlineDeclarations(getAttr(n, "style")) {
			applyDeclaration(props, decl, inlineSpecificity, (1<<30)+i)
		}
	}
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]string, len(props))
	for k, st := range props {
		out[k] = st.val
	}
	return out
}

func applyDeclaration(store map[string]propState, decl cssDeclaration, spec cascadia.Specificity, order int) {
	prop := strings.ToLower(strings.TrimSpace(decl.property))
	if prop == "" {
		return
	}
	value := strings.TrimSpace(decl.value)
	if value == "" {
		return
	}
	entry := propState{val: value, spec: spec, order: order, important: decl.important}
	if prev, ok := store[prop]; ok {
		if prev.important && !decl.important {
			return
		}
		if decl.important && !prev.important {
			store[prop] = entry
			return
		}
		if prev.spec.Less(spec) {
			store[prop] = entry
			return
		}
		if spec.Less(prev.spec) {
			return
		}
		if order >= prev.order {
			store[prop] = entry
		}
		return
	}
	store[prop] = entry
}

// inheritedProperties are the properties a detached clone would lose when
// taken out of its ancestors.
var inheritedProperties = []string{
	"color", "direction", "font-family", "font-size", "font-style",
	"font-variant", "font-weight", "letter-spacing", "line-height",
	"tab-size", "text-align", "text-indent", "text-transform",
	"visibility", "white-space", "word-spacing",
}

// inheritFromAncestors fills the inheritable properties missing from style
// with the nearest ancestor value.
func inheritFromAncestors(n *html.Node, ss *Stylesheet, style map[string]string) map[string]string {
	if style == nil {
		style = map[string]string{}
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		anc := computeStyleFor(p, ss)
		for _, prop := range inheritedProperties {
			if _, ok := style[prop]; ok {
				continue
			}
			if v, ok := anc[prop]; ok && !strings.EqualFold(v, "inherit") {
				style[prop] = v
			}
		}
	}
	return style
}

// styleRecord renders a property map as a style attribute value, sorted by
// property name.
func styleRecord(style map[string]string) string {
	if len(style) == 0 {
		return ""
	}
	keys := make([]string, 0, len(style))
	for k := range style {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(style[k])
		b.WriteString(";")
	}
	return b.String()
}

func resolveAbsURL(base, href string) string {
	hu, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == "" {
		return hu.String()
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return bu.ResolveReference(hu).String()
}

func fetchText(ctx context.Context, client *http.Client, absURL, accept string) ([]byte, error) {
	if u, err := url.Parse(absURL); err == nil && (u.Scheme == "" || u.Scheme == "file") {
		return readLocal(u)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absURL, nil)
	if err != nil {
		return nil, err
	}
	if accept == "" {
		accept = "text/*"
	}
	req.Header.Set("Accept", accept)
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{url: absURL, code: resp.StatusCode}
	}
	rc := io.ReadCloser(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		if gr, err := gzip.NewReader(resp.Body); err == nil {
			rc = gr
			defer gr.Close()
		}
	case "deflate":
		if zr, err := zlib.NewReader(resp.Body); err == nil {
			rc = zr
			defer zr.Close()
		} else {
			fr := flate.NewReader(resp.Body)
			rc = fr
			defer fr.Close()
		}
	}
	return io.ReadAll(rc)
}

type httpStatusError struct {
	url  string
	code int
}

func (e *httpStatusError) Error() string {
	return "GET " + e.url + ": " + strconv.Itoa(e.code) + " " + http.StatusText(e.code)
}

func loggerOr(l *log.Logger) *log.Logger {
	if l != nil {
		return l
	}
	return log.Default()
}
