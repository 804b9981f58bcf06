package shot

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/cascadia"
	"github.com/charmbracelet/log"
	"golang.org/x/net/html"
)

func mustParse(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		t.Fatalf("html.Parse: %v", err)
	}
	return doc
}

func mustQuery(t *testing.T, root *html.Node, sel string) *html.Node {
	t.Helper()
	n := cascadia.Query(root, cascadia.MustCompile(sel))
	if n == nil {
		t.Fatalf("no node matches %q", sel)
	}
	return n
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestComputeStyleCascade(t *testing.T) {
	t.Parallel()
	ss := ParseStylesheet(`
		span { color: red; font-weight: bold }
		#x { color: blue }
		.a { color: green !important; font-weight: normal }
		@media print { span { color: black } }
		@media screen and (min-width: 100px) { .a { text-decoration: underline } }
	`, "")
	doc := mustParse(t, `<span id="x" class="a" style="color: yellow; font-style: italic">t</span>`)
	got := computeStyleFor(mustQuery(t, doc, "#x"), ss)
	want := map[string]string{
		"color":           "green",
		"font-weight":     "bold",
		"font-style":      "italic",
		"text-decoration": "underline",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q (all: %v)", k, got[k], v, got)
		}
	}
}

func TestComputeStyleSpecificityOverOrder(t *testing.T) {
	t.Parallel()
	ss := ParseStylesheet(`#x { color: blue } span { color: red }`, "")
	doc := mustParse(t, `<span id="x">t</span>`)
	if got := computeStyleFor(mustQuery(t, doc, "#x"), ss)["color"]; got != "blue" {
		t.Fatalf("color = %q, want blue", got)
	}
}

func TestPseudoElementRules(t *testing.T) {
	t.Parallel()
	ss := ParseStylesheet(`.tag::before { content: "<"; color: red } .tag:after { content: ">" } .tag::selection { color: pink }`, "")
	doc := mustParse(t, `<span class="tag">t</span>`)
	n := mustQuery(t, doc, ".tag")
	if got := computePseudoStyleFor(n, ss, "before")["content"]; got != `"<"` {
		t.Fatalf("before content = %q", got)
	}
	if got := computePseudoStyleFor(n, ss, "after")["content"]; got != `">"` {
		t.Fatalf("after content = %q", got)
	}
	if got := computeStyleFor(n, ss); got["content"] != "" || got["color"] != "" {
		t.Fatalf("pseudo rules leaked into the element style: %v", got)
	}
}

func TestFontFacesCollected(t *testing.T) {
	t.Parallel()
	ss := ParseStylesheet(`@font-face { font-family: "Fira"; src: url(fira.woff2) format("woff2") } p { color: red }`, "http://fonts.test/css/")
	faces := ss.FontFaces()
	if len(faces) != 1 {
		t.Fatalf("FontFaces = %d, want 1", len(faces))
	}
	css := faces[0].CSS()
	if !strings.Contains(css, "src: url(fira.woff2)") || !strings.HasPrefix(css, "@font-face {") {
		t.Fatalf("font face css = %q", css)
	}
	if faces[0].BaseURL != "http://fonts.test/css/" {
		t.Fatalf("BaseURL = %q", faces[0].BaseURL)
	}
}

func TestBuildStylesheetFollowsLinksAndImports(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/main.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		io.WriteString(w, `@import url("extra.css"); .a { color: red }`)
	})
	mux.HandleFunc("/extra.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		io.WriteString(w, `.a { font-weight: bold }`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	doc := mustParse(t, `<html><head><link rel="stylesheet" href="/main.css"><link rel="icon" href="/favicon.ico"><style>.a { font-style: italic }</style></head><body><p class="a">x</p></body></html>`)
	ss := BuildStylesheet(context.Background(), doc, srv.URL+"/", &StylesheetOptions{Logger: quietLogger()})
	got := computeStyleFor(mustQuery(t, doc, "p"), ss)
	for k, v := range map[string]string{"color": "red", "font-weight": "bold", "font-style": "italic"} {
		if got[k] != v {
			t.Fatalf("%s = %q, want %q (all: %v)", k, got[k], v, got)
		}
	}
}

func TestInheritFromAncestors(t *testing.T) {
	t.Parallel()
	ss := ParseStylesheet(`body { font-family: Mono; margin: 8px }`, "")
	doc := mustParse(t, `<body><div style="color: #fff; padding: 4px"><p><span id="t" style="color: #000">x</span></p></div></body>`)
	n := mustQuery(t, doc, "#t")
	got := inheritFromAncestors(n, ss, computeStyleFor(n, ss))
	if got["color"] != "#000" {
		t.Fatalf("own color overwritten: %q", got["color"])
	}
	if got["font-family"] != "Mono" {
		t.Fatalf("font-family = %q, want Mono", got["font-family"])
	}
	if _, ok := got["padding"]; ok {
		t.Fatalf("non-inherited property copied: %v", got)
	}
	if _, ok := got["margin"]; ok {
		t.Fatalf("non-inherited property copied: %v", got)
	}
}

func TestStyleRecordSorted(t *testing.T) {
	t.Parallel()
	got := styleRecord(map[string]string{"width": "1px", "color": "red", "background-color": "#fff"})
	want := "background-color: #fff; color: red; width: 1px;"
	if got != want {
		t.Fatalf("styleRecord = %q, want %q", got, want)
	}
}

func TestInlineDeclarations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		style string
		want  string
	}{
		{"single_unterminated", "color: #569cd6", "color=#569cd6"},
		{"single_terminated", "color: #569cd6;", "color=#569cd6"},
		{"last_unterminated", "color: #d4d4d4; white-space: pre", "color=#d4d4d4|white-space=pre"},
		{"trailing_space", "  fill: red  ", "fill=red"},
		{"important", "margin: 1px !important", "margin=1px!"},
		{"empty", "   ", ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var parts []string
			for _, d := range inlineDeclarations(tc.style) {
				p := d.property + "=" + d.value
				if d.important {
					p += "!"
				}
				parts = append(parts, p)
			}
			if got := strings.Join(parts, "|"); got != tc.want {
				t.Fatalf("inlineDeclarations(%q) = %q, want %q", tc.style, got, tc.want)
			}
		})
	}
}
