package shot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newAssetServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fonts/code.woff", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Write([]byte("FONT"))
	})
	mux.HandleFunc("/blob", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("GIF89a\x01\x00\x01\x00"))
	})
	mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("/missing.png", http.NotFound)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInlineAllRewritesURLs(t *testing.T) {
	t.Parallel()
	var hits int32
	srv := newAssetServer(t, &hits)
	in := NewInliner(InlinerOptions{Logger: quietLogger()})

	css := `@font-face { src: url("fonts/code.woff"); } .a { src: url(fonts/code.woff) } .b { background: url('blob') }`
	out, err := in.InlineAll(context.Background(), css, srv.URL+"/")
	if err != nil {
		t.Fatalf("InlineAll: %v", err)
	}
	want := `@font-face { src: url("data:application/font-woff;base64,Rk9OVA=="); } .a { src: url(data:application/font-woff;base64,Rk9OVA==) } .b { background: url('data:image/gif;base64,R0lGODlhAQABAA==') }`
	if out != want {
		t.Fatalf("InlineAll =\n%s\nwant\n%s", out, want)
	}
	if _, err := in.InlineAll(context.Background(), css, srv.URL+"/"); err != nil {
		t.Fatalf("InlineAll: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("font fetched %d times, want 1", got)
	}
}

func TestInlineAllFailureSubstitutes(t *testing.T) {
	t.Parallel()
	srv := newAssetServer(t, nil)
	tests := []struct {
		name        string
		target      string
		placeholder string
		expected    string
	}{
		{"missing_empty", "missing.png", "", "url(data:image/png;base64,)"},
		{"missing_placeholder", "missing.png", "data:image/png;base64,AAAA", "url(data:image/png;base64,AAAA)"},
		{"timeout_placeholder", "slow.png", "data:image/png;base64,BBBB", "url(data:image/png;base64,BBBB)"},
		{"unreachable", "http://127.0.0.1:1/x.gif", "", "url(data:image/gif;base64,)"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := NewInliner(InlinerOptions{
				Timeout:     100 * time.Millisecond,
				Placeholder: tc.placeholder,
				Logger:      quietLogger(),
			})
			out, err := in.InlineAll(context.Background(), "url("+tc.target+")", srv.URL+"/")
			if err != nil {
				t.Fatalf("InlineAll: %v", err)
			}
			if out != tc.expected {
				t.Fatalf("InlineAll = %q, want %q", out, tc.expected)
			}
		})
	}
}

func TestInlineAllLeavesDataAndPlainCSS(t *testing.T) {
	t.Parallel()
	in := NewInliner(InlinerOptions{Logger: quietLogger()})
	for _, css := range []string{
		`p { color: red }`,
		`p { background: url(data:image/png;base64,AAAA) }`,
	} {
		out, err := in.InlineAll(context.Background(), css, "http://example.invalid/")
		if err != nil {
			t.Fatalf("InlineAll: %v", err)
		}
		if out != css {
			t.Fatalf("InlineAll changed %q into %q", css, out)
		}
	}
}

func TestInlineLocalFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "mono.ttf"), []byte("TTF"), 0o644); err != nil {
		t.Fatal(err)
	}
	in := NewInliner(InlinerOptions{Logger: quietLogger()})
	out, err := in.InlineAll(context.Background(), `url(mono.ttf)`, filepath.ToSlash(dir)+"/")
	if err != nil {
		t.Fatalf("InlineAll: %v", err)
	}
	if out != "url(data:application/font-truetype;base64,VFRG)" {
		t.Fatalf("InlineAll = %q", out)
	}
	if got := in.Resolve(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "mono.ttf"))); !strings.HasSuffix(got, ",VFRG") {
		t.Fatalf("Resolve = %q", got)
	}
}

func TestCacheBustAppendsTimestamp(t *testing.T) {
	t.Parallel()
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.RawQuery
		w.Write([]byte("x"))
	}))
	defer srv.Close()
	in := NewInliner(InlinerOptions{CacheBust: true, Logger: quietLogger()})
	in.now = func() time.Time { return time.UnixMilli(1234) }
	in.Resolve(context.Background(), srv.URL+"/a.png?v=1")
	if got := <-seen; got != "v=1&1234" {
		t.Fatalf("query = %q, want v=1&1234", got)
	}
}

func TestMimeType(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"a.woff":                 "application/font-woff",
		"a.WOFF2":                "application/font-woff",
		"x/y.ttf":                "application/font-truetype",
		"f.eot":                  "application/vnd.ms-fontobject",
		"http://h/p.png?v=3":     "image/png",
		"i.jpg":                  "image/jpeg",
		"i.jpeg":                 "image/jpeg",
		"i.gif":                  "image/gif",
		"i.tiff":                 "image/tiff",
		"i.svg":                  "image/svg+xml",
		"noext":                  "",
		"http://h/dir.d/file.xx": "",
	}
	for in, want := range tests {
		if got := mimeType(in); got != want {
			t.Fatalf("mimeType(%q) = %q, want %q", in, got, want)
		}
	}
}
