package capture

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestPayloadFromText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       string
		wantHTML bool
		wantText string
	}{
		{name: "plain code", in: "x < y", wantText: "x < y"},
		{name: "editor markup", in: `<div><div><span>a</span></div><div><br></div><div><span>b</span></div></div>`, wantHTML: true, wantText: "a\n\nb"},
		{name: "markup with style", in: `<style>p{}</style><div>only</div>`, wantHTML: true, wantText: "only"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := PayloadFromText(tc.in)
			if (p.HTML != "") != tc.wantHTML {
				t.Errorf("HTML = %q", p.HTML)
			}
			if p.Text != tc.wantText {
				t.Errorf("Text = %q, want %q", p.Text, tc.wantText)
			}
		})
	}
}

func fakeClipboardHost(values ...string) *DesktopHost {
	var mu sync.Mutex
	i := 0
	return &DesktopHost{
		log: log.New(io.Discard),
		read: func() []byte {
			mu.Lock()
			defer mu.Unlock()
			v := values[i]
			if i < len(values)-1 {
				i++
			}
			return []byte(v)
		},
		writeImage: func([]byte) {},
	}
}

func TestDesktopHostWatch(t *testing.T) {
	t.Parallel()
	h := fakeClipboardHost("one", "one", " ", "two", "two")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	err := h.Watch(ctx, time.Millisecond, func(p ClipboardPayload) {
		got = append(got, p.Text)
		if len(got) == 2 {
			cancel()
		}
	})
	if err != context.Canceled {
		t.Fatalf("Watch = %v", err)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("payloads = %q", got)
	}
}

func TestDesktopHostSave(t *testing.T) {
	t.Parallel()
	var copied []byte
	h := fakeClipboardHost("")
	h.CopyImage = true
	h.writeImage = func(b []byte) { copied = b }
	ctx := context.Background()

	if _, err := h.SavePath(ctx, ""); err != ErrSaveCancelled {
		t.Errorf("empty default = %v", err)
	}
	path, err := h.SavePath(ctx, filepath.Join(t.TempDir(), "out", "code.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.WriteFile(path, []byte("png")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if b, _ := os.ReadFile(path); string(b) != "png" {
		t.Errorf("file = %q", b)
	}
	if string(copied) != "png" {
		t.Errorf("clipboard image = %q", copied)
	}
}
