package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.design/x/clipboard"
	"golang.org/x/net/html"
)

// DesktopHost serves a session from the system clipboard. There is no
// editor to drive, so the user copies by hand and CopyHighlighted only makes
// sure the clipboard is usable. Saves go straight to the default path.
type DesktopHost struct {
	Font string
	// CopyImage also puts every saved capture on the clipboard.
	CopyImage bool

	log        *log.Logger
	once       sync.Once
	initErr    error
	initFn     func() error
	read       func() []byte
	writeImage func([]byte)
}

// NewDesktopHost returns a host bound to the system clipboard.
func NewDesktopHost(font string, copyImage bool, logger *log.Logger) *DesktopHost {
	if logger == nil {
		logger = log.Default()
	}
	return &DesktopHost{
		Font:      font,
		CopyImage: copyImage,
		log:       logger,
		initFn:    clipboard.Init,
		read:      func() []byte { return clipboard.Read(clipboard.FmtText) },
		writeImage: func(b []byte) {
			clipboard.Write(clipboard.FmtImage, b)
		},
	}
}

func (h *DesktopHost) init() error {
	h.once.Do(func() {
		if h.initFn != nil {
			h.initErr = h.initFn()
		}
	})
	return h.initErr
}

// CopyHighlighted implements Host.
func (h *DesktopHost) CopyHighlighted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.init()
}

// ReadClipboard implements Host. Text that parses as markup is taken as the
// highlighted flavor and its text content as the plaintext.
func (h *DesktopHost) ReadClipboard(ctx context.Context) (ClipboardPayload, error) {
	if err := ctx.Err(); err != nil {
		return ClipboardPayload{}, err
	}
	if err := h.init(); err != nil {
		return ClipboardPayload{}, fmt.Errorf("capture: clipboard: %w", err)
	}
	return PayloadFromText(string(h.read())), nil
}

// SavePath implements Host.
func (h *DesktopHost) SavePath(ctx context.Context, defaultPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if defaultPath == "" {
		return "", ErrSaveCancelled
	}
	return defaultPath, nil
}

// WriteFile implements Host.
func (h *DesktopHost) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if h.CopyImage {
		if err := h.init(); err == nil {
			h.writeImage(data)
		}
	}
	return nil
}

// ShowInfo implements Host.
func (h *DesktopHost) ShowInfo(msg string) { h.log.Info(msg) }

// FontFamily implements Host.
func (h *DesktopHost) FontFamily() string { return h.Font }

// Watch calls fn with every new clipboard payload carrying code, checking
// every interval until ctx is done.
func (h *DesktopHost) Watch(ctx context.Context, interval time.Duration, fn func(ClipboardPayload)) error {
	if err := h.init(); err != nil {
		return fmt.Errorf("capture: clipboard: %w", err)
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	var lastSeen string
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		raw := string(h.read())
		if raw == lastSeen {
			continue
		}
		lastSeen = raw
		p := PayloadFromText(raw)
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		fn(p)
	}
}

// PayloadFromText splits one clipboard text into its flavors. Text that
// parses as markup is taken as the highlighted flavor and its text content
// as the plaintext.
func PayloadFromText(s string) ClipboardPayload {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<") || !strings.Contains(trimmed, ">") {
		return ClipboardPayload{Text: s}
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return ClipboardPayload{Text: s}
	}
	return ClipboardPayload{HTML: s, Text: blockText(doc)}
}

// blockText extracts the text of a document, starting a new line at every
// div and br the way editors lay out highlighted lines.
func blockText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			return
		case html.ElementNode:
			switch c.Data {
			case "br":
				b.WriteByte('\n')
				return
			case "div", "p":
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte('\n')
				}
			case "style", "script", "head":
				return
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return strings.TrimRight(b.String(), "\n")
}
