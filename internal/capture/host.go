package capture

import (
	"context"
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ClipboardPayload is one read of the clipboard: the highlighted markup and
// its plaintext flavor.
type ClipboardPayload struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

// Fingerprint identifies the payload for change detection.
func (p ClipboardPayload) Fingerprint() string {
	h := blake3.New()
	h.Write([]byte(p.HTML))
	h.Write([]byte{0})
	h.Write([]byte(p.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// Host is the editor side of a preview session.
type Host interface {
	// CopyHighlighted puts the current selection, with syntax highlighting,
	// on the clipboard.
	CopyHighlighted(ctx context.Context) error
	ReadClipboard(ctx context.Context) (ClipboardPayload, error)
	// SavePath asks where to save a capture, starting from defaultPath.
	// A dismissed dialog returns ErrSaveCancelled.
	SavePath(ctx context.Context, defaultPath string) (string, error)
	WriteFile(path string, data []byte) error
	ShowInfo(msg string)
	FontFamily() string
}

// StateStore keeps small values across sessions.
type StateStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}
