package shot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
)

func TestDecodePNGDataURL(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 3))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	got, err := decodePNGDataURL(encodePNGDataURL(buf.Bytes()))
	if err != nil {
		t.Fatalf("decodePNGDataURL: %v", err)
	}
	if b := got.Bounds(); b.Dx() != 2 || b.Dy() != 3 {
		t.Fatalf("decoded %dx%d", b.Dx(), b.Dy())
	}
	for _, bad := range []string{"", "data:image/jpeg;base64,AAAA", "data:image/png;base64,!!!", "data:image/png;base64,AAAA"} {
		if _, err := decodePNGDataURL(bad); !errors.Is(err, ErrImageDecode) {
			t.Fatalf("decodePNGDataURL(%q) err = %v, want ErrImageDecode", bad, err)
		}
	}
}

func TestResolveBrowserPrefersExplicitPath(t *testing.T) {
	t.Parallel()
	got, err := ResolveBrowser(BrowserConfig{ExecPath: "/opt/chrome/chrome"})
	if err != nil {
		t.Fatalf("ResolveBrowser: %v", err)
	}
	if got != "/opt/chrome/chrome" {
		t.Fatalf("ResolveBrowser = %q", got)
	}
}

func TestChromeDecoderRejectsBadSize(t *testing.T) {
	t.Parallel()
	d := NewChromeDecoder(BrowserConfig{ExecPath: "/nonexistent"}, 0, quietLogger())
	defer d.Close()
	if _, err := d.Decode(context.Background(), "data:image/svg+xml;charset=utf-8,<svg/>", 0, 10); !errors.Is(err, ErrBadDimensions) {
		t.Fatalf("err = %v, want ErrBadDimensions", err)
	}
}
