package shot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/rod/lib/launcher"
)

// BrowserConfig locates the Chrome binary used for decoding.
type BrowserConfig struct {
	// ExecPath is used as is when set.
	ExecPath string
	// Download fetches a pinned Chromium build when no local browser is
	// found.
	Download bool
	NoSandbox bool
}

// ResolveBrowser returns the browser executable to launch. An empty result
// with a nil error lets chromedp search its own default locations.
func ResolveBrowser(cfg BrowserConfig) (string, error) {
	if cfg.ExecPath != "" {
		return cfg.ExecPath, nil
	}
	if path, ok := launcher.LookPath(); ok {
		return path, nil
	}
	if !cfg.Download {
		return "", nil
	}
	path, err := launcher.NewBrowser().Get()
	if err != nil {
		return "", fmt.Errorf("shot: downloading browser: %w", err)
	}
	return path, nil
}

// ChromeDecoder decodes SVG data URIs in headless Chrome. The image is
// drawn on a canvas once HTMLImageElement.decode() resolves and the canvas
// is read back as PNG.
type ChromeDecoder struct {
	browser BrowserConfig
	timeout time.Duration
	logger  *log.Logger

	once      sync.Once
	initErr   error
	allocator context.Context
	cancel    context.CancelFunc
}

// NewChromeDecoder returns a decoder that launches the browser on first use.
func NewChromeDecoder(cfg BrowserConfig, timeout time.Duration, logger *log.Logger) *ChromeDecoder {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &ChromeDecoder{browser: cfg, timeout: timeout, logger: loggerOr(logger)}
}

func (d *ChromeDecoder) init() error {
	d.once.Do(func() {
		path, err := ResolveBrowser(d.browser)
		if err != nil {
			d.initErr = err
			return
		}
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("mute-audio", true),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("no-default-browser-check", true),
			chromedp.Flag("disable-background-networking", true),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("disable-sync", true),
			chromedp.Flag("font-render-hinting", "none"),
		)
		if path != "" {
			opts = append(opts, chromedp.ExecPath(path))
		}
		if d.browser.NoSandbox {
			opts = append(opts, chromedp.NoSandbox)
		}
		d.allocator, d.cancel = chromedp.NewExecAllocator(context.Background(), opts...)
		d.logger.Debug("chrome allocator ready", "path", path)
	})
	return d.initErr
}

// Close stops the browser.
func (d *ChromeDecoder) Close() {
	if d.cancel != nil {
		d.cancel()
	}
}

const decodeScript = `(async () => {
  const img = new Image();
  img.src = %s;
  await img.decode();
  const canvas = document.createElement('canvas');
  canvas.width = %d;
  canvas.height = %d;
  canvas.getContext('2d').drawImage(img, 0, 0, canvas.width, canvas.height);
  return canvas.toDataURL('image/png');
})()`

// Decode implements Decoder.
func (d *ChromeDecoder) Decode(ctx context.Context, svgDataURI string, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, ErrBadDimensions
	}
	if err := d.init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	taskCtx, cancelTab := chromedp.NewContext(d.allocator)
	defer cancelTab()

	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, d.timeout)
	defer cancel()

	quoted, err := json.Marshal(svgDataURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	script := fmt.Sprintf(decodeScript, quoted, width, height)

	var dataURL string
	err = chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(script, &dataURL, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return decodePNGDataURL(dataURL)
}

func decodePNGDataURL(dataURL string) (image.Image, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		return nil, fmt.Errorf("%w: unexpected canvas output", ErrImageDecode)
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}
