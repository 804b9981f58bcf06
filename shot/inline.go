package shot

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultFetchTimeout bounds every resource fetch.
const DefaultFetchTimeout = 30 * time.Second

var urlTokenPattern = regexp.MustCompile(`url\(['"]?([^'"]+?)['"]?\)`)

var mimeByExtension = map[string]string{
	"woff":  "application/font-woff",
	"woff2": "application/font-woff",
	"ttf":   "application/font-truetype",
	"eot":   "application/vnd.ms-fontobject",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"tiff":  "image/tiff",
	"svg":   "image/svg+xml",
}

// InlinerOptions configures an Inliner.
type InlinerOptions struct {
	// Client fetches http and https resources. Its own timeout is ignored in
	// favour of Timeout.
	Client *http.Client
	// Timeout bounds each fetch; zero means DefaultFetchTimeout.
	Timeout time.Duration
	// Placeholder is a data URI whose payload replaces resources that
	// cannot be fetched. Empty means an empty payload.
	Placeholder string
	// CacheBust appends a timestamp query to every fetched http(s) URL.
	CacheBust bool
	// Cache, when set, keeps fetched http(s) resources across captures.
	// It is bypassed while CacheBust is on.
	Cache  ResourceCache
	Logger *log.Logger
}

// Inliner rewrites url(...) references into data URIs. One Inliner serves
// one capture: fetched payloads are cached by resolved URL for its lifetime.
type Inliner struct {
	opts  InlinerOptions
	mu    sync.Mutex
	cache map[string]string
	now   func() time.Time
}

// NewInliner returns an Inliner with an empty cache.
func NewInliner(opts InlinerOptions) *Inliner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	opts.Logger = loggerOr(opts.Logger)
	return &Inliner{opts: opts, cache: map[string]string{}, now: time.Now}
}

// ShouldProcess reports whether css holds any url(...) token.
func ShouldProcess(css string) bool {
	return urlTokenPattern.MatchString(css)
}

// readURLs lists the url(...) targets of css that are not already data URIs,
// in order of appearance.
func readURLs(css string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range urlTokenPattern.FindAllStringSubmatch(css, -1) {
		u := m[1]
		if isDataURL(u) {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func isDataURL(u string) bool {
	return strings.HasPrefix(strings.TrimSpace(u), "data:")
}

// InlineAll replaces every non-data url(...) token of css with a data URI.
// Resources that cannot be fetched are replaced with the placeholder payload
// and logged; InlineAll itself only fails when ctx is done.
func (in *Inliner) InlineAll(ctx context.Context, css, baseURL string) (string, error) {
	if !ShouldProcess(css) {
		return css, nil
	}
	for _, raw := range readURLs(css) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data := in.Resolve(ctx, resolveAbsURL(baseURL, raw))
		css = replaceURLToken(css, raw, data)
	}
	return css, nil
}

// replaceURLToken rewrites every url(raw) token of css to url(data), keeping
// the quotes the author used.
func replaceURLToken(css, raw, data string) string {
	re := regexp.MustCompile(`(url\(['"]?)(` + regexp.QuoteMeta(raw) + `)(['"]?\))`)
	return re.ReplaceAllStringFunc(css, func(tok string) string {
		m := re.FindStringSubmatch(tok)
		return m[1] + data + m[3]
	})
}

// Resolve returns the resource at absURL as a data URI. Failures are logged
// and produce the placeholder payload under the URL's MIME type.
func (in *Inliner) Resolve(ctx context.Context, absURL string) string {
	if isDataURL(absURL) {
		return absURL
	}
	in.mu.Lock()
	if v, ok := in.cache[absURL]; ok {
		in.mu.Unlock()
		return v
	}
	in.mu.Unlock()

	shared := in.sharedCache(absURL)
	if shared != nil {
		if v, ok := shared.Get(absURL); ok {
			in.mu.Lock()
			in.cache[absURL] = v
			in.mu.Unlock()
			return v
		}
	}

	mime := mimeType(absURL)
	body, err := in.fetch(ctx, absURL)
	var payload string
	if err != nil {
		in.opts.Logger.Warn("resource fetch failed", "url", absURL, "err", err)
		payload = in.placeholderPayload()
	} else {
		if mime == "" {
			mime = http.DetectContentType(body)
		}
		payload = base64.StdEncoding.EncodeToString(body)
	}
	if mime == "" {
		mime = placeholderMIME(in.opts.Placeholder)
	}
	data := dataAsURL(payload, mime)
	if err == nil && shared != nil {
		shared.Put(absURL, data)
	}

	in.mu.Lock()
	in.cache[absURL] = data
	in.mu.Unlock()
	return data
}

// sharedCache returns the cross-capture cache when absURL may use it.
func (in *Inliner) sharedCache(absURL string) ResourceCache {
	if in.opts.Cache == nil || in.opts.CacheBust {
		return nil
	}
	if !strings.HasPrefix(absURL, "http://") && !strings.HasPrefix(absURL, "https://") {
		return nil
	}
	return in.opts.Cache
}

func (in *Inliner) fetch(ctx context.Context, absURL string) ([]byte, error) {
	u, err := url.Parse(absURL)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", absURL, err)
	}
	if u.Scheme == "" || u.Scheme == "file" {
		return readLocal(u)
	}
	if in.opts.CacheBust {
		sep := "?"
		if strings.Contains(absURL, "?") {
			sep = "&"
		}
		absURL += sep + strconv.FormatInt(in.now().UnixMilli(), 10)
	}
	ctx, cancel := context.WithTimeout(ctx, in.opts.Timeout)
	defer cancel()
	body, err := fetchText(ctx, in.opts.Client, absURL, "*/*")
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout of %s while fetching %s: %w", in.opts.Timeout, absURL, err)
		}
		return nil, err
	}
	return body, nil
}

func (in *Inliner) placeholderPayload() string {
	if parts := strings.SplitN(in.opts.Placeholder, ",", 2); len(parts) == 2 {
		return parts[1]
	}
	return ""
}

func placeholderMIME(placeholder string) string {
	head := strings.TrimPrefix(strings.SplitN(placeholder, ",", 2)[0], "data:")
	return strings.TrimSuffix(head, ";base64")
}

func readLocal(u *url.URL) ([]byte, error) {
	p := u.Path
	if u.Scheme == "" && u.Opaque != "" {
		p = u.Opaque
	}
	if p == "" {
		return nil, fmt.Errorf("empty path in %q", u.String())
	}
	return os.ReadFile(filepath.FromSlash(p))
}

func parseExtension(u string) string {
	if pu, err := url.Parse(u); err == nil && pu.Path != "" {
		u = pu.Path
	}
	return strings.TrimPrefix(path.Ext(u), ".")
}

func mimeType(u string) string {
	return mimeByExtension[strings.ToLower(parseExtension(u))]
}

func dataAsURL(payload, mime string) string {
	return "data:" + mime + ";base64," + payload
}
