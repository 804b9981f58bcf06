package shot

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/image/draw"
	"golang.org/x/net/html"
)

// CaptureRequest names the element to capture and its layout size in CSS
// pixels. Scale multiplies the internal render resolution.
type CaptureRequest struct {
	Node   *html.Node
	Width  int
	Height int
	Scale  float64
}

// ImageOptions tunes a single capture.
type ImageOptions struct {
	// BackgroundColor fills the canvas before drawing and is set on the
	// captured root.
	BackgroundColor string
	// Style overrides declarations on the captured root.
	Style map[string]string
	// Filter reports whether a node is kept in the capture.
	Filter func(*html.Node) bool
	// Quality is the JPEG quality in (0, 1]; zero means 1.
	Quality float64
	// FullResolution keeps the scaled render size instead of drawing the
	// bitmap back down to Width x Height.
	FullResolution bool
}

// Decoder turns an SVG data URI into a bitmap of the given size.
type Decoder interface {
	Decode(ctx context.Context, svgDataURI string, width, height int) (image.Image, error)
}

// RasterizerConfig holds what a Rasterizer needs beyond the request.
type RasterizerConfig struct {
	Decoder    Decoder
	Stylesheet *Stylesheet
	// BaseURL resolves relative image and font URLs.
	BaseURL string
	Client  *http.Client
	Canvas  CanvasSource
	Forms   FormValues

	FetchTimeout time.Duration
	Placeholder  string
	CacheBust    bool
	Cache        ResourceCache
	// SettleDelay is waited between decode and draw.
	SettleDelay time.Duration
	Logger      *log.Logger
}

// Rasterizer renders DOM subtrees to bitmaps through an SVG foreignObject.
type Rasterizer struct {
	cfg RasterizerConfig
	log *log.Logger
}

// NewRasterizer returns a Rasterizer using cfg.
func NewRasterizer(cfg RasterizerConfig) *Rasterizer {
	return &Rasterizer{cfg: cfg, log: loggerOr(cfg.Logger)}
}

func (req CaptureRequest) scale() float64 {
	if req.Scale <= 0 {
		return 1
	}
	return req.Scale
}

func (req CaptureRequest) scaledSize() (int, int) {
	s := req.scale()
	return int(float64(req.Width)*s + 0.5), int(float64(req.Height)*s + 0.5)
}

func (r *Rasterizer) validate(req *CaptureRequest) error {
	if req.Node == nil || req.Node.Type != html.ElementNode {
		return ErrEmptyNode
	}
	if req.Width <= 0 {
		req.Width = declaredPx(req.Node, r.cfg.Stylesheet, "width")
	}
	if req.Height <= 0 {
		req.Height = declaredPx(req.Node, r.cfg.Stylesheet, "height")
	}
	if req.Width <= 0 || req.Height <= 0 {
		return ErrBadDimensions
	}
	return nil
}

func declaredPx(n *html.Node, ss *Stylesheet, prop string) int {
	v := computeStyleFor(n, ss)[prop]
	if !strings.HasSuffix(strings.TrimSpace(v), "px") {
		return 0
	}
	px, _ := cssLengthToPx(v, 0)
	return px
}

// ToSVG runs the clone, font, image and style stages and returns the SVG
// data URI the decoder will load.
func (r *Rasterizer) ToSVG(ctx context.Context, req CaptureRequest, opts ImageOptions) (string, error) {
	if err := r.validate(&req); err != nil {
		return "", err
	}
	inliner := NewInliner(InlinerOptions{
		Client:      r.cfg.Client,
		Timeout:     r.cfg.FetchTimeout,
		Placeholder: r.cfg.Placeholder,
		CacheBust:   r.cfg.CacheBust,
		Cache:       r.cfg.Cache,
		Logger:      r.log,
	})
	cloner := NewCloner(ClonerOptions{
		Stylesheet: r.cfg.Stylesheet,
		Canvas:     r.cfg.Canvas,
		Forms:      r.cfg.Forms,
		Filter:     opts.Filter,
	})

	clone, err := cloner.Clone(ctx, req.Node)
	if err != nil {
		return "", fmt.Errorf("clone: %w", err)
	}
	if err := r.embedFonts(ctx, clone, inliner); err != nil {
		return "", fmt.Errorf("fonts: %w", err)
	}
	if err := r.inlineImages(ctx, clone, inliner); err != nil {
		return "", fmt.Errorf("images: %w", err)
	}
	applyRootStyle(clone, req, opts)

	w, h := req.scaledSize()
	return MakeSVGDataURI(clone, w, h)
}

func (r *Rasterizer) embedFonts(ctx context.Context, clone *html.Node, in *Inliner) error {
	faces := r.cfg.Stylesheet.FontFaces()
	if len(faces) == 0 {
		return nil
	}
	parts := make([]string, 0, len(faces))
	for _, ff := range faces {
		css, err := in.InlineAll(ctx, ff.CSS(), ff.BaseURL)
		if err != nil {
			return err
		}
		parts = append(parts, css)
	}
	sheet := newElement("style")
	sheet.AppendChild(&html.Node{Type: html.TextNode, Data: strings.Join(parts, "\n")})
	clone.AppendChild(sheet)
	return nil
}

func (r *Rasterizer) inlineImages(ctx context.Context, n *html.Node, in *Inliner) error {
	if n.Type == html.ElementNode {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.EqualFold(n.Data, "img") {
			if src := strings.TrimSpace(getAttr(n, "src")); src != "" && !isDataURL(src) {
				setAttr(n, "src", in.Resolve(ctx, resolveAbsURL(r.cfg.BaseURL, src)))
			}
		}
		if err := r.inlineBackground(ctx, n, in); err != nil {
			return err
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := r.inlineImages(ctx, c, in); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rasterizer) inlineBackground(ctx context.Context, n *html.Node, in *Inliner) error {
	decls := inlineDeclarations(getAttr(n, "style"))
	if len(decls) == 0 {
		return nil
	}
	changed := false
	style := make(map[string]string, len(decls))
	for _, d := range decls {
		val := d.value
		if (d.property == "background" || d.property == "background-image") && ShouldProcess(val) {
			inlined, err := in.InlineAll(ctx, val, r.cfg.BaseURL)
			if err != nil {
				return err
			}
			changed = changed || inlined != val
			val = inlined
		}
		style[d.property] = val
	}
	if changed {
		setAttr(n, "style", styleRecord(style))
	}
	return nil
}

// applyRootStyle sets the background, the explicit size, the overrides and
// the scale transform on the captured root.
func applyRootStyle(root *html.Node, req CaptureRequest, opts ImageOptions) {
	style := map[string]string{}
	for _, d := range inlineDeclarations(getAttr(root, "style")) {
		style[d.property] = d.value
	}
	if opts.BackgroundColor != "" {
		style["background-color"] = opts.BackgroundColor
	}
	style["width"] = strconv.Itoa(req.Width) + "px"
	style["height"] = strconv.Itoa(req.Height) + "px"
	if s := req.scale(); s != 1 {
		style["transform"] = "scale(" + strconv.FormatFloat(s, 'f', -1, 64) + ")"
		style["transform-origin"] = "left top"
	}
	for k, v := range opts.Style {
		style[strings.ToLower(strings.TrimSpace(k))] = v
	}
	setAttr(root, "style", styleRecord(style))
}

// ToImage renders the request onto an RGBA canvas. The canvas has the
// request's Width x Height unless opts.FullResolution is set.
func (r *Rasterizer) ToImage(ctx context.Context, req CaptureRequest, opts ImageOptions) (*image.RGBA, error) {
	if r.cfg.Decoder == nil {
		return nil, fmt.Errorf("%w: no decoder configured", ErrImageDecode)
	}
	if err := r.validate(&req); err != nil {
		return nil, err
	}
	uri, err := r.ToSVG(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	sw, sh := req.scaledSize()
	decoded, err := r.cfg.Decoder.Decode(ctx, uri, sw, sh)
	if err != nil {
		if !errors.Is(err, ErrImageDecode) {
			err = fmt.Errorf("%w: %v", ErrImageDecode, err)
		}
		return nil, err
	}
	if r.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.SettleDelay):
		}
	}

	w, h := req.Width, req.Height
	if opts.FullResolution {
		w, h = sw, sh
	}
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	if bg, ok := parseCSSColor(opts.BackgroundColor); ok {
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{bg.R, bg.G, bg.B, 0xff}), image.Point{}, draw.Src)
	}
	if decoded.Bounds().Dx() == w && decoded.Bounds().Dy() == h {
		draw.Draw(canvas, canvas.Bounds(), decoded, decoded.Bounds().Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(canvas, canvas.Bounds(), decoded, decoded.Bounds(), draw.Over, nil)
	}
	r.log.Debug("captured", "width", w, "height", h, "scale", req.scale())
	return canvas, nil
}

// ToPNG renders the request as PNG bytes.
func (r *Rasterizer) ToPNG(ctx context.Context, req CaptureRequest, opts ImageOptions) ([]byte, error) {
	img, err := r.ToImage(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToJPEG renders the request as JPEG bytes at opts.Quality.
func (r *Rasterizer) ToJPEG(ctx context.Context, req CaptureRequest, opts ImageOptions) ([]byte, error) {
	img, err := r.ToImage(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(opts.Quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func jpegQuality(q float64) int {
	if q <= 0 || q > 1 {
		return 100
	}
	v := int(q*100 + 0.5)
	if v < 1 {
		v = 1
	}
	return v
}

// ToPixels returns the raw RGBA bytes of the rendered canvas, row by row.
func (r *Rasterizer) ToPixels(ctx context.Context, req CaptureRequest, opts ImageOptions) ([]byte, error) {
	img, err := r.ToImage(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	return img.Pix, nil
}

// ToDataURL renders the request as a base64 data URL; format is "png" or
// "jpeg".
func (r *Rasterizer) ToDataURL(ctx context.Context, req CaptureRequest, opts ImageOptions, format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "png", "image/png":
		b, err := r.ToPNG(ctx, req, opts)
		if err != nil {
			return "", err
		}
		return encodePNGDataURL(b), nil
	case "jpg", "jpeg", "image/jpeg":
		b, err := r.ToJPEG(ctx, req, opts)
		if err != nil {
			return "", err
		}
		return dataAsURL(base64.StdEncoding.EncodeToString(b), "image/jpeg"), nil
	default:
		return "", fmt.Errorf("unsupported image format %q", format)
	}
}

func encodePNGDataURL(b []byte) string {
	return dataAsURL(base64.StdEncoding.EncodeToString(b), "image/png")
}
