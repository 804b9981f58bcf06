// Package capture drives a preview session: it follows editor selections,
// pulls highlighted copies off the clipboard into the preview and saves
// captures of it.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/html"

	"codeshot/internal/preview"
	"codeshot/shot"
)

// InvalidPasteMessage is shown when a copy carries no code.
const InvalidPasteMessage = "Pasted content is invalid. Only copy from VS Code and check if your shortcuts for copy/paste have conflicts."

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateAwaitingClipboard
	StatePreviewing
	StateCapturing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingClipboard:
		return "awaiting-clipboard"
	case StatePreviewing:
		return "previewing"
	case StateCapturing:
		return "capturing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Orchestrator owns one preview session. All state transitions happen under
// its mutex; clipboard polling runs on one goroutine per selection.
type Orchestrator struct {
	cfg     Config
	host    Host
	store   StateStore
	decoder shot.Decoder
	client  *http.Client
	cache   shot.ResourceCache
	log     *log.Logger

	mu        sync.Mutex
	state     State
	doc       *preview.Document
	session   context.Context
	stop      context.CancelFunc
	retry     context.CancelFunc
	gen       uint64
	lastPrint string
	savePath  string

	notifyMu sync.RWMutex
	notify   func(Message)
}

// New returns an idle orchestrator. A nil store keeps state in memory.
func New(cfg Config, host Host, store StateStore, decoder shot.Decoder) *Orchestrator {
	cfg.applyDefaults()
	if store == nil {
		store = NewMemoryStore()
	}
	o := &Orchestrator{
		cfg:      cfg,
		host:     host,
		store:    store,
		decoder:  decoder,
		client:   &http.Client{},
		log:      cfg.Logger,
		savePath: cfg.SavePath,
	}
	if cfg.CacheDir != "" {
		cache, err := shot.NewDiskCache(cfg.CacheDir, int64(cfg.CacheMB)<<20)
		if err != nil {
			o.log.Warn("resource cache disabled", "dir", cfg.CacheDir, "err", err)
		} else {
			o.cache = cache
		}
	}
	return o
}

// OnMessage registers fn to receive every outgoing protocol message. fn must
// not call back into the orchestrator.
func (o *Orchestrator) OnMessage(fn func(Message)) {
	o.notifyMu.Lock()
	o.notify = fn
	o.notifyMu.Unlock()
}

func (o *Orchestrator) emit(m Message) {
	o.notifyMu.RLock()
	fn := o.notify
	o.notifyMu.RUnlock()
	if fn != nil {
		fn(m)
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Document returns the preview of the open session, or nil once closed.
func (o *Orchestrator) Document() *preview.Document {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doc
}

// Open creates the preview with the host font and the stored background of
// the last paste, and starts following selections. Opening an open session
// is a no-op.
func (o *Orchestrator) Open(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil
	}
	font := o.cfg.FontFamily
	if f := strings.TrimSpace(o.host.FontFamily()); f != "" {
		font = f
	}
	bg, ok := o.store.Get(keyBackground)
	if !ok || bg == "" {
		bg = o.cfg.LastBackground
	}
	doc, err := preview.New(font, bg)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("capture: open preview: %w", err)
	}
	if opts := o.savedOptions(); opts != shot.DefaultRenderOptions() {
		doc.SetOptions(opts)
	}
	o.session, o.stop = context.WithCancel(context.WithoutCancel(ctx))
	o.doc = doc
	o.state = StatePreviewing
	o.lastPrint = ""
	o.mu.Unlock()

	o.log.Info("preview opened", "font", font, "background", bg)
	o.emit(initMessage(font, bg))
	return nil
}

func (o *Orchestrator) savedOptions() shot.RenderOptions {
	raw, ok := o.store.Get(keyOptions)
	if !ok {
		return o.cfg.Render
	}
	var opts shot.RenderOptions
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		o.log.Warn("ignoring stored render options", "err", err)
		return o.cfg.Render
	}
	return opts
}

// SelectionChanged reacts to a new editor selection. Empty selections and
// closed sessions are ignored. Otherwise any running poll is cancelled and a
// new one copies the selection and reads the clipboard at each configured
// offset until a changed payload has been applied. The returned channel is
// closed when that poll ends.
func (o *Orchestrator) SelectionChanged(ctx context.Context, empty bool) <-chan struct{} {
	done := make(chan struct{})
	if empty {
		close(done)
		return done
	}
	o.mu.Lock()
	if o.state == StateIdle {
		o.mu.Unlock()
		close(done)
		return done
	}
	if o.retry != nil {
		o.retry()
	}
	pollCtx, cancel := context.WithCancel(o.session)
	o.retry = cancel
	o.gen++
	gen := o.gen
	if o.state == StatePreviewing {
		o.state = StateAwaitingClipboard
	}
	o.mu.Unlock()

	unbind := context.AfterFunc(ctx, cancel)
	go func() {
		defer close(done)
		defer unbind()
		o.poll(pollCtx, gen)
		o.finishPoll(gen)
	}()
	return done
}

func (o *Orchestrator) poll(ctx context.Context, gen uint64) {
	start := time.Now()
	// the paste is reported invalid only when every read came back blank
	reads, blanks := 0, 0
	for i, at := range o.cfg.RetryOffsets {
		if wait := at - time.Since(start); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		} else if ctx.Err() != nil {
			return
		}
		if err := o.host.CopyHighlighted(ctx); err != nil {
			o.log.Warn("copy selection failed", "attempt", i, "err", err)
			continue
		}
		o.emit(Message{Type: TypeCheckClipboard})
		payload, err := o.host.ReadClipboard(ctx)
		if err != nil {
			o.log.Warn("read clipboard failed", "attempt", i, "err", err)
			continue
		}
		reads++
		if strings.TrimSpace(payload.Text) == "" {
			blanks++
			continue
		}
		if o.unchanged(payload) {
			continue
		}
		switch err := o.apply(payload, gen); {
		case err == nil:
			o.log.Debug("selection applied", "attempt", i)
			return
		case errors.Is(err, errStale), errors.Is(err, ErrClosed):
			return
		default:
			o.log.Warn("apply clipboard failed", "attempt", i, "err", err)
		}
	}
	if reads > 0 && blanks == reads && ctx.Err() == nil {
		o.reportInvalid()
	}
}

func (o *Orchestrator) finishPoll(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return
	}
	if o.retry != nil {
		o.retry()
		o.retry = nil
	}
	if o.state == StateAwaitingClipboard {
		o.state = StatePreviewing
	}
}

func (o *Orchestrator) unchanged(p ClipboardPayload) bool {
	fp := p.Fingerprint()
	o.mu.Lock()
	defer o.mu.Unlock()
	return fp == o.lastPrint
}

var errStale = errors.New("capture: superseded by a newer selection")

// Paste normalizes a clipboard payload into the preview. A payload without
// code is reported to the host and leaves the preview unchanged.
func (o *Orchestrator) Paste(ctx context.Context, p ClipboardPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.apply(p, 0)
}

func (o *Orchestrator) apply(p ClipboardPayload, gen uint64) error {
	doc, err := shot.Normalize(p.HTML, p.Text)
	if err != nil {
		if errors.Is(err, shot.ErrInvalidPaste) {
			o.reportInvalid()
		}
		return err
	}
	fp := p.Fingerprint()

	o.mu.Lock()
	if o.state == StateIdle {
		o.mu.Unlock()
		return ErrClosed
	}
	if gen != 0 && gen != o.gen {
		o.mu.Unlock()
		return errStale
	}
	if err := o.doc.Replace(doc); err != nil {
		o.mu.Unlock()
		return err
	}
	o.lastPrint = fp
	if o.state == StateAwaitingClipboard {
		o.state = StatePreviewing
	}
	o.mu.Unlock()

	if doc.BackgroundColor != "" {
		if err := o.store.Set(keyBackground, doc.BackgroundColor); err != nil {
			o.log.Warn("persist background failed", "err", err)
		}
	}
	o.emit(stateChangeMessage(KindUpdateBgColor, doc.BackgroundColor))
	return nil
}

func (o *Orchestrator) reportInvalid() {
	o.log.Warn("invalid paste content")
	o.emit(stateChangeMessage(KindInvalidPasteContent, ""))
	o.host.ShowInfo(InvalidPasteMessage)
}

// Shoot captures the preview at the configured scale and saves it where the
// host says. A cancelled save dialog is not an error and returns "".
func (o *Orchestrator) Shoot(ctx context.Context) (string, error) {
	o.mu.Lock()
	switch o.state {
	case StateIdle:
		o.mu.Unlock()
		return "", ErrClosed
	case StateCapturing:
		o.mu.Unlock()
		return "", ErrCaptureInProgress
	}
	o.state = StateCapturing
	doc := o.doc
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.state == StateCapturing {
			o.state = StatePreviewing
		}
		o.mu.Unlock()
	}()

	img, err := o.render(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("capture: render: %w", err)
	}
	o.emit(Message{Type: TypeShoot, Shoot: &ShootData{ImageBytes: img}})
	return o.save(ctx, img)
}

// Render captures the preview as PNG without saving it.
func (o *Orchestrator) Render(ctx context.Context) ([]byte, error) {
	return o.RenderFormat(ctx, "png", 0)
}

// RenderFormat captures the preview as "png" or "jpeg" without saving it.
// quality only applies to JPEG.
func (o *Orchestrator) RenderFormat(ctx context.Context, format string, quality float64) ([]byte, error) {
	o.mu.Lock()
	doc := o.doc
	o.mu.Unlock()
	if doc == nil {
		return nil, ErrClosed
	}
	return o.renderAs(ctx, doc, format, quality)
}

func (o *Orchestrator) render(ctx context.Context, doc *preview.Document) ([]byte, error) {
	return o.renderAs(ctx, doc, "png", 0)
}

func (o *Orchestrator) renderAs(ctx context.Context, doc *preview.Document, format string, quality float64) ([]byte, error) {
	var out []byte
	err := doc.View(func(container *html.Node, styles *shot.Stylesheet, size preview.Size) error {
		r := shot.NewRasterizer(shot.RasterizerConfig{
			Decoder:      o.decoder,
			Stylesheet:   styles,
			Client:       o.client,
			FetchTimeout: o.cfg.FetchTimeout,
			Placeholder:  o.cfg.Placeholder,
			CacheBust:    o.cfg.CacheBust,
			Cache:        o.cache,
			SettleDelay:  o.cfg.SettleDelay,
			Logger:       o.log,
		})
		req := shot.CaptureRequest{
			Node:   container,
			Width:  size.Width,
			Height: size.Height,
			Scale:  o.cfg.Scale,
		}
		opts := shot.ImageOptions{FullResolution: true, Quality: quality}
		var err error
		switch strings.ToLower(format) {
		case "", "png":
			out, err = r.ToPNG(ctx, req, opts)
		case "jpg", "jpeg":
			out, err = r.ToJPEG(ctx, req, opts)
		default:
			err = fmt.Errorf("capture: unsupported format %q", format)
		}
		return err
	})
	return out, err
}

func (o *Orchestrator) save(ctx context.Context, data []byte) (string, error) {
	o.mu.Lock()
	def := o.savePath
	o.mu.Unlock()

	path, err := o.host.SavePath(ctx, def)
	if errors.Is(err, ErrSaveCancelled) {
		o.log.Info("save cancelled")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("capture: save path: %w", err)
	}
	if filepath.Ext(path) == "" {
		path += ".png"
	}
	if err := o.host.WriteFile(path, data); err != nil {
		return "", fmt.Errorf("capture: write %s: %w", path, err)
	}
	o.mu.Lock()
	o.savePath = path
	o.mu.Unlock()
	o.log.Info("capture saved", "path", path, "bytes", len(data))
	return path, nil
}

// LastSavePath returns the path the next save dialog starts from.
func (o *Orchestrator) LastSavePath() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.savePath
}

// SetOptions applies the preview toggles and remembers them.
func (o *Orchestrator) SetOptions(opts shot.RenderOptions) error {
	o.mu.Lock()
	doc := o.doc
	o.mu.Unlock()
	if doc == nil {
		return ErrClosed
	}
	doc.SetOptions(opts)
	raw, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	return o.store.Set(keyOptions, string(raw))
}

// HandleMessage applies an inbound protocol message.
func (o *Orchestrator) HandleMessage(ctx context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}
	switch m.Type {
	case TypeInit:
		doc := o.Document()
		if doc == nil {
			return ErrClosed
		}
		return doc.Init(m.Init.FontFamily, m.Init.BackgroundColor)
	case TypeCheckClipboard:
		payload, err := o.host.ReadClipboard(ctx)
		if err != nil {
			return fmt.Errorf("capture: read clipboard: %w", err)
		}
		if o.unchanged(payload) {
			return nil
		}
		return o.Paste(ctx, payload)
	case TypeShoot:
		if o.Document() == nil {
			return ErrClosed
		}
		_, err := o.save(ctx, m.Shoot.ImageBytes)
		return err
	case TypeStateChange:
		switch m.StateChange.Kind {
		case KindUpdateBgColor:
			if m.StateChange.Payload == "" {
				return nil
			}
			return o.store.Set(keyBackground, m.StateChange.Payload)
		case KindInvalidPasteContent:
			o.host.ShowInfo(InvalidPasteMessage)
		}
	}
	return nil
}

// Close ends the session. Running polls are cancelled and late results are
// dropped.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.retry != nil {
		o.retry()
		o.retry = nil
	}
	if o.stop != nil {
		o.stop()
		o.stop = nil
	}
	o.gen++
	o.state = StateIdle
	o.doc = nil
}
