// Command codeshot turns highlighted code into images.
//
//	codeshot render -in snippet.html [-text snippet.txt] -out code.png
//	codeshot watch  [-out ~/Desktop/code.png] [-copy]
//	codeshot serve  [-addr 127.0.0.1:8090]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/yosssi/gohtml"

	"codeshot/internal/capture"
	"codeshot/shot"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "render":
		err = runRender(ctx, args)
	case "watch":
		err = runWatch(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(cmd+" failed", "err", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: codeshot <render|watch|serve> [flags]")
}

// commonFlags registers the shared configuration flags and returns a
// function that finishes setup after parsing.
func commonFlags(fs *flag.FlagSet, cfg *capture.Config) func() error {
	configFile := fs.String("config", strings.TrimSpace(os.Getenv("CODESHOT_CONFIG")), "YAML configuration file")
	level := fs.String("log-level", "info", "log level: debug, info, warn, error")
	cfg.RegisterFlags(fs)
	return func() error {
		if *configFile != "" {
			// flags given on the command line win over the file
			explicit := map[string]bool{}
			fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
			fromFlags := *cfg
			if err := capture.LoadFile(*configFile, cfg); err != nil {
				return fmt.Errorf("config %s: %w", *configFile, err)
			}
			*cfg = overlayFlags(*cfg, fromFlags, explicit)
		}
		lvl, err := log.ParseLevel(*level)
		if err != nil {
			return err
		}
		log.SetLevel(lvl)
		log.SetReportTimestamp(true)
		log.SetTimeFormat("15:04:05.000")
		cfg.Logger = log.Default()
		return nil
	}
}

// overlayFlags copies the explicitly set flag fields of fromFlags onto base.
func overlayFlags(base, fromFlags capture.Config, explicit map[string]bool) capture.Config {
	set := func(name string, apply func()) {
		if explicit[name] {
			apply()
		}
	}
	set("addr", func() { base.Addr = fromFlags.Addr })
	set("out", func() { base.SavePath = fromFlags.SavePath })
	set("state", func() { base.StateFile = fromFlags.StateFile })
	set("font", func() { base.FontFamily = fromFlags.FontFamily })
	set("chrome", func() { base.ChromePath = fromFlags.ChromePath })
	set("no-sandbox", func() { base.NoSandbox = fromFlags.NoSandbox })
	set("download-browser", func() { base.Download = fromFlags.Download })
	set("placeholder", func() { base.Placeholder = fromFlags.Placeholder })
	set("cache-bust", func() { base.CacheBust = fromFlags.CacheBust })
	set("cache-dir", func() { base.CacheDir = fromFlags.CacheDir })
	set("fetch-timeout", func() { base.FetchTimeout = fromFlags.FetchTimeout })
	set("scale", func() { base.Scale = fromFlags.Scale })
	return base
}

func newDecoder(cfg capture.Config) *shot.ChromeDecoder {
	return shot.NewChromeDecoder(shot.BrowserConfig{
		ExecPath:  cfg.ChromePath,
		Download:  cfg.Download,
		NoSandbox: cfg.NoSandbox,
	}, cfg.FetchTimeout, cfg.Logger)
}

// fileHost serves a single capture from files on disk.
type fileHost struct {
	payload capture.ClipboardPayload
	out     string
	font    string
}

func (h *fileHost) CopyHighlighted(context.Context) error { return nil }

func (h *fileHost) ReadClipboard(context.Context) (capture.ClipboardPayload, error) {
	return h.payload, nil
}

func (h *fileHost) SavePath(context.Context, string) (string, error) { return h.out, nil }

func (h *fileHost) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (h *fileHost) ShowInfo(msg string) { log.Warn(msg) }

func (h *fileHost) FontFamily() string { return h.font }

func runRender(ctx context.Context, args []string) error {
	cfg := capture.DefaultConfig()
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	in := fs.String("in", "", "highlighted HTML copied from the editor")
	text := fs.String("text", "", "plaintext flavor of the copy; derived from -in when empty")
	format := fs.String("format", "", "png or jpeg; taken from the -out extension when empty")
	quality := fs.Float64("quality", 0.92, "JPEG quality in (0, 1]")
	dump := fs.Bool("dump", false, "print the preview page before capturing")
	finish := commonFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := finish(); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("render: -in is required")
	}

	markup, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	payload := capture.ClipboardPayload{HTML: string(markup)}
	if *text != "" {
		plain, err := os.ReadFile(*text)
		if err != nil {
			return err
		}
		payload.Text = string(plain)
	} else {
		payload = capture.PayloadFromText(string(markup))
	}

	decoder := newDecoder(cfg)
	defer decoder.Close()

	host := &fileHost{payload: payload, out: cfg.SavePath, font: cfg.FontFamily}
	o := capture.New(cfg, host, capture.NewMemoryStore(), decoder)
	if err := o.Open(ctx); err != nil {
		return err
	}
	defer o.Close()
	if err := o.Paste(ctx, payload); err != nil {
		return err
	}
	if *dump {
		page, err := o.Document().Render()
		if err != nil {
			return err
		}
		fmt.Println(gohtml.Format(page))
	}

	switch f := strings.ToLower(*format); {
	case f == "jpeg" || f == "jpg" || (f == "" && isJPEGPath(cfg.SavePath)):
		img, err := o.RenderFormat(ctx, "jpeg", *quality)
		if err != nil {
			return err
		}
		if err := host.WriteFile(cfg.SavePath, img); err != nil {
			return err
		}
		log.Info("saved", "path", cfg.SavePath, "bytes", len(img))
		return nil
	default:
		path, err := o.Shoot(ctx)
		if err != nil {
			return err
		}
		log.Info("saved", "path", path)
		return nil
	}
}

func isJPEGPath(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}

// stampedHost saves every capture of a watch session next to base, under
// its own name.
type stampedHost struct {
	*capture.DesktopHost
	base string
	now  func() time.Time
}

func (h stampedHost) SavePath(ctx context.Context, _ string) (string, error) {
	p, err := h.DesktopHost.SavePath(ctx, h.base)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(p)
	return strings.TrimSuffix(p, ext) + "-" + h.now().Format("20060102-150405") + ext, nil
}

func runWatch(ctx context.Context, args []string) error {
	cfg := capture.DefaultConfig()
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	copyImage := fs.Bool("copy", false, "put each capture on the clipboard")
	interval := fs.Duration("interval", 500*time.Millisecond, "clipboard poll interval")
	finish := commonFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := finish(); err != nil {
		return err
	}

	decoder := newDecoder(cfg)
	defer decoder.Close()

	desktop := capture.NewDesktopHost(cfg.FontFamily, *copyImage, cfg.Logger)
	host := stampedHost{DesktopHost: desktop, base: cfg.SavePath, now: time.Now}
	o := capture.New(cfg, host, capture.NewFileStore(cfg.StateFile), decoder)
	if err := o.Open(ctx); err != nil {
		return err
	}
	defer o.Close()

	log.Info("Waiting for highlighted code in the clipboard, press CTRL-C to stop")
	return desktop.Watch(ctx, *interval, func(p capture.ClipboardPayload) {
		if err := o.Paste(ctx, p); err != nil {
			log.Warn("paste rejected", "err", err)
			return
		}
		if _, err := o.Shoot(ctx); err != nil {
			log.Error("capture failed", "err", err)
		}
	})
}

func runServe(ctx context.Context, args []string) error {
	cfg := capture.DefaultConfig()
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	finish := commonFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := finish(); err != nil {
		return err
	}
	if env := os.Getenv("PORT"); env != "" {
		cfg.Addr = ":" + env
	}

	decoder := newDecoder(cfg)
	defer decoder.Close()

	host := capture.NewDesktopHost(cfg.FontFamily, false, cfg.Logger)
	o := capture.New(cfg, host, capture.NewFileStore(cfg.StateFile), decoder)
	o.OnMessage(func(m capture.Message) { log.Debug("message", "type", m.Type) })
	if err := o.Open(ctx); err != nil {
		return err
	}
	defer o.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           capture.NewServer(o),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.Default().StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}),
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Info("Listening", "addr", "http://"+ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
