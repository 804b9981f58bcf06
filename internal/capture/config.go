package capture

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"codeshot/shot"
)

const (
	defaultAddr            = "127.0.0.1:8090"
	defaultLastBackground  = "#2e3440"
	defaultScale           = 2
	defaultCacheMB         = 100
	defaultStateFileName   = "codeshot-state.json"
	defaultSaveName        = "code.png"
	defaultRetrySchedule   = "0,100ms,200ms,500ms,1s"
	defaultFetchTimeoutStr = "30s"
)

// Config describes a capture session and the surfaces around it.
type Config struct {
	Addr        string `yaml:"addr"`
	SavePath    string `yaml:"save_path"`
	StateFile   string `yaml:"state_file"`
	FontFamily  string `yaml:"font_family"`
	ChromePath  string `yaml:"chrome_path"`
	NoSandbox   bool   `yaml:"no_sandbox"`
	Download    bool   `yaml:"download_browser"`
	Placeholder string `yaml:"image_placeholder"`
	CacheBust   bool   `yaml:"cache_bust"`
	// CacheDir keeps fetched fonts and images between captures. Empty
	// disables the disk cache.
	CacheDir string `yaml:"cache_dir"`
	CacheMB  int    `yaml:"cache_mb"`

	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	// RetryOffsets are measured from the selection change, not between
	// attempts.
	RetryOffsets []time.Duration `yaml:"retry_offsets"`
	Scale        float64         `yaml:"scale"`

	LastBackground string             `yaml:"default_background"`
	Render         shot.RenderOptions `yaml:"render"`

	Logger *log.Logger `yaml:"-"`
}

// DefaultConfig populates configuration from CODESHOT_* environment
// variables.
func DefaultConfig() Config {
	cfg := Config{
		Addr:        strings.TrimSpace(os.Getenv("CODESHOT_ADDR")),
		SavePath:    strings.TrimSpace(os.Getenv("CODESHOT_SAVE_PATH")),
		StateFile:   strings.TrimSpace(os.Getenv("CODESHOT_STATE_FILE")),
		FontFamily:  strings.TrimSpace(os.Getenv("CODESHOT_FONT_FAMILY")),
		ChromePath:  strings.TrimSpace(os.Getenv("CODESHOT_CHROME")),
		Placeholder: strings.TrimSpace(os.Getenv("CODESHOT_IMAGE_PLACEHOLDER")),
		NoSandbox:   envBool("CODESHOT_NO_SANDBOX"),
		Download:    envBool("CODESHOT_DOWNLOAD_BROWSER"),
		CacheBust:   envBool("CODESHOT_CACHE_BUST"),
		CacheDir:    strings.TrimSpace(os.Getenv("CODESHOT_CACHE_DIR")),
		Render:      shot.DefaultRenderOptions(),
		Logger:      log.Default(),
	}
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv("CODESHOT_FETCH_TIMEOUT"))); err == nil {
		cfg.FetchTimeout = d
	}
	if raw := strings.TrimSpace(os.Getenv("CODESHOT_RETRY")); raw != "" {
		cfg.RetryOffsets = parseOffsets(raw)
	}
	if mb, err := strconv.Atoi(strings.TrimSpace(os.Getenv("CODESHOT_CACHE_MB"))); err == nil && mb >= 0 {
		cfg.CacheMB = mb
	}
	if s, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("CODESHOT_SCALE")), 64); err == nil {
		cfg.Scale = s
	}
	cfg.applyDefaults()
	return cfg
}

// LoadFile overlays a YAML file onto cfg. Fields missing from the file keep
// their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	cfg.applyDefaults()
	return nil
}

// RegisterFlags binds the common fields to fs, using the current values as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "preview server listen address")
	fs.StringVar(&c.SavePath, "out", c.SavePath, "default save path for captures")
	fs.StringVar(&c.StateFile, "state", c.StateFile, "file keeping state across sessions")
	fs.StringVar(&c.FontFamily, "font", c.FontFamily, "editor font family")
	fs.StringVar(&c.ChromePath, "chrome", c.ChromePath, "path to a Chrome or Chromium binary")
	fs.BoolVar(&c.NoSandbox, "no-sandbox", c.NoSandbox, "launch Chrome without its sandbox")
	fs.BoolVar(&c.Download, "download-browser", c.Download, "download Chromium when none is installed")
	fs.StringVar(&c.Placeholder, "placeholder", c.Placeholder, "data URL used for images that fail to load")
	fs.BoolVar(&c.CacheBust, "cache-bust", c.CacheBust, "append a timestamp to fetched URLs")
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "directory caching fetched fonts and images")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", c.FetchTimeout, "timeout of each resource fetch")
	fs.Float64Var(&c.Scale, "scale", c.Scale, "render scale of captures")
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.SavePath == "" {
		c.SavePath = defaultSavePath()
	}
	if c.StateFile == "" {
		c.StateFile = defaultStateFile()
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout, _ = time.ParseDuration(defaultFetchTimeoutStr)
	}
	if len(c.RetryOffsets) == 0 {
		c.RetryOffsets = parseOffsets(defaultRetrySchedule)
	}
	if c.Scale <= 0 {
		c.Scale = defaultScale
	}
	if c.CacheMB == 0 {
		c.CacheMB = defaultCacheMB
	}
	if c.LastBackground == "" {
		c.LastBackground = defaultLastBackground
	}
	if c.Render.BackgroundColor == "" {
		c.Render.BackgroundColor = shot.DefaultBackdropColor
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

func defaultSavePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultSaveName
	}
	return filepath.Join(home, "Desktop", defaultSaveName)
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return defaultStateFileName
	}
	return filepath.Join(dir, "codeshot", defaultStateFileName)
}

// parseOffsets reads a comma separated list of durations. A bare number is
// taken as milliseconds. Invalid entries are skipped.
func parseOffsets(raw string) []time.Duration {
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if ms, err := strconv.Atoi(part); err == nil {
			out = append(out, time.Duration(ms)*time.Millisecond)
			continue
		}
		if d, err := time.ParseDuration(part); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	return err == nil && v
}
