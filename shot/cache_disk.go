package shot

import (
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// ResourceCache keeps inlined resources across captures, keyed by resolved
// URL. Values are data URIs.
type ResourceCache interface {
	Get(url string) (string, bool)
	Put(url, dataURI string)
}

// DiskCache is a ResourceCache backed by a directory. Entries live in
// two-level shard directories; once the total size passes MaxBytes the least
// recently read entries are removed.
type DiskCache struct {
	dir      string
	maxBytes int64

	pruneMu sync.Mutex
	now     func() time.Time
	// prune runs after every Put; tests replace it to run synchronously.
	prune func()
}

// NewDiskCache returns a cache rooted at dir, creating it if needed.
// maxBytes <= 0 disables pruning.
func NewDiskCache(dir string, maxBytes int64) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c := &DiskCache{dir: dir, maxBytes: maxBytes, now: time.Now}
	c.prune = func() { go c.Prune() }
	return c, nil
}

func (c *DiskCache) key(url string) (string, string) {
	h := blake3.New()
	h.Write([]byte(url))
	sum := hex.EncodeToString(h.Sum(nil))
	dir := filepath.Join(c.dir, sum[0:1], sum[1:2])
	return dir, filepath.Join(dir, sum+".uri")
}

// Get returns the data URI stored for url and marks it as recently used.
func (c *DiskCache) Get(url string) (string, bool) {
	_, path := c.key(url)
	b, err := os.ReadFile(path)
	if err != nil || !strings.HasPrefix(string(b), "data:") {
		return "", false
	}
	now := c.now()
	_ = os.Chtimes(path, now, now)
	return string(b), true
}

// Put stores dataURI for url. Write failures are dropped; the cache is an
// optimisation only.
func (c *DiskCache) Put(url, dataURI string) {
	dir, path := c.key(url)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(dataURI), 0o644); err != nil {
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return
	}
	c.prune()
}

type cacheEntry struct {
	path  string
	size  int64
	mtime time.Time
}

// Prune removes the oldest entries until the cache fits in its budget.
func (c *DiskCache) Prune() {
	if c.maxBytes <= 0 {
		return
	}
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	var entries []cacheEntry
	var total int64
	filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".uri") {
			return nil
		}
		if info, e := d.Info(); e == nil {
			entries = append(entries, cacheEntry{p, info.Size(), info.ModTime()})
			total += info.Size()
		}
		return nil
	})
	if total <= c.maxBytes {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime.Before(entries[j].mtime) })
	for _, e := range entries {
		if total <= c.maxBytes {
			break
		}
		_ = os.Remove(e.path)
		total -= e.size
	}
}
