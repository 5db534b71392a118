package dataset

import (
	"log/slog"
	"time"

	"github.com/fractal-lba/healthxai/internal/cache"
)

// Source yields the reference frame. Implementations must be safe for concurrent use.
type Source interface {
	Frame() (*Frame, error)
}

// Cache is a process-wide parsed-dataset cache keyed by file path.
type Cache struct {
	frames *cache.LRUWithTTL[string, *Frame]
	logger *slog.Logger
}

// NewCache creates a cache holding up to size parsed files for ttl (0 = forever).
func NewCache(size int, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if size <= 0 {
		size = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	frames, err := cache.NewLRUWithTTL[string, *Frame](size, ttl)
	if err != nil {
		return nil, err
	}
	return &Cache{frames: frames, logger: logger}, nil
}

// Get returns the parsed frame for path, loading it at most once per ttl.
func (c *Cache) Get(path string) (*Frame, error) {
	return c.frames.GetOrLoad(path, func(p string) (*Frame, error) {
		start := time.Now()
		f, err := Load(p)
		if err != nil {
			return nil, err
		}
		c.logger.Info("reference dataset loaded",
			"path", p,
			"rows", f.Len(),
			"skipped", f.Skipped,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return f, nil
	})
}

// Stats exposes the underlying cache counters.
func (c *Cache) Stats() cache.Stats { return c.frames.Stats() }

// Source binds the cache to one path.
func (c *Cache) Source(path string) Source {
	return pathSource{cache: c, path: path}
}

type pathSource struct {
	cache *Cache
	path  string
}

func (s pathSource) Frame() (*Frame, error) { return s.cache.Get(s.path) }

// Static wraps an in-memory frame as a Source.
type Static struct{ F *Frame }

func (s Static) Frame() (*Frame, error) { return s.F, nil }
