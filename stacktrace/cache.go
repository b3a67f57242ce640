package stacktrace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/auditmos/devlens/logging"
	"github.com/fsnotify/fsnotify"
	"github.com/go-sourcemap/sourcemap"
	"golang.org/x/sync/singleflight"
)

// MapLoader returns the parsed source map stored at mapPath.
type MapLoader interface {
	Load(mapPath string) (*sourcemap.Consumer, error)
}

// MapCache loads source maps on demand and keeps them until invalidated.
// Concurrent loads of one path share a single read and parse; failed loads
// are not cached.
type MapCache struct {
	readFile func(string) ([]byte, error)
	logger   logging.Logger

	mu      sync.RWMutex
	entries map[string]*sourcemap.Consumer
	group   singleflight.Group
}

func NewMapCache(logger logging.Logger) *MapCache {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &MapCache{
		readFile: os.ReadFile,
		logger:   logger,
		entries:  make(map[string]*sourcemap.Consumer),
	}
}

func (c *MapCache) Load(mapPath string) (*sourcemap.Consumer, error) {
	key := filepath.Clean(mapPath)

	c.mu.RLock()
	sm, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return sm, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		data, err := c.readFile(key)
		if err != nil {
			return nil, fmt.Errorf("read source map: %w", err)
		}
		sm, err := sourcemap.Parse("", data)
		if err != nil {
			return nil, fmt.Errorf("parse source map %s: %w", key, err)
		}

		c.mu.Lock()
		c.entries[key] = sm
		c.mu.Unlock()

		c.logger.WithFields(logging.Fields{"path": key}).Debug("stacktrace", "load", "Source map loaded")
		return sm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sourcemap.Consumer), nil
}

func (c *MapCache) Invalidate(mapPath string) {
	key := filepath.Clean(mapPath)
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if ok {
		c.logger.WithFields(logging.Fields{"path": key}).Debug("stacktrace", "invalidate", "Source map evicted")
	}
}

func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Watch evicts cached maps when their files change on disk. Directories are
// registered before Watch returns; events are handled in the background
// until ctx is done.
func (c *MapCache) Watch(ctx context.Context, dirs ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	c.logger.WithFields(logging.Fields{"dirs": strings.Join(dirs, ",")}).Info("stacktrace", "watch", "Watching source maps")

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, DefaultMapSuffix) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					c.Invalidate(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.WithError(err).Warn("stacktrace", "watch", "Watcher error")
			}
		}
	}()
	return nil
}
