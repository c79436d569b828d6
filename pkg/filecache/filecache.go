// Package filecache implements FileCache: a bounded mapping from file path
// to an open read/write handle, used by the disk writer so it does not hold
// one file descriptor per torrent file open for the process lifetime.
// Eviction is least-recently-used.
package filecache

import (
	"container/list"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/prxssh/ripple/pkg/logging"
)

// entry is the value stored in the LRU list; queue holds *entry directly so
// MoveToFront/Remove are O(1) without a second lookup. lastAccess is kept
// for observability (LastAccess below) — eviction order itself is driven by
// list position, not by comparing timestamps.
type entry struct {
	path       string
	file       *os.File
	lastAccess time.Time
}

// FileCache bounds the number of concurrently open file handles to
// maxOpenFiles, evicting the least-recently-used handle when a miss would
// exceed that bound.
type FileCache struct {
	mu sync.Mutex

	maxOpenFiles int
	clk          clock.Clock

	queue   *list.List // front = most recently used
	entries map[string]*list.Element

	log *slog.Logger
}

// New returns an empty FileCache bounded to maxOpenFiles concurrently open
// handles. clk is injected (rather than calling time.Now directly) and stamps
// each entry's LastAccess time, so tests can use clock.NewMock(); eviction
// order follows list position and does not read the clock. Pass clock.New()
// for real wall-clock behavior.
func New(maxOpenFiles int, clk clock.Clock) *FileCache {
	if maxOpenFiles <= 0 {
		maxOpenFiles = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &FileCache{
		maxOpenFiles: maxOpenFiles,
		clk:          clk,
		queue:        list.New(),
		entries:      make(map[string]*list.Element),
		log:          logging.New("filecache"),
	}
}

// WithFile applies op to the open handle for path, opening it (creating
// parent directories and the file itself as needed) if it is not already
// cached, evicting the least-recently-used handle first if the cache is at
// capacity. The handle's file position is wherever the previous op left it;
// callers seek explicitly.
//
// Errors from eviction, directory creation and opening propagate to the
// caller wrapped with context; an error from op itself is returned as is.
// FileCache never retries internally.
func (c *FileCache) WithFile(path string, op func(f *os.File) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[path]; ok {
		c.queue.MoveToFront(el)
		e := el.Value.(*entry)
		e.lastAccess = c.clk.Now()
		return op(e.file)
	}

	if c.queue.Len() >= c.maxOpenFiles {
		if err := c.evictOldestLocked(); err != nil {
			return fmt.Errorf("filecache: evict before opening %s: %w", path, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("filecache: mkdir for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("filecache: open %s: %w", path, err)
	}

	el := c.queue.PushFront(&entry{path: path, file: f, lastAccess: c.clk.Now()})
	c.entries[path] = el

	if err := op(f); err != nil {
		return err
	}
	return nil
}

// evictOldestLocked closes and drops the least-recently-used entry. Callers
// must hold c.mu.
func (c *FileCache) evictOldestLocked() error {
	back := c.queue.Back()
	if back == nil {
		return nil
	}

	e := back.Value.(*entry)
	c.queue.Remove(back)
	delete(c.entries, e.path)

	if err := e.file.Close(); err != nil {
		return fmt.Errorf("close evicted handle for %s: %w", e.path, err)
	}
	c.log.Debug("evicted handle", "path", e.path)
	return nil
}

// Remove drops the cached handle for path, if any, and closes it. It does
// not delete the file on disk.
func (c *FileCache) Remove(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[path]
	if !ok {
		return nil
	}

	e := el.Value.(*entry)
	c.queue.Remove(el)
	delete(c.entries, path)

	if err := e.file.Close(); err != nil {
		return fmt.Errorf("filecache: close %s: %w", path, err)
	}
	return nil
}

// LastAccess reports the time of the most recent WithFile call that touched
// path, for tests and diagnostics.
func (c *FileCache) LastAccess(path string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[path]
	if !ok {
		return time.Time{}, false
	}
	return el.Value.(*entry).lastAccess, true
}

// Len returns the number of handles currently open.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Close closes every cached handle and empties the cache.
func (c *FileCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for el := c.queue.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if err := e.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("filecache: close %s: %w", e.path, err)
		}
	}
	c.queue.Init()
	c.entries = make(map[string]*list.Element)
	return firstErr
}
