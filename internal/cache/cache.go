package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/scan-io-git/scanguard/internal/findings"
	"github.com/scan-io-git/scanguard/pkg/shared/errors"
)

type shard struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
}

// Cache maps (canonical path, configuration fingerprint) to previously computed findings.
// Entries are spread over shards by key hash so unrelated files never share a lock.
// A failing backend switches the cache to always-miss for the rest of its life.
type Cache struct {
	logger   hclog.Logger
	fs       afero.Fs
	backend  Backend
	shards   []*shard
	degraded atomic.Bool
	hits     atomic.Int64
	misses   atomic.Int64
	now      func() time.Time
}

// New creates a cache over fs. backend may be nil for a memory-only cache.
func New(logger hclog.Logger, fs afero.Fs, backend Backend, shards int) *Cache {
	if shards < 1 {
		shards = 1
	}
	c := &Cache{
		logger:  logger.Named("cache"),
		fs:      fs,
		backend: backend,
		shards:  make([]*shard, shards),
		now:     time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[Key]*Entry)}
	}
	return c
}

// Open creates a cache persisted in an SQLite database under dir.
// If the store cannot be opened the cache starts degraded instead of failing.
func Open(logger hclog.Logger, fs afero.Fs, dir string, shards int) *Cache {
	backend, err := NewSQLiteBackend(dir)
	if err != nil {
		c := New(logger, fs, nil, shards)
		c.degrade(err)
		return c
	}
	return New(logger, fs, backend, shards)
}

func (c *Cache) shardFor(key Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.Path))
	h.Write([]byte{0})
	h.Write([]byte(key.ConfigFingerprint))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *Cache) degrade(err error) {
	if c.degraded.CompareAndSwap(false, true) {
		c.logger.Warn("cache store unavailable, every lookup will miss", "kind", errors.KindCache, "error", err)
	}
}

// Degraded reports whether the cache has fallen back to always-miss.
func (c *Cache) Degraded() bool {
	return c.degraded.Load()
}

// Lookup returns the entry for path if both the file state and configFingerprint still match it.
// The returned entry is a copy owned by the caller.
func (c *Cache) Lookup(path, configFingerprint string) (*Entry, bool) {
	entry, ok := c.lookup(path, configFingerprint)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return entry, ok
}

func (c *Cache) lookup(path, configFingerprint string) (*Entry, bool) {
	if c.Degraded() {
		return nil, false
	}

	key := Key{Path: path, ConfigFingerprint: configFingerprint}
	s := c.shardFor(key)

	s.mu.RLock()
	entry := s.entries[key]
	s.mu.RUnlock()

	if entry == nil && c.backend != nil {
		stored, err := c.backend.Get(key)
		if err != nil {
			c.degrade(&errors.CacheError{Op: "get", Key: path, Err: err})
			return nil, false
		}
		if stored == nil {
			return nil, false
		}
		entry = stored
		s.mu.Lock()
		if _, ok := s.entries[key]; !ok {
			s.entries[key] = entry
		}
		s.mu.Unlock()
	}
	if entry == nil {
		return nil, false
	}

	info, err := c.fs.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false
	}

	if info.Size() != entry.Size {
		return nil, false
	}
	if info.ModTime().Equal(entry.ModTime) {
		return entry.clone(), true
	}

	// same size, different mtime: trust the content hash
	if entry.ContentHash == "" {
		return nil, false
	}
	hash, err := ContentHash(c.fs, path)
	if err != nil || hash != entry.ContentHash {
		return nil, false
	}

	refreshed := entry.clone()
	refreshed.ModTime = info.ModTime()
	s.mu.Lock()
	s.entries[key] = refreshed
	s.mu.Unlock()
	if c.backend != nil {
		if err := c.backend.Put(refreshed); err != nil {
			c.logger.Debug("failed to refresh cache entry mtime", "path", path, "error", err)
		}
	}
	return refreshed.clone(), true
}

// Store records the findings of a fresh analysis of path. Repeated stores replace the entry.
// state must describe the bytes the findings were computed from, not the file as it is now.
func (c *Cache) Store(path, configFingerprint string, state FileState, result []findings.Finding, duration time.Duration) error {
	if c.Degraded() {
		return nil
	}
	if state.ContentHash == "" {
		return &errors.CacheError{Op: "put", Key: path, Err: fmt.Errorf("no content hash for the analyzed content")}
	}

	entry := &Entry{
		Key:              Key{Path: path, ConfigFingerprint: configFingerprint},
		ModTime:          state.ModTime,
		Size:             state.Size,
		ContentHash:      state.ContentHash,
		Findings:         append([]findings.Finding(nil), result...),
		AnalysisDuration: duration,
		RecordedAt:       c.now(),
	}

	s := c.shardFor(entry.Key)
	s.mu.Lock()
	s.entries[entry.Key] = entry
	s.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Put(entry); err != nil {
			cacheErr := &errors.CacheError{Op: "put", Key: path, Err: err}
			c.degrade(cacheErr)
			return cacheErr
		}
	}
	return nil
}

// Prune drops every entry recorded more than maxAge ago and returns how many were removed.
func (c *Cache) Prune(maxAge time.Duration) (int, error) {
	cutoff := c.now().Add(-maxAge)

	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, entry := range s.entries {
			if entry.RecordedAt.Before(cutoff) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}

	if c.backend == nil || c.Degraded() {
		return removed, nil
	}
	n, err := c.backend.Prune(cutoff)
	if err != nil {
		return removed, &errors.CacheError{Op: "prune", Err: err}
	}
	if n > removed {
		removed = n
	}
	c.logger.Debug("pruned cache", "removed", removed, "cutoff", cutoff)
	return removed, nil
}

// Stats returns the current counters. Entries counts the entries held in memory.
func (c *Cache) Stats() Stats {
	entries := 0
	for _, s := range c.shards {
		s.mu.RLock()
		entries += len(s.entries)
		s.mu.RUnlock()
	}
	return Stats{
		Entries:  entries,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Degraded: c.Degraded(),
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
