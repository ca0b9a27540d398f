package cache

import (
	"time"

	"github.com/scan-io-git/scanguard/internal/findings"
)

// Key identifies a cache entry: one canonical file path under one configuration.
type Key struct {
	Path              string
	ConfigFingerprint string
}

// FileState is the file content a set of findings was computed from.
type FileState struct {
	ModTime     time.Time
	Size        int64
	ContentHash string
}

// Entry is the cached outcome of analyzing one file under one configuration.
type Entry struct {
	Key
	ModTime          time.Time
	Size             int64
	ContentHash      string
	Findings         []findings.Finding
	AnalysisDuration time.Duration
	RecordedAt       time.Time
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Findings = append([]findings.Finding(nil), e.Findings...)
	return &c
}

// Backend is the persistent store behind the cache.
// Get returns (nil, nil) when the key is absent.
type Backend interface {
	Get(key Key) (*Entry, error)
	Put(entry *Entry) error
	Prune(olderThan time.Time) (int, error)
	Close() error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries  int   `json:"entries"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Degraded bool  `json:"degraded"`
}
