package streaming

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// SkipReason explains why a file was not analyzed.
type SkipReason string

const (
	SkipBinary   SkipReason = "binary"
	SkipTooLarge SkipReason = "too-large"
)

// Source is the content of one file: *Buffered, *Chunked or *Skipped.
// Buffered and Chunked sources also report the Snapshot of what they read.
type Source interface {
	Size() int64
	isSource()
}

// Buffered holds a file small enough to be read at once.
type Buffered struct {
	Data []byte
	snap Snapshot
	ok   bool
}

func (b *Buffered) Size() int64 { return int64(len(b.Data)) }
func (*Buffered) isSource()     {}

// Snapshot returns the state Data was read from. It returns false when the file changed
// size while it was read.
func (b *Buffered) Snapshot() (Snapshot, bool) { return b.snap, b.ok }

// Skipped marks a file that is deliberately not analyzed. It is not an error.
type Skipped struct {
	Reason SkipReason
	size   int64
}

func (s *Skipped) Size() int64 { return s.size }
func (*Skipped) isSource()     {}

// Options configures a Reader.
type Options struct {
	// Files of at least StreamingThreshold bytes are chunked.
	StreamingThreshold int64
	// Files above MaxFileSize are skipped.
	MaxFileSize  int64
	ChunkSize    int
	OverlapLines int
}

// Reader supplies file content either buffered or in overlapping chunks.
type Reader struct {
	fs     afero.Fs
	opts   Options
	logger hclog.Logger
}

func NewReader(logger hclog.Logger, fs afero.Fs, opts Options) *Reader {
	if opts.ChunkSize < 1 {
		opts.ChunkSize = 64 * 1024
	}
	if opts.OverlapLines < 0 {
		opts.OverlapLines = 0
	}
	return &Reader{fs: fs, opts: opts, logger: logger.Named("streaming")}
}

// Open inspects path and returns its content source. A returned *Chunked must be closed.
func (r *Reader) Open(path string) (Source, error) {
	info, err := r.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory", path)
	}

	size := info.Size()
	snap := Snapshot{ModTime: info.ModTime(), Size: size}
	if r.opts.MaxFileSize > 0 && size > r.opts.MaxFileSize {
		r.logger.Info("skipping file above the size cap", "path", path, "size", size, "max", r.opts.MaxFileSize)
		return &Skipped{Reason: SkipTooLarge, size: size}, nil
	}

	f, err := r.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}

	head := make([]byte, SniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		f.Close()
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	head = head[:n]

	if IsBinary(head) {
		f.Close()
		r.logger.Debug("skipping binary file", "path", path)
		return &Skipped{Reason: SkipBinary, size: size}, nil
	}

	if size < r.opts.StreamingThreshold {
		defer f.Close()
		rest, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", path, err)
		}
		b := &Buffered{Data: append(head, rest...), snap: snap}
		h := newBlobHasher(size)
		h.Write(b.Data)
		b.snap.ContentHash, b.ok = h.sum(size)
		return b, nil
	}

	hasher := newBlobHasher(size)
	return &Chunked{
		closer:       f,
		src:          io.TeeReader(io.MultiReader(bytes.NewReader(head), f), hasher),
		hasher:       hasher,
		snap:         snap,
		size:         size,
		chunkSize:    r.opts.ChunkSize,
		overlapLines: r.opts.OverlapLines,
		nextLine:     1,
	}, nil
}

// ReadAll returns the whole content of a source. It exists for callers that must see the full
// file regardless of size, and for checking chunked analysis against buffered analysis.
func ReadAll(ctx context.Context, src Source) ([]byte, error) {
	switch s := src.(type) {
	case *Buffered:
		return s.Data, nil
	case *Chunked:
		var out []byte
		for {
			chunk, ok := s.Next(ctx)
			if !ok {
				break
			}
			// drop the overlap lines that were already appended
			out = append(out[:chunk.Offset], chunk.Data...)
		}
		return out, s.Err()
	default:
		return nil, nil
	}
}
