package streaming

import (
	"bytes"
	"context"
	"io"
)

// Chunk is one window of a chunked file.
type Chunk struct {
	Data []byte
	// StartLine is the 1-based file line of Data[0].
	StartLine int
	// Offset is the file byte offset of Data[0].
	Offset int64
	Index  int
}

// Chunked yields a large file as windows of whole lines. Each window starts with the last
// OverlapLines lines of the previous one, so a match spanning a boundary is seen whole.
// A line longer than the chunk size grows the window until the line ends.
type Chunked struct {
	closer io.Closer
	src    io.Reader
	hasher *blobHasher
	snap   Snapshot
	size   int64

	chunkSize    int
	overlapLines int

	overlap   []byte // already emitted, repeated at the start of the next window
	pending   []byte // read but not emitted yet
	nextLine  int    // line number of the first byte of overlap
	nextOff   int64  // file offset of the first byte of overlap
	index     int
	eof, done bool
	err       error
}

func (c *Chunked) Size() int64 { return c.size }
func (*Chunked) isSource()     {}

// Next returns the next window. It returns false at the end of the file, on a read error
// (see Err) or when ctx is done.
func (c *Chunked) Next(ctx context.Context) (Chunk, bool) {
	if c.done {
		return Chunk{}, false
	}
	if err := ctx.Err(); err != nil {
		c.fail(err)
		return Chunk{}, false
	}

	fresh := c.pending
	c.pending = nil
	for !c.eof {
		buf := make([]byte, c.chunkSize)
		n, err := io.ReadFull(c.src, buf)
		fresh = append(fresh, buf[:n]...)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			c.eof = true
		} else if err != nil {
			c.fail(err)
			return Chunk{}, false
		}
		if bytes.IndexByte(buf[:n], '\n') >= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			c.fail(err)
			return Chunk{}, false
		}
	}

	if len(fresh) == 0 {
		c.finish()
		return Chunk{}, false
	}

	window := make([]byte, 0, len(c.overlap)+len(fresh))
	window = append(window, c.overlap...)
	window = append(window, fresh...)

	chunk := Chunk{StartLine: c.nextLine, Offset: c.nextOff, Index: c.index}
	c.index++

	if c.eof {
		chunk.Data = window
		c.finish()
		return chunk, true
	}

	cut := bytes.LastIndexByte(window, '\n') + 1
	chunk.Data = window[:cut]
	c.pending = append([]byte(nil), window[cut:]...)

	start := overlapStart(chunk.Data, c.overlapLines)
	c.overlap = append([]byte(nil), chunk.Data[start:]...)
	c.nextLine += bytes.Count(chunk.Data[:start], []byte{'\n'})
	c.nextOff += int64(start)
	return chunk, true
}

// Snapshot returns the state the windows were read from. It returns false until the whole
// file was read without error, and when the file changed size while it was read.
func (c *Chunked) Snapshot() (Snapshot, bool) {
	if !c.eof || c.err != nil || c.hasher == nil {
		return Snapshot{}, false
	}
	snap := c.snap
	hash, ok := c.hasher.sum(snap.Size)
	if !ok {
		return Snapshot{}, false
	}
	snap.ContentHash = hash
	return snap, true
}

// Err returns the error that stopped iteration, if any.
func (c *Chunked) Err() error { return c.err }

// Close releases the underlying file.
func (c *Chunked) Close() error {
	c.done = true
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

func (c *Chunked) fail(err error) {
	c.err = err
	c.finish()
}

func (c *Chunked) finish() {
	c.done = true
	c.overlap, c.pending = nil, nil
}

// overlapStart returns the offset where the last n lines of chunk begin.
// chunk must end with a newline.
func overlapStart(chunk []byte, n int) int {
	start := len(chunk)
	end := len(chunk) - 1
	for i := 0; i < n && end >= 0; i++ {
		j := bytes.LastIndexByte(chunk[:end], '\n')
		start = j + 1
		end = j
	}
	return start
}
