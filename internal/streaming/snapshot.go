package streaming

import (
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// Snapshot identifies the exact content a source was read from. The stat is taken before
// reading and the hash is computed over the bytes handed to the analyzers.
type Snapshot struct {
	ModTime     time.Time
	Size        int64
	ContentHash string
}

// blobHasher hashes content as git does for a blob of the announced size and counts what it saw.
type blobHasher struct {
	h plumbing.Hasher
	n int64
}

func newBlobHasher(size int64) *blobHasher {
	return &blobHasher{h: plumbing.NewHasher(plumbing.BlobObject, size)}
}

func (b *blobHasher) Write(p []byte) (int, error) {
	b.n += int64(len(p))
	return b.h.Write(p)
}

// sum returns the hash, or false when the bytes seen differ from the announced size.
func (b *blobHasher) sum(size int64) (string, bool) {
	if b.n != size {
		return "", false
	}
	return b.h.Sum().String(), true
}
