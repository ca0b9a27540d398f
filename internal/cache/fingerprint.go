package cache

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/afero"
)

// ContentHash returns the git blob hash of the file, so the value matches `git hash-object`
// and stays stable across fresh clones where mtimes differ.
func ContentHash(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	h := plumbing.NewHasher(plumbing.BlobObject, info.Size())
	n, err := io.Copy(h, f)
	if err != nil {
		return "", err
	}
	if n != info.Size() {
		return "", fmt.Errorf("file %q changed while hashing", path)
	}
	return h.Sum().String(), nil
}

// CurrentState stats and hashes path as it is now. It suits content that cannot change
// between analysis and store; the engine records the state of what it read instead.
func CurrentState(fs afero.Fs, path string) (FileState, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return FileState{}, err
	}
	hash, err := ContentHash(fs, path)
	if err != nil {
		return FileState{}, err
	}
	return FileState{ModTime: info.ModTime(), Size: info.Size(), ContentHash: hash}, nil
}
