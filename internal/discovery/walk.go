package discovery

import (
	"bufio"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

var vcsDirs = map[string]bool{".git": true, ".hg": true, ".svn": true, ".bzr": true}

// Options controls the directory walk.
type Options struct {
	// IncludeHidden keeps dot files and dot directories. VCS metadata is always skipped.
	IncludeHidden bool
	// Exclude holds glob patterns matched against base names and slash-separated paths relative to the root.
	Exclude []string
}

// Walk lists every regular file below roots. A root that is a file is returned as is.
// The result is sorted and free of duplicates.
func Walk(fsys afero.Fs, roots []string, opts Options) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}

	for _, root := range roots {
		root = filepath.Clean(root)
		info, err := fsys.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %q: %w", root, err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		err = afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if path == root {
				return nil
			}
			rel, _ := filepath.Rel(root, path)
			if skip(info.Name(), filepath.ToSlash(rel), opts) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.Mode().IsRegular() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %q: %w", root, err)
		}
	}

	sort.Strings(out)
	return out, nil
}

func skip(name, rel string, opts Options) bool {
	if vcsDirs[name] {
		return true
	}
	if !opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	for _, pattern := range opts.Exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// ReadList reads a newline separated list of paths. Blank lines and lines starting with # are ignored.
func ReadList(fsys afero.Fs, path string) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input list %q: %w", path, err)
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input list %q: %w", path, err)
	}
	return out, nil
}
