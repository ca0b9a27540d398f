package discovery

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
)

// Changed lists the files of the repository containing path that are modified, added, renamed or
// untracked, staged or not. Deleted files are left out. Paths are absolute and sorted.
func Changed(path string) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %q: %w", path, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}

	root := wt.Filesystem.Root()
	var out []string
	for file, s := range status {
		if s.Worktree == git.Deleted || (s.Staging == git.Deleted && s.Worktree != git.Untracked) {
			continue
		}
		if s.Worktree == git.Unmodified && s.Staging == git.Unmodified {
			continue
		}
		out = append(out, filepath.Join(root, filepath.FromSlash(file)))
	}
	sort.Strings(out)
	return out, nil
}
