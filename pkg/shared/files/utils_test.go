package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetermineFileFullPath(t *testing.T) {
	tmpDir := t.TempDir()
	existing := filepath.Join(tmpDir, "data.json")
	require.NoError(t, os.WriteFile(existing, []byte("test"), 0644))

	tests := []struct {
		name         string
		inputPath    string
		nameTemplate string
		expectFile   string
		expectFolder string
	}{
		{"directory path with name template", tmpDir, "output.json", filepath.Join(tmpDir, "output.json"), tmpDir},
		{"existing file", existing, "ignored.txt", existing, tmpDir},
		{"no extension is a folder", filepath.Join(tmpDir, "out"), "report.sarif", filepath.Join(tmpDir, "out", "report.sarif"), filepath.Join(tmpDir, "out")},
		{"non-existent file with extension", filepath.Join(tmpDir, "new.yaml"), "ignored.txt", filepath.Join(tmpDir, "new.yaml"), tmpDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, folder, err := DetermineFileFullPath(tt.inputPath, tt.nameTemplate)
			require.NoError(t, err)
			assert.Equal(t, tt.expectFile, file)
			assert.Equal(t, tt.expectFolder, folder)
		})
	}
}

func TestCanonicalPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(target, []byte("package a"), 0644))

	want, err := CanonicalPath(target)
	require.NoError(t, err)

	got, err := CanonicalPath(filepath.Join(dir, "sub", "..", "a.go"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	link := filepath.Join(dir, "link.go")
	if err := os.Symlink(target, link); err == nil {
		viaLink, err := CanonicalPath(link)
		require.NoError(t, err)
		assert.Equal(t, want, viaLink)
	}
}

func TestWriteFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, WriteFile(out, []byte("long content")))
	require.NoError(t, WriteFile(out, []byte("{}")))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
