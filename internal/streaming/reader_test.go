package streaming

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReader(t *testing.T, files map[string][]byte, opts Options) *Reader {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, data := range files {
		require.NoError(t, afero.WriteFile(fs, path, data, 0644))
	}
	return NewReader(hclog.NewNullLogger(), fs, opts)
}

func generated(lines int) []byte {
	var b strings.Builder
	for i := 1; i <= lines; i++ {
		switch {
		case i%97 == 0:
			fmt.Fprintf(&b, "token = \"secret-%d\"\n", i)
		case i%53 == 0:
			fmt.Fprintf(&b, "x := BEGIN\n")
		case i%53 == 1 && i > 1:
			fmt.Fprintf(&b, "END // closes %d\n", i-1)
		default:
			fmt.Fprintf(&b, "line %d with some filler text to make it longer\n", i)
		}
	}
	return []byte(b.String())
}

func TestOpenPicksSource(t *testing.T) {
	small := []byte("package main\n")
	big := generated(200)
	binary := append([]byte("\x7fELF\x02\x01\x01"), make([]byte, 64)...)
	withNul := []byte("abc\x00def")
	huge := bytes.Repeat([]byte("a\n"), 10000)

	r := newReader(t, map[string][]byte{
		"/small.go":  small,
		"/big.log":   big,
		"/app.bin":   binary,
		"/nul.txt":   withNul,
		"/huge.txt":  huge,
		"/empty.txt": {},
	}, Options{StreamingThreshold: 512, MaxFileSize: int64(len(big)), ChunkSize: 256, OverlapLines: 1})

	tests := []struct {
		path string
		want string
	}{
		{"/small.go", "buffered"},
		{"/empty.txt", "buffered"},
		{"/big.log", "chunked"},
		{"/app.bin", "binary"},
		{"/nul.txt", "binary"},
		{"/huge.txt", "too-large"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			src, err := r.Open(tt.path)
			require.NoError(t, err)
			switch s := src.(type) {
			case *Buffered:
				assert.Equal(t, tt.want, "buffered")
			case *Chunked:
				assert.Equal(t, tt.want, "chunked")
				s.Close()
			case *Skipped:
				assert.Equal(t, tt.want, string(s.Reason))
			}
		})
	}

	_, err := r.Open("/missing.go")
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	data := generated(200)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/f.txt", data, 0644))
	info, err := fs.Stat("/f.txt")
	require.NoError(t, err)
	want := plumbing.ComputeHash(plumbing.BlobObject, data).String()

	tests := []struct {
		name      string
		threshold int64
	}{
		{name: "buffered", threshold: 1 << 20},
		{name: "chunked", threshold: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(hclog.NewNullLogger(), fs, Options{StreamingThreshold: tt.threshold, ChunkSize: 256, OverlapLines: 1})
			src, err := r.Open("/f.txt")
			require.NoError(t, err)

			var snap Snapshot
			var ok bool
			switch s := src.(type) {
			case *Buffered:
				snap, ok = s.Snapshot()
			case *Chunked:
				defer s.Close()
				_, ok = s.Snapshot()
				assert.False(t, ok, "not complete before the file is read")
				_, err := ReadAll(context.Background(), s)
				require.NoError(t, err)
				snap, ok = s.Snapshot()
			}
			require.True(t, ok)
			assert.Equal(t, want, snap.ContentHash)
			assert.Equal(t, info.Size(), snap.Size)
			assert.True(t, info.ModTime().Equal(snap.ModTime))
		})
	}
}

func TestSnapshotOfInterruptedRead(t *testing.T) {
	r := newReader(t, map[string][]byte{"/f.txt": generated(500)}, Options{StreamingThreshold: 1, ChunkSize: 256, OverlapLines: 1})
	src, err := r.Open("/f.txt")
	require.NoError(t, err)
	chunks := src.(*Chunked)
	defer chunks.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, ok := chunks.Next(ctx)
	require.True(t, ok)
	cancel()
	_, ok = chunks.Next(ctx)
	require.False(t, ok)

	_, ok = chunks.Snapshot()
	assert.False(t, ok)
}

func TestChunkedReassemblesFile(t *testing.T) {
	data := generated(500)
	for _, overlap := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("overlap %d", overlap), func(t *testing.T) {
			r := newReader(t, map[string][]byte{"/f.txt": data}, Options{StreamingThreshold: 1, ChunkSize: 300, OverlapLines: overlap})
			src, err := r.Open("/f.txt")
			require.NoError(t, err)
			defer src.(*Chunked).Close()

			got, err := ReadAll(context.Background(), src)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestChunkLineNumbers(t *testing.T) {
	data := generated(300)
	lines := strings.SplitAfter(string(data), "\n")

	r := newReader(t, map[string][]byte{"/f.txt": data}, Options{StreamingThreshold: 1, ChunkSize: 512, OverlapLines: 2})
	src, err := r.Open("/f.txt")
	require.NoError(t, err)
	chunks := src.(*Chunked)
	defer chunks.Close()

	count := 0
	for {
		chunk, ok := chunks.Next(context.Background())
		if !ok {
			break
		}
		assert.Equal(t, count, chunk.Index)
		first := strings.SplitAfter(string(chunk.Data), "\n")[0]
		assert.Equal(t, lines[chunk.StartLine-1], first, "chunk %d", chunk.Index)
		assert.Equal(t, string(data[chunk.Offset:chunk.Offset+int64(len(chunk.Data))]), string(chunk.Data))
		count++
	}
	require.NoError(t, chunks.Err())
	assert.Greater(t, count, 3)
}

var (
	tokenRe    = regexp.MustCompile(`token = "secret-\d+"`)
	spanningRe = regexp.MustCompile(`BEGIN\nEND`)
)

// lineNumbers returns the file lines where re matches, given the line of data[0].
func lineNumbers(data []byte, re *regexp.Regexp, startLine int) map[int]bool {
	found := map[int]bool{}
	for _, loc := range re.FindAllIndex(data, -1) {
		found[startLine+bytes.Count(data[:loc[0]], []byte{'\n'})] = true
	}
	return found
}

func TestStreamingEquivalence(t *testing.T) {
	data := generated(2000)

	for _, re := range []*regexp.Regexp{tokenRe, spanningRe} {
		t.Run(re.String(), func(t *testing.T) {
			want := lineNumbers(data, re, 1)
			require.NotEmpty(t, want)

			r := newReader(t, map[string][]byte{"/f.txt": data}, Options{StreamingThreshold: 1, ChunkSize: 1024, OverlapLines: 1})
			src, err := r.Open("/f.txt")
			require.NoError(t, err)
			chunks := src.(*Chunked)
			defer chunks.Close()

			got := map[int]bool{}
			for {
				chunk, ok := chunks.Next(context.Background())
				if !ok {
					break
				}
				for line := range lineNumbers(chunk.Data, re, chunk.StartLine) {
					got[line] = true
				}
			}
			require.NoError(t, chunks.Err())
			assert.Equal(t, want, got)
		})
	}
}

func TestChunkGrowsForLongLines(t *testing.T) {
	long := strings.Repeat("x", 5000)
	data := []byte("short\n" + long + "\ntail")

	r := newReader(t, map[string][]byte{"/f.txt": data}, Options{StreamingThreshold: 1, ChunkSize: 256, OverlapLines: 1})
	src, err := r.Open("/f.txt")
	require.NoError(t, err)
	chunks := src.(*Chunked)
	defer chunks.Close()

	var sawLong bool
	for {
		chunk, ok := chunks.Next(context.Background())
		if !ok {
			break
		}
		if strings.Contains(string(chunk.Data), long+"\n") {
			sawLong = true
		}
	}
	assert.True(t, sawLong, "the long line must be delivered whole")
}

func TestChunkedStopsOnCancel(t *testing.T) {
	r := newReader(t, map[string][]byte{"/f.txt": generated(500)}, Options{StreamingThreshold: 1, ChunkSize: 256, OverlapLines: 1})
	src, err := r.Open("/f.txt")
	require.NoError(t, err)
	chunks := src.(*Chunked)
	defer chunks.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, ok := chunks.Next(ctx)
	require.True(t, ok)

	cancel()
	_, ok = chunks.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, chunks.Err(), context.Canceled)
}

func TestIsBinary(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want bool
	}{
		{"empty", nil, false},
		{"ascii source", []byte("func main() {\n\tprintln(\"hi\")\n}\n"), false},
		{"utf-8 text", []byte("naïve café – résumé 日本語\n"), false},
		{"nul byte", []byte("abc\x00def"), true},
		{"png magic", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), true},
		{"elf magic", append([]byte("\x7fELF\x02\x01\x01"), make([]byte, 16)...), true},
		{"gif magic with one control byte", append([]byte("GIF89a\x01"), bytes.Repeat([]byte("a"), 40)...), true},
		{"text starting like an exe", []byte("MZ_API_KEY = \"abcdefghijkl\"\n"), false},
		{"text starting like mp3", []byte("ID3_SECRET=s3cr3t-value\nOTHER=1\n"), false},
		{"text starting like bzip2", []byte("BZh_TOKEN = \"ghp_abcdefghijklmnop\"\n"), false},
		{"postscript-like header", []byte("%!PS-like header with a password: hunter2\n"), false},
		{"rtf text", []byte("{\\rtf1 text with api_key=abcdef}\n"), false},
		{"random high bytes", bytes.Repeat([]byte{0xff, 0xfe, 0x80, 'a'}, 100), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBinary(tt.head))
		})
	}
}
