package streaming

import (
	"bytes"
	"unicode/utf8"

	"github.com/h2non/filetype"
)

// SniffSize is how many leading bytes are inspected to decide whether a file is binary.
const SniffSize = 8192

// binaryRatio is the share of invalid UTF-8 or control bytes above which content is treated as binary.
const binaryRatio = 0.3

// IsBinary reports whether the leading bytes of a file look like binary content: a NUL byte,
// too many invalid UTF-8 sequences and control bytes, or a known binary magic number backed by
// at least one such byte. Text that merely starts like a magic number ("MZ_API_KEY=") is text.
func IsBinary(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}

	// a multi-byte rune may be cut at the end of the sniffed window
	body := head
	if len(body) > utf8.UTFMax {
		body = body[:len(body)-utf8.UTFMax]
	}

	suspicious := countSuspicious(body)
	if suspicious > 0 && hasBinaryMagic(head) {
		return true
	}
	return float64(suspicious)/float64(len(body)) > binaryRatio
}

func hasBinaryMagic(head []byte) bool {
	return filetype.IsImage(head) || filetype.IsArchive(head) || filetype.IsDocument(head) ||
		filetype.IsVideo(head) || filetype.IsAudio(head) || filetype.IsFont(head) || filetype.IsApplication(head)
}

// countSuspicious counts invalid UTF-8 sequences and control bytes other than whitespace.
func countSuspicious(body []byte) int {
	n := 0
	for i := 0; i < len(body); {
		b := body[i]
		if b < utf8.RuneSelf {
			if b < 32 && b != '\t' && b != '\n' && b != '\r' && b != '\f' && b != '\v' {
				n++
			}
			i++
			continue
		}
		r, size := utf8.DecodeRune(body[i:])
		if r == utf8.RuneError && size == 1 {
			n++
		}
		i += size
	}
	return n
}
