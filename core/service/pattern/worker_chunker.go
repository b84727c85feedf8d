package pattern

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// ChunkOptions bounds how a long body is split for extraction.
type ChunkOptions struct {
	Threshold int // bodies at or below this many runes are not split
	MaxSize   int // maximum runes per chunk
	MaxChunks int
}

// DefaultChunkOptions matches the extraction defaults.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{Threshold: 4000, MaxSize: 2000, MaxChunks: 5}
}

// SplitChunks splits body into ordered chunks at paragraph boundaries, falling
// back to sentence boundaries for paragraphs that are too long on their own.
// At most MaxChunks chunks are returned; the tail beyond that is dropped.
func SplitChunks(body string, opts ChunkOptions) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if utf8.RuneCountInString(body) <= opts.Threshold || opts.MaxSize <= 0 {
		return []string{body}
	}

	var pieces []string
	for _, para := range paragraphBreak.Split(body, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= opts.MaxSize {
			pieces = append(pieces, para)
			continue
		}
		for _, sentence := range splitSentences(para) {
			pieces = append(pieces, hardSplit(sentence, opts.MaxSize)...)
		}
	}

	var (
		chunks  []string
		current strings.Builder
		curLen  int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			curLen = 0
		}
	}
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		sep := 0
		if curLen > 0 {
			sep = 2
		}
		if curLen+sep+n > opts.MaxSize {
			flush()
			sep = 0
		}
		if sep > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
		curLen += sep + n
		if opts.MaxChunks > 0 && len(chunks) >= opts.MaxChunks {
			break
		}
	}
	flush()

	if opts.MaxChunks > 0 && len(chunks) > opts.MaxChunks {
		chunks = chunks[:opts.MaxChunks]
	}
	return chunks
}

// splitSentences cuts after '.', '!' or '?' when followed by whitespace.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	rs := []rune(text)
	for i, r := range rs {
		if (r == '.' || r == '!' || r == '?') && i+1 < len(rs) && unicode.IsSpace(rs[i+1]) {
			if s := strings.TrimSpace(string(rs[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(rs[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func hardSplit(text string, size int) []string {
	rs := []rune(text)
	if len(rs) <= size {
		return []string{text}
	}
	var out []string
	for len(rs) > 0 {
		n := size
		if n > len(rs) {
			n = len(rs)
		}
		out = append(out, string(rs[:n]))
		rs = rs[n:]
	}
	return out
}

// TruncateRunes shortens text to at most max runes without splitting a rune.
func TruncateRunes(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	rs := []rune(text)
	return string(rs[:max]) + "..."
}
