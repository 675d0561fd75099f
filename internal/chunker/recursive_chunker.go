package chunker

import (
	"strconv"
	"strings"

	"afpbot/internal/domain"
)

// Defaults mirror the corpus ingestion settings.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// defaultSeparators are tried in order: paragraph, line, word.
// When none fits, the window is cut at an arbitrary character.
var defaultSeparators = []string{"\n\n", "\n", " "}

// RecursiveChunker splits text into character windows of at most chunkSize runes.
// Consecutive windows share exactly overlap runes, and each window ends just after
// the coarsest separator that fits, so paragraphs and lines stay intact where possible.
type RecursiveChunker struct {
	chunkSize  int
	overlap    int
	separators [][]rune
}

func NewRecursiveChunker(chunkSize, overlap int) *RecursiveChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	seps := make([][]rune, len(defaultSeparators))
	for i, s := range defaultSeparators {
		seps[i] = []rune(s)
	}
	return &RecursiveChunker{chunkSize: chunkSize, overlap: overlap, separators: seps}
}

// ChunkSize returns the maximum chunk length in runes.
func (c *RecursiveChunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *RecursiveChunker) Overlap() int { return c.overlap }

func (c *RecursiveChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	if strings.TrimSpace(document.Content) == "" {
		return nil, nil
	}
	text := []rune(document.Content)
	var chunks []domain.Chunk
	start := 0
	for idx := 0; ; idx++ {
		end := c.breakPoint(text, start)
		chunks = append(chunks, domain.Chunk{
			ID:         document.ID + ":" + strconv.Itoa(idx),
			DocumentID: document.ID,
			Content:    string(text[start:end]),
			Position:   idx,
			Metadata:   copyMetadata(document.Metadata),
		})
		if end == len(text) {
			break
		}
		start = end - c.overlap
	}
	return chunks, nil
}

// breakPoint picks the end of the window starting at start. The end always lies
// beyond start+overlap so the next window makes progress.
func (c *RecursiveChunker) breakPoint(text []rune, start int) int {
	limit := start + c.chunkSize
	if limit >= len(text) {
		return len(text)
	}
	floor := start + c.overlap
	for _, sep := range c.separators {
		if end := lastSeparatorEnd(text, start, floor, limit, sep); end > 0 {
			return end
		}
	}
	return limit
}

// lastSeparatorEnd returns the position just past the last sep found inside
// text[start:limit] whose end lies after floor, or -1.
func lastSeparatorEnd(text []rune, start, floor, limit int, sep []rune) int {
	for i := limit - len(sep); i >= start; i-- {
		end := i + len(sep)
		if end <= floor {
			break
		}
		if runesEqual(text[i:end], sep) {
			return end
		}
	}
	return -1
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
