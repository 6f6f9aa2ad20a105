package chunking

import "strings"

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Splitter cuts text into fixed-size rune windows. Consecutive windows share
// Overlap runes; a new window starts every ChunkSize-Overlap runes for as long
// as the start lies inside the text, so the tail is covered more than once.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	chunkSize, overlap = windowBounds(chunkSize, overlap)
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func windowBounds(chunkSize, overlap int) (int, int) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return chunkSize, overlap
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	// Hand-built splitters get the same bounds as NewSplitter.
	size, overlap := windowBounds(s.ChunkSize, s.Overlap)
	step := size - overlap

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}
