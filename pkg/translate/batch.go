package translate

import (
	"errors"
	"fmt"
)

// ErrInvalidChunkSize is returned by Plan when the maximum chunk size is not positive.
var ErrInvalidChunkSize = errors.New("chunk size must be at least 1")

// Chunk is a bounded, order-preserving group of fragments sent in one
// provider request. FragmentIDs and Texts are parallel.
type Chunk struct {
	FragmentIDs []int
	Texts       []string
}

// Len returns the number of fragments in the chunk.
func (c Chunk) Len() int {
	return len(c.FragmentIDs)
}

// Plan splits fragments into contiguous chunks of at most maxSize items.
// Order is preserved and only the last chunk may be smaller. An empty input
// yields no chunks.
func Plan(fragments []Fragment, maxSize int) ([]Chunk, error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("plan chunks: %w (got %d)", ErrInvalidChunkSize, maxSize)
	}
	if len(fragments) == 0 {
		return nil, nil
	}

	chunks := make([]Chunk, 0, (len(fragments)+maxSize-1)/maxSize)
	for start := 0; start < len(fragments); start += maxSize {
		end := min(start+maxSize, len(fragments))

		chunk := Chunk{
			FragmentIDs: make([]int, 0, end-start),
			Texts:       make([]string, 0, end-start),
		}
		for _, f := range fragments[start:end] {
			chunk.FragmentIDs = append(chunk.FragmentIDs, f.ID)
			chunk.Texts = append(chunk.Texts, f.OriginalText)
		}
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}
