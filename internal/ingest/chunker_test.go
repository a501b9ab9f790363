package ingest

import (
	"strings"
	"testing"
)

func TestChunkEmpty(t *testing.T) {
	c := NewChunker(8, 2)
	if got := c.Chunk(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
	if got := c.Chunk("   \n\t  "); got != nil {
		t.Errorf("expected nil for whitespace input, got %v", got)
	}
}

func TestChunkShorterThanWindow(t *testing.T) {
	c := NewChunker(100, 10)
	chunks := c.Chunk("just a few words")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "just a few words" {
		t.Errorf("unexpected chunk: %q", chunks[0])
	}
}

func TestChunkOverlap(t *testing.T) {
	words := make([]string, 20)
	for i := range words {
		words[i] = string(rune('a' + i))
	}
	c := NewChunker(8, 2)
	chunks := c.Chunk(strings.Join(words, " "))

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
	// Each chunk starts 6 words after the previous one, so the last 2 words
	// of one chunk open the next.
	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	if first[6] != second[0] || first[7] != second[1] {
		t.Errorf("chunks do not overlap: %v / %v", chunks[0], chunks[1])
	}
	last := strings.Fields(chunks[2])
	if last[len(last)-1] != words[19] {
		t.Errorf("last chunk does not end with last word: %q", chunks[2])
	}
}

func TestChunkZeroStepGuard(t *testing.T) {
	// Overlap >= size must still make progress.
	c := NewChunker(2, 2)
	chunks := c.Chunk("one two three four")
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if len(chunks) > 4 {
		t.Errorf("too many chunks: %d", len(chunks))
	}
}
