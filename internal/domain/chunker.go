package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChunkerVersion defines the version of the chunking algorithm.
// Stored next to indexed chunks so a corpus built by an older algorithm can be detected.
type ChunkerVersion string

const (
	// ChunkerVersionRecursiveV1 normalizes whitespace, splits paragraphs, then
	// packs sentences and words up to the chunk size and merges short pieces.
	ChunkerVersionRecursiveV1 ChunkerVersion = "recursive-v1"
)

const (
	// DefaultChunkSize is the target maximum chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultMinChunkSize is the length below which a chunk is merged with a neighbour when it fits.
	DefaultMinChunkSize = 100
)

// ChunkMetadata locates a chunk inside the normalized document.
// StartIndex and EndIndex are rune offsets, EndIndex exclusive.
// TokenCount uses a character tokenizer, so it equals the rune length.
type ChunkMetadata struct {
	StartIndex int `json:"startIndex"`
	EndIndex   int `json:"endIndex"`
	TokenCount int `json:"tokenCount"`
}

// Chunk represents a single piece of a document.
type Chunk struct {
	Ordinal  int    // Sequence number (0-indexed)
	Text     string // normalized[StartIndex:EndIndex]
	Metadata ChunkMetadata
	Hash     string // SHA-256 of Text
}

// Chunker defines the interface for splitting text into chunks.
type Chunker interface {
	Chunk(text string) ([]Chunk, error)
	Version() ChunkerVersion
}

// ChunkerConfig bounds the size of produced chunks.
type ChunkerConfig struct {
	ChunkSize    int
	MinChunkSize int
}

// DefaultChunkerConfig returns the bounds used by the ingestion pipeline.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:    DefaultChunkSize,
		MinChunkSize: DefaultMinChunkSize,
	}
}

// Validate ensures the bounds describe a non-empty range.
func (c ChunkerConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.MinChunkSize < 0 {
		return fmt.Errorf("min chunk size must be non-negative, got %d", c.MinChunkSize)
	}
	if c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("min chunk size (%d) must not exceed chunk size (%d)", c.MinChunkSize, c.ChunkSize)
	}
	return nil
}

type recursiveChunker struct {
	cfg ChunkerConfig
}

// NewChunker creates a recursive chunker with the default bounds.
func NewChunker() Chunker {
	return &recursiveChunker{cfg: DefaultChunkerConfig()}
}

// NewRecursiveChunker creates a recursive chunker with custom bounds.
func NewRecursiveChunker(cfg ChunkerConfig) (Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}
	return &recursiveChunker{cfg: cfg}, nil
}

func (c *recursiveChunker) Version() ChunkerVersion {
	return ChunkerVersionRecursiveV1
}

// Chunk normalizes text and cuts it into bounded chunks.
// Empty or whitespace-only input yields no chunks.
func (c *recursiveChunker) Chunk(text string) ([]Chunk, error) {
	return ChunkNormalized(NormalizeText(text), c.cfg), nil
}

// ChunkNormalized cuts already normalized text. Paragraphs longer than the
// chunk size are split at sentence, then word boundaries; a word longer than
// the chunk size stays a single oversized chunk.
func ChunkNormalized(normalized string, cfg ChunkerConfig) []Chunk {
	runes := []rune(normalized)
	if len(runes) == 0 {
		return nil
	}

	var spans []span
	for _, para := range paragraphSpans(runes) {
		spans = append(spans, splitLongSpan(runes, para, cfg.ChunkSize)...)
	}
	spans = mergeShortSpans(spans, cfg.MinChunkSize, cfg.ChunkSize)

	chunks := make([]Chunk, 0, len(spans))
	for i, s := range spans {
		content := string(runes[s.start:s.end])
		hashBytes := sha256.Sum256([]byte(content))

		chunks = append(chunks, Chunk{
			Ordinal: i,
			Text:    content,
			Metadata: ChunkMetadata{
				StartIndex: s.start,
				EndIndex:   s.end,
				TokenCount: s.len(),
			},
			Hash: hex.EncodeToString(hashBytes[:]),
		})
	}

	return chunks
}
