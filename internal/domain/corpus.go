package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace scopes deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c3b9e-2a4d-5e8f-9b0a-7c6d5e4f3a21")

// CorpusChunk is an indexed, immutable unit of the knowledge corpus.
type CorpusChunk struct {
	ID         uuid.UUID
	DocumentID string
	Source     string
	Ordinal    int
	Text       string
	Metadata   ChunkMetadata
	Embedding  []float32
}

// ChunkID derives a stable id from the owning document and the chunk
// content, so re-ingesting identical text upserts the same rows.
func ChunkID(documentID string, chunk Chunk) uuid.UUID {
	name := documentID + "\x00" + strconv.Itoa(chunk.Ordinal) + "\x00" + chunk.Hash
	return uuid.NewSHA1(chunkNamespace, []byte(name))
}

// NewCorpusChunks attaches document identity to chunker output.
func NewCorpusChunks(documentID, source string, chunks []Chunk) []CorpusChunk {
	out := make([]CorpusChunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, CorpusChunk{
			ID:         ChunkID(documentID, c),
			DocumentID: documentID,
			Source:     source,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Metadata:   c.Metadata,
		})
	}
	return out
}
