package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SourceHashPolicy computes a stable hash for a corpus document.
// Same document id and same normalized body give the same hash, so
// whitespace-only edits do not trigger re-ingestion.
type SourceHashPolicy interface {
	Compute(documentID, body string) string
}

type sourceHashPolicy struct{}

// NewSourceHashPolicy creates a new instance of the default SourceHashPolicy.
func NewSourceHashPolicy() SourceHashPolicy {
	return &sourceHashPolicy{}
}

func (p *sourceHashPolicy) Compute(documentID, body string) string {
	content := strings.TrimSpace(documentID) + "\x00" + NormalizeText(body)
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
