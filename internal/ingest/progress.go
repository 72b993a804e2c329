package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

const ProgressVersion = 1

// DocumentProgress records the revision of a document that is in the index.
type DocumentProgress struct {
	SourceHash     string    `json:"source_hash"`
	Chunks         int       `json:"chunks"`
	ChunkerVersion string    `json:"chunker_version"`
	EmbedderModel  string    `json:"embedder_model,omitempty"`
	IndexedAt      time.Time `json:"indexed_at"`
}

// Progress is the ingestion state persisted between runs.
type Progress struct {
	Version   int                         `json:"version"`
	Documents map[string]DocumentProgress `json:"documents"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// IsIndexed reports whether documentID was ingested with the given hash.
func (p Progress) IsIndexed(documentID, sourceHash string) bool {
	d, ok := p.Documents[documentID]
	return ok && d.SourceHash == sourceHash
}

// TotalChunks sums the chunks of every recorded document.
func (p Progress) TotalChunks() int {
	total := 0
	for _, d := range p.Documents {
		total += d.Chunks
	}
	return total
}

func emptyProgress() Progress {
	return Progress{Version: ProgressVersion, Documents: map[string]DocumentProgress{}}
}

// ProgressManager handles progress persistence with atomic writes and file locking.
type ProgressManager struct {
	filePath string
	lockFile *os.File
}

func NewProgressManager(filePath string) *ProgressManager {
	return &ProgressManager{filePath: filePath}
}

// Lock acquires an exclusive lock on the progress file.
// Returns an error if another ingest run holds it.
func (m *ProgressManager) Lock() error {
	lockPath := m.filePath + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("progress file is locked by another ingest run")
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	m.lockFile = f
	return nil
}

// Unlock releases the lock and removes the lock file.
func (m *ProgressManager) Unlock() error {
	if m.lockFile == nil {
		return nil
	}
	if err := syscall.Flock(int(m.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if err := m.lockFile.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	m.lockFile = nil
	_ = os.Remove(m.filePath + ".lock")
	return nil
}

// Load reads progress from disk. A missing or empty file yields empty progress.
func (m *ProgressManager) Load() (Progress, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyProgress(), nil
		}
		return Progress{}, fmt.Errorf("read progress file: %w", err)
	}
	if len(data) == 0 {
		return emptyProgress(), nil
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, fmt.Errorf("parse progress file: %w", err)
	}
	if p.Version == 0 {
		p.Version = ProgressVersion
	}
	if p.Documents == nil {
		p.Documents = map[string]DocumentProgress{}
	}
	return p, nil
}

// Save writes progress via write-to-temp-then-rename.
func (m *ProgressManager) Save(p Progress) error {
	p.Version = ProgressVersion
	p.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	tmpPath := m.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp progress file: %w", err)
	}
	if err := os.Rename(tmpPath, m.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename progress file: %w", err)
	}
	return nil
}

// Reset removes the progress file so the next run re-ingests everything.
func (m *ProgressManager) Reset() error {
	if err := os.Remove(m.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove progress file: %w", err)
	}
	return nil
}

func (m *ProgressManager) FilePath() string {
	return m.filePath
}
