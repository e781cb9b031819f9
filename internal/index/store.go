// Package index persists the data room index artifact and reconciles the
// index of a previous run with a fresh discovery.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

// IndexFileName is the index artifact's file name inside the output root.
const IndexFileName = "data_room_index.json"

// Store reads and writes the index file in the output root.
type Store struct {
	path   string
	logger *observability.Logger
}

// NewStore creates a store for <outputRoot>/data_room_index.json.
func NewStore(outputRoot string, logger *observability.Logger) *Store {
	return &Store{
		path:   filepath.Join(outputRoot, IndexFileName),
		logger: logger.WithStage(string(domain.StagePersist)),
	}
}

// Path returns the index file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether an index file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads and validates the index file. A missing file surfaces as
// fs.ErrNotExist so callers can treat it as a first run.
func (s *Store) Load() (*domain.DataRoomIndex, error) {
	return LoadFile(s.path)
}

// LoadFile reads and validates an index from an explicit path.
func LoadFile(path string) (*domain.DataRoomIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, domain.PersistenceError("read index file", err)
	}

	var ix domain.DataRoomIndex
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, domain.PersistenceError(fmt.Sprintf("index file %s is not valid JSON", path), err)
	}
	if err := ix.Validate(); err != nil {
		return nil, domain.PersistenceError(fmt.Sprintf("index file %s is inconsistent", path), err)
	}
	return &ix, nil
}

// Save atomically replaces the index file. The index is validated first,
// including that every artifact it references is actually on disk; an index
// pointing at missing files is never persisted. The write goes through a
// temp file in the same folder followed by a rename, so readers only ever
// see a complete index.
func (s *Store) Save(ix *domain.DataRoomIndex) error {
	ix.Metadata.TotalDocuments = len(ix.Documents)
	if err := ix.Validate(); err != nil {
		return domain.PersistenceError("index validation", err)
	}
	if err := artifactsExist(ix); err != nil {
		return domain.PersistenceError("artifact check", err)
	}

	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return domain.PersistenceError("encode index", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".index-*")
	if err != nil {
		return domain.PersistenceError("create temp index file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return domain.PersistenceError("write index", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return domain.PersistenceError("sync index", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.PersistenceError("close temp index file", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return domain.PersistenceError("set index permissions", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return domain.PersistenceError("move index into place", err)
	}

	s.logger.Debug().
		Str("path", s.path).
		Int("documents", len(ix.Documents)).
		Msg("index saved")
	return nil
}

// artifactsExist verifies every canonical PDF and page image the index
// references. Empty paths belong to records that have not reached the stage
// producing them and are skipped.
func artifactsExist(ix *domain.DataRoomIndex) error {
	for _, d := range ix.Documents {
		if d.PDFPath != "" {
			if _, err := os.Stat(d.PDFPath); err != nil {
				return fmt.Errorf("document %s: canonical pdf %s: %w", d.DocID, d.PDFPath, err)
			}
		}
		for _, p := range d.Pages {
			if p.ImagePath != "" {
				if _, err := os.Stat(p.ImagePath); err != nil {
					return fmt.Errorf("document %s page %d: image %s: %w", d.DocID, p.PageNum, p.ImagePath, err)
				}
			}
		}
	}
	return nil
}
