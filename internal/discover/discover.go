// Package discover enumerates source documents under a data room folder.
package discover

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

// supportedExtensions lists the source formats the pipeline accepts.
var supportedExtensions = map[string]struct{}{
	".pdf":  {},
	".docx": {},
	".doc":  {},
	".xlsx": {},
	".xls":  {},
	".pptx": {},
	".ppt":  {},
	".txt":  {},
	".rtf":  {},
	".odt":  {},
}

func supported(name string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Scanner walks an input root and produces discovered document records.
type Scanner struct {
	root    string
	exclude string
	logger  *observability.Logger
}

// NewScanner creates a scanner over the given input root.
func NewScanner(root string, logger *observability.Logger) *Scanner {
	return &Scanner{
		root:   root,
		logger: logger.WithStage(string(domain.StageDiscover)),
	}
}

// Exclude skips the given directory subtree during the walk. Used to keep
// the pipeline's own output folder out of discovery when it lives inside
// the input root.
func (s *Scanner) Exclude(dir string) {
	s.exclude = filepath.Clean(dir)
}

// Discover walks the input root recursively and returns one record per
// supported file. Records are ordered by path and numbered doc_001 onward,
// so an unchanged folder always yields the same assignment.
func (s *Scanner) Discover(ctx context.Context) ([]*domain.DocumentRecord, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if s.exclude != "" && filepath.Clean(path) == s.exclude {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}
		if !supported(name) {
			s.logger.Debug().Str("file", path).Msg("skipping unsupported file")
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan input folder %s: %w", s.root, err)
	}

	sort.Strings(paths)

	records := make([]*domain.DocumentRecord, 0, len(paths))
	for _, path := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		sum, err := hashFile(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", path).Msg("cannot hash file, skipping")
			continue
		}
		rec := domain.NewDocumentRecord(domain.FormatDocID(len(records)+1), path, sum)
		records = append(records, rec)
	}

	s.logger.Info().Int("documents", len(records)).Str("root", s.root).Msg("discovery complete")
	return records, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
