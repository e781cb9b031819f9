package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

// Normalizer produces the canonical PDF artifact for each document under
// <output>/pdfs/<doc_id>.pdf. Naming by identifier keeps same-named source
// files from distinct folders apart.
type Normalizer struct {
	client  *SofficeClient
	pdfDir  string
	workDir string
	logger  *observability.Logger
}

// NewNormalizer creates the normalizer and its output folders under
// outputRoot. The scratch folder lives next to the canonical PDFs so the
// final rename never crosses a filesystem boundary.
func NewNormalizer(client *SofficeClient, outputRoot string, logger *observability.Logger) (*Normalizer, error) {
	pdfDir := filepath.Join(outputRoot, "pdfs")
	workDir := filepath.Join(pdfDir, ".work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pdf folder: %w", err)
	}
	return &Normalizer{
		client:  client,
		pdfDir:  pdfDir,
		workDir: workDir,
		logger:  logger.WithStage(string(domain.StageNormalize)),
	}, nil
}

// PDFDir returns the canonical PDF folder.
func (n *Normalizer) PDFDir() string {
	return n.pdfDir
}

// Normalize produces the canonical PDF for the record and advances it to
// normalized. PDF sources are copied byte for byte, never re-encoded; every
// other format goes through the external converter, with one retry when the
// converter was busy.
func (n *Normalizer) Normalize(ctx context.Context, rec *domain.DocumentRecord) error {
	target := filepath.Join(n.pdfDir, rec.DocID+".pdf")

	if strings.EqualFold(filepath.Ext(rec.OriginalPath), ".pdf") {
		if err := copyFile(rec.OriginalPath, target); err != nil {
			return domain.ConversionError("copy source pdf", err)
		}
	} else {
		if err := n.convert(ctx, rec, target); err != nil {
			return err
		}
	}

	rec.PDFPath = target
	if err := rec.Advance(domain.StatusNormalized); err != nil {
		return domain.ConversionError("advance record", err)
	}
	n.logger.Debug().Str("doc_id", rec.DocID).Str("pdf", target).Msg("canonical pdf ready")
	return nil
}

func (n *Normalizer) convert(ctx context.Context, rec *domain.DocumentRecord, target string) error {
	scratch, err := os.MkdirTemp(n.workDir, rec.DocID+"-")
	if err != nil {
		return domain.ConversionError("create scratch folder", err)
	}
	defer os.RemoveAll(scratch)

	profile := filepath.Join(scratch, "profile")
	if err := os.MkdirAll(profile, 0o755); err != nil {
		return domain.ConversionError("create profile folder", err)
	}

	produced, err := n.client.ConvertToPDF(ctx, rec.OriginalPath, scratch, profile)
	if err != nil && isBusy(err) {
		n.logger.Warn().Str("doc_id", rec.DocID).Err(err).Msg("converter busy, retrying once")
		produced, err = n.client.ConvertToPDF(ctx, rec.OriginalPath, scratch, profile)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.ConversionError(fmt.Sprintf("convert %s", filepath.Base(rec.OriginalPath)), err)
	}

	if err := os.Rename(produced, target); err != nil {
		return domain.ConversionError("move canonical pdf into place", err)
	}
	return nil
}

// copyFile copies src to dst through a temp file in the destination folder
// so a crash never leaves a half-written canonical PDF behind.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
