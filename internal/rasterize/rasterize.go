// Package rasterize renders canonical PDFs into per-page images.
package rasterize

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

// Rasterizer renders each page of a canonical PDF to
// <output>/pages/<doc_id>/page_NNN.png.
type Rasterizer struct {
	pagesDir string
	dpi      int
	logger   *observability.Logger
}

// NewRasterizer creates the rasterizer and its output folder under outputRoot.
func NewRasterizer(outputRoot string, dpi int, logger *observability.Logger) (*Rasterizer, error) {
	pagesDir := filepath.Join(outputRoot, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pages folder: %w", err)
	}
	return &Rasterizer{
		pagesDir: pagesDir,
		dpi:      dpi,
		logger:   logger.WithStage(string(domain.StageRasterize)),
	}, nil
}

// PagesDir returns the page image root folder.
func (r *Rasterizer) PagesDir() string {
	return r.pagesDir
}

// Rasterize renders every page of the record's canonical PDF and advances the
// record to rasterized. A page that fails to render keeps its slot with the
// error recorded while later pages continue; only a document whose PDF is
// unreadable, or where no page at all rendered, fails as a whole. Images left
// on disk by an interrupted run are reused rather than re-rendered.
func (r *Rasterizer) Rasterize(ctx context.Context, rec *domain.DocumentRecord) error {
	// Structural pre-flight: a canonical PDF the parser rejects outright is
	// a document failure, not a per-page one.
	pageCount, err := api.PageCountFile(rec.PDFPath)
	if err != nil {
		return domain.RasterizationError("canonical pdf is unreadable", err)
	}
	if pageCount == 0 {
		return domain.RasterizationError("canonical pdf has no pages", nil)
	}

	doc, err := fitz.New(rec.PDFPath)
	if err != nil {
		return domain.RasterizationError("open canonical pdf", err)
	}
	defer doc.Close()

	if n := doc.NumPage(); n != pageCount {
		r.logger.Debug().
			Str("doc_id", rec.DocID).
			Int("pdfcpu_pages", pageCount).
			Int("fitz_pages", n).
			Msg("page count disagreement, trusting renderer")
		pageCount = n
	}

	dir := filepath.Join(r.pagesDir, rec.DocID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.RasterizationError("create page folder", err)
	}

	pages := make([]*domain.PageRecord, 0, pageCount)
	rendered := 0
	for i := 0; i < pageCount; i++ {
		select {
		case <-ctx.Done():
			rec.Pages = pages
			return ctx.Err()
		default:
		}

		page := &domain.PageRecord{PageNum: i + 1}
		path := filepath.Join(dir, fmt.Sprintf("page_%03d.png", i+1))

		if _, statErr := os.Stat(path); statErr == nil {
			// The image content is a pure function of pdf and dpi, so a file
			// left by an earlier run is as good as a fresh render.
			page.ImagePath = path
			pages = append(pages, page)
			rendered++
			continue
		}

		img, err := doc.ImageDPI(i, float64(r.dpi))
		if err != nil {
			r.logger.Warn().Str("doc_id", rec.DocID).Int("page", i+1).Err(err).Msg("page render failed")
			page.Error = fmt.Sprintf("render: %v", err)
			pages = append(pages, page)
			continue
		}

		if err := writePNG(path, img); err != nil {
			r.logger.Warn().Str("doc_id", rec.DocID).Int("page", i+1).Err(err).Msg("page image write failed")
			page.Error = fmt.Sprintf("write image: %v", err)
			pages = append(pages, page)
			continue
		}

		page.ImagePath = path
		pages = append(pages, page)
		rendered++
	}

	rec.Pages = pages
	if rendered == 0 {
		return domain.RasterizationError(fmt.Sprintf("no pages could be rendered (%d attempted)", pageCount), nil)
	}
	if err := rec.Advance(domain.StatusRasterized); err != nil {
		return domain.RasterizationError("advance record", err)
	}
	r.logger.Debug().
		Str("doc_id", rec.DocID).
		Int("pages", pageCount).
		Int("rendered", rendered).
		Msg("document rasterized")
	return nil
}

// writePNG encodes through a temp file plus rename so an interrupted run never
// leaves a truncated image that a resume would mistake for a complete one.
func writePNG(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".page-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
