// Package dataroom provides read access to a built index for downstream
// analysis tools. It never mutates the index; building and updating belong
// to the pipeline.
package dataroom

import (
	"errors"
	"fmt"
	"strings"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/index"
)

// Re-export index types for the public API
type (
	Index          = domain.DataRoomIndex
	DocumentRecord = domain.DocumentRecord
	PageRecord     = domain.PageRecord
	Metadata       = domain.Metadata
	Status         = domain.Status
)

// Status constants
const (
	StatusDiscovered = domain.StatusDiscovered
	StatusNormalized = domain.StatusNormalized
	StatusRasterized = domain.StatusRasterized
	StatusSummarized = domain.StatusSummarized
	StatusFailed     = domain.StatusFailed
)

// ErrDocumentNotFound reports a doc_id the index does not contain.
var ErrDocumentNotFound = errors.New("document not found")

// noSummary substitutes for pages that never got a summary, so combined
// views keep every page visible instead of silently dropping some.
const noSummary = "(no summary available)"

// DataRoom wraps an index for querying.
type DataRoom struct {
	ix   *Index
	byID map[string]*DocumentRecord
}

// New wraps an already loaded index.
func New(ix *Index) *DataRoom {
	byID := make(map[string]*DocumentRecord, len(ix.Documents))
	for _, rec := range ix.Documents {
		byID[rec.DocID] = rec
	}
	return &DataRoom{ix: ix, byID: byID}
}

// Open loads and validates the index file at path.
func Open(path string) (*DataRoom, error) {
	ix, err := index.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(ix), nil
}

// Metadata returns the build metadata of the underlying index.
func (d *DataRoom) Metadata() Metadata {
	return d.ix.Metadata
}

// DocumentOverview is one row of the data room's table of contents.
type DocumentOverview struct {
	DocID        string `json:"doc_id"`
	OriginalFile string `json:"original_file"`
	Status       string `json:"status"`
	Summary      string `json:"summary,omitempty"`
	PageCount    int    `json:"page_count"`
}

// ListDocuments returns an overview of every document in index order.
func (d *DataRoom) ListDocuments() []DocumentOverview {
	out := make([]DocumentOverview, 0, len(d.ix.Documents))
	for _, rec := range d.ix.Documents {
		ov := DocumentOverview{
			DocID:        rec.DocID,
			OriginalFile: rec.OriginalPath,
			Status:       string(rec.Status),
			PageCount:    len(rec.Pages),
		}
		if rec.Summary != nil {
			ov.Summary = *rec.Summary
		}
		out = append(out, ov)
	}
	return out
}

// Document returns the full record for one document.
func (d *DataRoom) Document(docID string) (*DocumentRecord, error) {
	rec, ok := d.byID[docID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", docID, ErrDocumentNotFound)
	}
	return rec, nil
}

// PageSummaries returns the page-by-page view of one document as a single
// text, each page labeled "Page N:". Pages without a summary appear with a
// placeholder rather than vanishing.
func (d *DataRoom) PageSummaries(docID string) (string, error) {
	rec, err := d.Document(docID)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(rec.Pages))
	for _, page := range rec.Pages {
		text := noSummary
		if page.Summary != nil {
			text = *page.Summary
		}
		parts = append(parts, fmt.Sprintf("Page %d: %s", page.PageNum, text))
	}
	return strings.Join(parts, "\n\n"), nil
}

// PageResult is one requested page: its image path and summary, or an error
// entry when the document has no such page.
type PageResult struct {
	PageNum   int    `json:"page_num"`
	ImagePath string `json:"page_image,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Pages returns the requested pages of one document. Unknown page numbers
// produce per-entry errors while the rest of the request still succeeds; an
// unknown document is an error.
func (d *DataRoom) Pages(docID string, pageNums []int) ([]PageResult, error) {
	rec, err := d.Document(docID)
	if err != nil {
		return nil, err
	}

	out := make([]PageResult, 0, len(pageNums))
	for _, num := range pageNums {
		page := rec.Page(num)
		if page == nil {
			out = append(out, PageResult{
				PageNum: num,
				Error:   fmt.Sprintf("page %d not found in document %s", num, docID),
			})
			continue
		}
		res := PageResult{PageNum: num, ImagePath: page.ImagePath}
		if page.Summary != nil {
			res.Summary = *page.Summary
		} else if page.Error != "" {
			res.Error = page.Error
		}
		out = append(out, res)
	}
	return out, nil
}
