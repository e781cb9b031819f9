package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status tracks a document's forward progression through the pipeline.
type Status string

const (
	StatusDiscovered Status = "discovered"
	StatusNormalized Status = "normalized"
	StatusRasterized Status = "rasterized"
	StatusSummarized Status = "summarized"
	StatusFailed     Status = "failed"
)

// statusRank orders the forward progression. StatusFailed is terminal
// within a run and is handled separately.
var statusRank = map[Status]int{
	StatusDiscovered: 1,
	StatusNormalized: 2,
	StatusRasterized: 3,
	StatusSummarized: 4,
}

// Stage identifies the pipeline stage that produced a failure.
type Stage string

const (
	StageDiscover  Stage = "discover"
	StageNormalize Stage = "normalize"
	StageRasterize Stage = "rasterize"
	StageSummarize Stage = "summarize"
	StagePersist   Stage = "persist"
	StageConfig    Stage = "config"
)

// FormatDocID renders a document sequence number as a zero-padded identifier,
// e.g. seq 7 -> "doc_007". Widths grow past 999 without collision.
func FormatDocID(seq int) string {
	return fmt.Sprintf("doc_%03d", seq)
}

// DocIDSeq parses the sequence number back out of a document identifier.
func DocIDSeq(docID string) (int, bool) {
	var seq int
	if _, err := fmt.Sscanf(docID, "doc_%d", &seq); err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// PageRecord describes a single page of a canonical PDF: its rendered image
// and, once summarization has run, its summary. Summary stays null until a
// summary is produced; Error carries the reason when rendering or
// summarization failed for this page.
type PageRecord struct {
	PageNum   int     `json:"page_num"`
	Summary   *string `json:"summary"`
	ImagePath string  `json:"page_image,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Summarized reports whether this page carries a completed summary.
func (p *PageRecord) Summarized() bool {
	return p.Summary != nil
}

// SetSummary records the page summary. A summary is written exactly once;
// attempting to replace one is an error.
func (p *PageRecord) SetSummary(text string) error {
	if p.Summary != nil {
		return fmt.Errorf("page %d: summary already set", p.PageNum)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("page %d: empty summary", p.PageNum)
	}
	p.Summary = &text
	p.Error = ""
	return nil
}

// MarkFailed records a page-level failure (render or summarization).
// A page with a completed summary cannot be failed afterwards.
func (p *PageRecord) MarkFailed(reason string) error {
	if p.Summary != nil {
		return fmt.Errorf("page %d: already summarized", p.PageNum)
	}
	p.Error = reason
	return nil
}

// DocumentRecord is the unit of work flowing through the pipeline: one
// source file, its canonical PDF, its page images and summaries.
type DocumentRecord struct {
	DocID         string        `json:"doc_id"`
	OriginalPath  string        `json:"original_file"`
	SHA256        string        `json:"sha256,omitempty"`
	PDFPath       string        `json:"pdf_file,omitempty"`
	Status        Status        `json:"status"`
	FailedStage   Stage         `json:"failed_stage,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Summary       *string       `json:"summary"`
	SummaryError  string        `json:"summary_error,omitempty"`
	Pages         []*PageRecord `json:"pages"`
}

// NewDocumentRecord creates a freshly discovered record.
func NewDocumentRecord(docID, originalPath, sha256 string) *DocumentRecord {
	return &DocumentRecord{
		DocID:        docID,
		OriginalPath: originalPath,
		SHA256:       sha256,
		Status:       StatusDiscovered,
		Pages:        []*PageRecord{},
	}
}

// Advance moves the record to the next status. Progression is strictly
// forward, one stage at a time; failed records stay failed until Reopen.
func (d *DocumentRecord) Advance(next Status) error {
	if d.Status == StatusFailed {
		return fmt.Errorf("document %s failed at %s, cannot advance to %s", d.DocID, d.FailedStage, next)
	}
	if statusRank[next] != statusRank[d.Status]+1 {
		return fmt.Errorf("document %s cannot advance from %s to %s", d.DocID, d.Status, next)
	}
	d.Status = next
	return nil
}

// MarkFailed parks the document as failed at the given stage. The document
// takes no further part in this run; a later run may Reopen it.
func (d *DocumentRecord) MarkFailed(stage Stage, reason string) {
	d.Status = StatusFailed
	d.FailedStage = stage
	d.FailureReason = reason
}

// Failed reports whether the document is parked as failed.
func (d *DocumentRecord) Failed() bool {
	return d.Status == StatusFailed
}

// Reopen resets a failed document to the status just before the stage that
// failed, so a new run retries that stage. Artifacts already produced
// (canonical PDF, page images, page summaries) are kept. Reopen is a
// run-boundary operation; within a run, failed is terminal.
func (d *DocumentRecord) Reopen() {
	if !d.Failed() {
		return
	}
	switch d.FailedStage {
	case StageRasterize:
		d.Status = StatusNormalized
	case StageSummarize:
		d.Status = StatusRasterized
	default:
		d.Status = StatusDiscovered
	}
	d.FailedStage = ""
	d.FailureReason = ""
}

// Summarized reports whether the document-level summary is complete.
func (d *DocumentRecord) Summarized() bool {
	return d.Summary != nil
}

// SetSummary records the document roll-up summary, exactly once.
func (d *DocumentRecord) SetSummary(text string) error {
	if d.Summary != nil {
		return fmt.Errorf("document %s: summary already set", d.DocID)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("document %s: empty summary", d.DocID)
	}
	d.Summary = &text
	d.SummaryError = ""
	return nil
}

// MarkSummaryFailed records that the roll-up could not be produced.
func (d *DocumentRecord) MarkSummaryFailed(reason string) error {
	if d.Summary != nil {
		return fmt.Errorf("document %s: already summarized", d.DocID)
	}
	d.SummaryError = reason
	return nil
}

// Page returns the record for the given 1-based page number, or nil.
func (d *DocumentRecord) Page(num int) *PageRecord {
	for _, p := range d.Pages {
		if p.PageNum == num {
			return p
		}
	}
	return nil
}

// SummarizedPageCount counts pages with a completed summary.
func (d *DocumentRecord) SummarizedPageCount() int {
	n := 0
	for _, p := range d.Pages {
		if p.Summarized() {
			n++
		}
	}
	return n
}

// Metadata describes the index build as a whole.
type Metadata struct {
	TotalDocuments int       `json:"total_documents"`
	CreatedAt      time.Time `json:"created_at"`
	ModelUsed      string    `json:"model_used"`
	RunID          string    `json:"run_id,omitempty"`
}

// DataRoomIndex is the single queryable artifact the pipeline produces:
// per-document records plus build metadata.
type DataRoomIndex struct {
	Metadata  Metadata          `json:"metadata"`
	Documents []*DocumentRecord `json:"documents"`
}

// NewIndex creates an empty index stamped with the build metadata.
// CreatedAt is truncated to whole seconds so the value round-trips
// unchanged through JSON.
func NewIndex(modelUsed, runID string) *DataRoomIndex {
	return &DataRoomIndex{
		Metadata: Metadata{
			CreatedAt: time.Now().UTC().Truncate(time.Second),
			ModelUsed: modelUsed,
			RunID:     runID,
		},
		Documents: []*DocumentRecord{},
	}
}

// Document returns the record with the given identifier, or nil.
func (ix *DataRoomIndex) Document(docID string) *DocumentRecord {
	for _, d := range ix.Documents {
		if d.DocID == docID {
			return d
		}
	}
	return nil
}

// Add appends a record, enforcing identifier uniqueness.
func (ix *DataRoomIndex) Add(rec *DocumentRecord) error {
	if rec.DocID == "" {
		return fmt.Errorf("document record has no identifier")
	}
	if ix.Document(rec.DocID) != nil {
		return fmt.Errorf("duplicate document identifier %s", rec.DocID)
	}
	ix.Documents = append(ix.Documents, rec)
	return nil
}

// NextDocSeq returns one past the highest sequence number present, so new
// documents never reuse a previously assigned identifier.
func (ix *DataRoomIndex) NextDocSeq() int {
	max := 0
	for _, d := range ix.Documents {
		if seq, ok := DocIDSeq(d.DocID); ok && seq > max {
			max = seq
		}
	}
	return max + 1
}

// Validate checks the structural invariants of the index: unique document
// identifiers, contiguous 1-based page numbering, and status/field coherence.
func (ix *DataRoomIndex) Validate() error {
	seen := make(map[string]struct{}, len(ix.Documents))
	for _, d := range ix.Documents {
		if d.DocID == "" {
			return fmt.Errorf("document for %s has no identifier", d.OriginalPath)
		}
		if _, dup := seen[d.DocID]; dup {
			return fmt.Errorf("duplicate document identifier %s", d.DocID)
		}
		seen[d.DocID] = struct{}{}
		if d.OriginalPath == "" {
			return fmt.Errorf("document %s has no original file path", d.DocID)
		}
		for i, p := range d.Pages {
			if p.PageNum != i+1 {
				return fmt.Errorf("document %s: page %d out of sequence at position %d", d.DocID, p.PageNum, i)
			}
			if p.Summary != nil && p.ImagePath == "" {
				return fmt.Errorf("document %s page %d: summary without page image", d.DocID, p.PageNum)
			}
		}
		switch d.Status {
		case StatusSummarized:
			if d.Summary == nil {
				return fmt.Errorf("document %s marked summarized without a summary", d.DocID)
			}
		case StatusFailed:
			if d.FailedStage == "" {
				return fmt.Errorf("document %s marked failed without a failed stage", d.DocID)
			}
		case StatusDiscovered, StatusNormalized, StatusRasterized:
		default:
			return fmt.Errorf("document %s has unknown status %q", d.DocID, d.Status)
		}
	}
	return nil
}
