package dataroom

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
)

func summarized(t *testing.T, rec *DocumentRecord, docSummary string, pageSummaries ...string) {
	t.Helper()
	require.NoError(t, rec.Advance(StatusNormalized))
	for i, text := range pageSummaries {
		page := &PageRecord{PageNum: i + 1, ImagePath: "pages/" + rec.DocID + "/img.png"}
		if text != "" {
			require.NoError(t, page.SetSummary(text))
		}
		rec.Pages = append(rec.Pages, page)
	}
	require.NoError(t, rec.Advance(StatusRasterized))
	require.NoError(t, rec.SetSummary(docSummary))
	require.NoError(t, rec.Advance(StatusSummarized))
}

func sampleDataRoom(t *testing.T) *DataRoom {
	t.Helper()
	ix := domain.NewIndex("gpt-4o-mini", "run-1")

	full := domain.NewDocumentRecord("doc_001", "contracts/agreement.pdf", "aa")
	full.PDFPath = "pdfs/doc_001.pdf"
	summarized(t, full, "A master services agreement.",
		"Title page of the agreement.",
		"Definitions and scope of services.",
		"Signature block with both parties.")
	require.NoError(t, ix.Add(full))

	partial := domain.NewDocumentRecord("doc_002", "contracts/scan.tiff.pdf", "bb")
	partial.PDFPath = "pdfs/doc_002.pdf"
	require.NoError(t, partial.Advance(StatusNormalized))
	ok := &PageRecord{PageNum: 1, ImagePath: "pages/doc_002/page_001.png"}
	require.NoError(t, ok.SetSummary("An invoice cover sheet."))
	bad := &PageRecord{PageNum: 2, Error: "render: malformed content stream"}
	partial.Pages = []*PageRecord{ok, bad}
	require.NoError(t, partial.Advance(StatusRasterized))
	require.NoError(t, partial.SetSummary("An invoice. (Note: 1 of 2 pages could not be summarized and are not reflected here.)"))
	require.NoError(t, partial.Advance(StatusSummarized))
	require.NoError(t, ix.Add(partial))

	single := domain.NewDocumentRecord("doc_003", "contracts/letter.docx", "cc")
	single.PDFPath = "pdfs/doc_003.pdf"
	summarized(t, single, "A short letter.", "The letter's only page.")
	require.NoError(t, ix.Add(single))

	failed := domain.NewDocumentRecord("doc_004", "contracts/corrupt.xls", "dd")
	failed.MarkFailed(domain.StageNormalize, "converter failed: exit status 1")
	require.NoError(t, ix.Add(failed))

	return New(ix)
}

func TestListDocuments(t *testing.T) {
	room := sampleDataRoom(t)
	docs := room.ListDocuments()

	require.Len(t, docs, 4)
	assert.Equal(t, "doc_001", docs[0].DocID)
	assert.Equal(t, "contracts/agreement.pdf", docs[0].OriginalFile)
	assert.Equal(t, "A master services agreement.", docs[0].Summary)
	assert.Equal(t, "summarized", docs[0].Status)
	assert.Equal(t, 3, docs[0].PageCount)

	assert.Equal(t, "doc_004", docs[3].DocID)
	assert.Equal(t, "failed", docs[3].Status)
	assert.Empty(t, docs[3].Summary)
	assert.Zero(t, docs[3].PageCount)
}

func TestDocumentLookup(t *testing.T) {
	room := sampleDataRoom(t)

	rec, err := room.Document("doc_001")
	require.NoError(t, err)
	assert.Equal(t, "contracts/agreement.pdf", rec.OriginalPath)
	assert.Len(t, rec.Pages, 3)

	_, err = room.Document("doc_999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
	assert.Contains(t, err.Error(), "doc_999")
}

func TestPageSummaries(t *testing.T) {
	room := sampleDataRoom(t)

	text, err := room.PageSummaries("doc_001")
	require.NoError(t, err)
	assert.Contains(t, text, "Page 1: Title page of the agreement.")
	assert.Contains(t, text, "Page 2:")
	assert.Contains(t, text, "Page 3:")
	assert.Len(t, strings.Split(text, "\n\n"), 3)

	single, err := room.PageSummaries("doc_003")
	require.NoError(t, err)
	assert.NotContains(t, single, "\n\n", "a single page needs no separator")

	_, err = room.PageSummaries("doc_999")
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
}

func TestPageSummariesKeepFailedPagesVisible(t *testing.T) {
	room := sampleDataRoom(t)

	text, err := room.PageSummaries("doc_002")
	require.NoError(t, err)
	parts := strings.Split(text, "\n\n")
	require.Len(t, parts, 2)
	assert.Equal(t, "Page 2: (no summary available)", parts[1])
}

func TestPagesMixedResults(t *testing.T) {
	room := sampleDataRoom(t)

	results, err := room.Pages("doc_001", []int{1, 99, 2})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1, results[0].PageNum)
	assert.NotEmpty(t, results[0].ImagePath)
	assert.Equal(t, "Title page of the agreement.", results[0].Summary)

	assert.Equal(t, 99, results[1].PageNum)
	assert.Contains(t, results[1].Error, "page 99 not found")
	assert.Empty(t, results[1].ImagePath)

	assert.Equal(t, 2, results[2].PageNum)
	assert.NotEmpty(t, results[2].ImagePath)
}

func TestPagesEmptyRequest(t *testing.T) {
	room := sampleDataRoom(t)
	results, err := room.Pages("doc_001", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPagesUnknownDocument(t *testing.T) {
	room := sampleDataRoom(t)
	_, err := room.Pages("doc_999", []int{1})
	assert.True(t, errors.Is(err, ErrDocumentNotFound))
}

func TestPagesRenderFailedPageCarriesError(t *testing.T) {
	room := sampleDataRoom(t)

	results, err := room.Pages("doc_002", []int{2})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Summary)
	assert.Equal(t, "render: malformed content stream", results[0].Error)
}

func TestOpenIndexFile(t *testing.T) {
	room := sampleDataRoom(t)
	data, err := json.MarshalIndent(room.ix, "", "  ")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "data_room_index.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	opened, err := Open(path)
	require.NoError(t, err)
	assert.Len(t, opened.ListDocuments(), 4)
	assert.Equal(t, "gpt-4o-mini", opened.Metadata().ModelUsed)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
