package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

func newAssembler() *Assembler {
	return NewAssembler("gpt-4o-mini", observability.Nop())
}

func summarizedRecord(t *testing.T, docID, path, sha string) *domain.DocumentRecord {
	t.Helper()
	rec := domain.NewDocumentRecord(docID, path, sha)
	rec.PDFPath = "pdfs/" + docID + ".pdf"
	require.NoError(t, rec.Advance(domain.StatusNormalized))
	page := &domain.PageRecord{PageNum: 1, ImagePath: "pages/" + docID + "/page_001.png"}
	require.NoError(t, page.SetSummary("Page one."))
	rec.Pages = []*domain.PageRecord{page}
	require.NoError(t, rec.Advance(domain.StatusRasterized))
	require.NoError(t, rec.SetSummary("The whole document."))
	require.NoError(t, rec.Advance(domain.StatusSummarized))
	return rec
}

func TestMergeFirstRun(t *testing.T) {
	discovered := []*domain.DocumentRecord{
		domain.NewDocumentRecord("doc_001", "contracts/a.pdf", "aa"),
		domain.NewDocumentRecord("doc_002", "contracts/b.docx", "bb"),
	}

	ix, err := newAssembler().Merge(nil, discovered, "run-1")
	require.NoError(t, err)

	require.Len(t, ix.Documents, 2)
	assert.Equal(t, "doc_001", ix.Documents[0].DocID)
	assert.Equal(t, "doc_002", ix.Documents[1].DocID)
	assert.Equal(t, "gpt-4o-mini", ix.Metadata.ModelUsed)
	assert.Equal(t, "run-1", ix.Metadata.RunID)
}

func TestMergeAdoptsUnchangedRecords(t *testing.T) {
	prev := domain.NewIndex("gpt-4o-mini", "run-1")
	require.NoError(t, prev.Add(summarizedRecord(t, "doc_001", "contracts/a.pdf", "aa")))
	halfway := domain.NewDocumentRecord("doc_002", "contracts/b.docx", "bb")
	halfway.PDFPath = "pdfs/doc_002.pdf"
	require.NoError(t, halfway.Advance(domain.StatusNormalized))
	require.NoError(t, prev.Add(halfway))

	discovered := []*domain.DocumentRecord{
		domain.NewDocumentRecord("doc_001", "contracts/a.pdf", "aa"),
		domain.NewDocumentRecord("doc_002", "contracts/b.docx", "bb"),
	}

	ix, err := newAssembler().Merge(prev, discovered, "run-2")
	require.NoError(t, err)

	require.Len(t, ix.Documents, 2)
	done := ix.Document("doc_001")
	require.NotNil(t, done)
	assert.Equal(t, domain.StatusSummarized, done.Status)
	require.NotNil(t, done.Summary, "completed summaries are carried forward")
	assert.Equal(t, domain.StatusNormalized, ix.Document("doc_002").Status)
	assert.Equal(t, "run-2", ix.Metadata.RunID)
}

func TestMergeAddedFileContinuesSequence(t *testing.T) {
	prev := domain.NewIndex("gpt-4o-mini", "run-1")
	require.NoError(t, prev.Add(summarizedRecord(t, "doc_001", "contracts/b.pdf", "bb")))
	require.NoError(t, prev.Add(summarizedRecord(t, "doc_002", "contracts/c.pdf", "cc")))

	// The new file sorts first, so a fresh scan numbered it doc_001. The
	// merge must keep the established identifiers and renumber the addition.
	discovered := []*domain.DocumentRecord{
		domain.NewDocumentRecord("doc_001", "contracts/a.pdf", "aa"),
		domain.NewDocumentRecord("doc_002", "contracts/b.pdf", "bb"),
		domain.NewDocumentRecord("doc_003", "contracts/c.pdf", "cc"),
	}

	ix, err := newAssembler().Merge(prev, discovered, "run-2")
	require.NoError(t, err)

	require.Len(t, ix.Documents, 3)
	byPath := make(map[string]string)
	for _, rec := range ix.Documents {
		byPath[rec.OriginalPath] = rec.DocID
	}
	assert.Equal(t, "doc_001", byPath["contracts/b.pdf"])
	assert.Equal(t, "doc_002", byPath["contracts/c.pdf"])
	assert.Equal(t, "doc_003", byPath["contracts/a.pdf"])

	// Documents follow discovery order even when identifiers do not.
	assert.Equal(t, "contracts/a.pdf", ix.Documents[0].OriginalPath)
	require.NoError(t, ix.Validate())
}

func TestMergeChangedContentGetsFreshID(t *testing.T) {
	prev := domain.NewIndex("gpt-4o-mini", "run-1")
	require.NoError(t, prev.Add(summarizedRecord(t, "doc_001", "contracts/a.pdf", "aa")))

	discovered := []*domain.DocumentRecord{
		domain.NewDocumentRecord("doc_001", "contracts/a.pdf", "ff"),
	}

	ix, err := newAssembler().Merge(prev, discovered, "run-2")
	require.NoError(t, err)

	require.Len(t, ix.Documents, 1)
	rec := ix.Documents[0]
	assert.Equal(t, "doc_002", rec.DocID, "a changed file never keeps its old identifier")
	assert.Equal(t, domain.StatusDiscovered, rec.Status)
	assert.Nil(t, rec.Summary)
	assert.Empty(t, rec.Pages)
	assert.Nil(t, ix.Document("doc_001"), "the superseded record is dropped, its identifier retired")
	assert.Equal(t, 3, ix.NextDocSeq())
}

func TestMergeVanishedKeptAsHistory(t *testing.T) {
	prev := domain.NewIndex("gpt-4o-mini", "run-1")
	require.NoError(t, prev.Add(summarizedRecord(t, "doc_001", "contracts/gone.pdf", "aa")))
	require.NoError(t, prev.Add(summarizedRecord(t, "doc_002", "contracts/kept.pdf", "bb")))

	discovered := []*domain.DocumentRecord{
		domain.NewDocumentRecord("doc_001", "contracts/kept.pdf", "bb"),
	}

	ix, err := newAssembler().Merge(prev, discovered, "run-2")
	require.NoError(t, err)

	require.Len(t, ix.Documents, 2)
	assert.Equal(t, "contracts/kept.pdf", ix.Documents[0].OriginalPath)
	assert.Equal(t, "contracts/gone.pdf", ix.Documents[1].OriginalPath, "history goes after current documents")

	gone := ix.Document("doc_001")
	require.NotNil(t, gone)
	assert.Equal(t, domain.StatusSummarized, gone.Status)
	require.NotNil(t, gone.Summary)
}

func TestMergeVanishedFailedStaysFailed(t *testing.T) {
	prev := domain.NewIndex("gpt-4o-mini", "run-1")
	broken := domain.NewDocumentRecord("doc_001", "contracts/gone.xls", "aa")
	broken.MarkFailed(domain.StageNormalize, "converter failed")
	require.NoError(t, prev.Add(broken))

	ix, err := newAssembler().Merge(prev, nil, "run-2")
	require.NoError(t, err)

	require.Len(t, ix.Documents, 1)
	assert.True(t, ix.Documents[0].Failed(), "nothing to retry once the source is gone")
}

func TestMergeReopensFailedUnchanged(t *testing.T) {
	prev := domain.NewIndex("gpt-4o-mini", "run-1")
	failed := domain.NewDocumentRecord("doc_001", "contracts/a.docx", "aa")
	failed.PDFPath = "pdfs/doc_001.pdf"
	require.NoError(t, failed.Advance(domain.StatusNormalized))
	failed.MarkFailed(domain.StageRasterize, "canonical pdf is unreadable")
	require.NoError(t, prev.Add(failed))

	discovered := []*domain.DocumentRecord{
		domain.NewDocumentRecord("doc_001", "contracts/a.docx", "aa"),
	}

	ix, err := newAssembler().Merge(prev, discovered, "run-2")
	require.NoError(t, err)

	rec := ix.Document("doc_001")
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusNormalized, rec.Status, "retry restarts at the stage that failed")
	assert.Empty(t, rec.FailedStage)
	assert.Empty(t, rec.FailureReason)
	assert.Equal(t, "pdfs/doc_001.pdf", rec.PDFPath, "artifacts from before the failure are kept")
}

func TestMergeSequenceContinuesPastGaps(t *testing.T) {
	prev := domain.NewIndex("gpt-4o-mini", "run-1")
	require.NoError(t, prev.Add(summarizedRecord(t, "doc_001", "contracts/a.pdf", "aa")))
	require.NoError(t, prev.Add(summarizedRecord(t, "doc_007", "contracts/b.pdf", "bb")))

	discovered := []*domain.DocumentRecord{
		domain.NewDocumentRecord("doc_001", "contracts/a.pdf", "aa"),
		domain.NewDocumentRecord("doc_002", "contracts/b.pdf", "bb"),
		domain.NewDocumentRecord("doc_003", "contracts/z.pdf", "zz"),
	}

	ix, err := newAssembler().Merge(prev, discovered, "run-2")
	require.NoError(t, err)

	byPath := make(map[string]string)
	for _, rec := range ix.Documents {
		byPath[rec.OriginalPath] = rec.DocID
	}
	assert.Equal(t, "doc_007", byPath["contracts/b.pdf"])
	assert.Equal(t, "doc_008", byPath["contracts/z.pdf"], "the sequence continues past the highest identifier ever assigned")
}
