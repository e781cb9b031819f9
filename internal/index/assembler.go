package index

import (
	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

// Assembler reconciles the index left by a previous run with a fresh
// discovery, so completed work is carried forward and only changed or new
// sources are processed again.
type Assembler struct {
	model  string
	logger *observability.Logger
}

// NewAssembler creates an assembler stamping indexes with the given model.
func NewAssembler(model string, logger *observability.Logger) *Assembler {
	return &Assembler{
		model:  model,
		logger: logger.WithStage("merge"),
	}
}

// Merge builds this run's index from the previous one and the records the
// scanner discovered. Matching is by original file path:
//
//   - unchanged content (same SHA-256) adopts the previous record with all
//     its artifacts and summaries; a record that failed last run is reopened
//     so the failing stage is retried;
//   - changed content starts over under a fresh identifier — identifiers
//     are never reused, the sequence continues past the highest one the
//     previous index ever assigned;
//   - sources that vanished keep their records as history, appended after
//     the current documents.
//
// With no previous index the scanner's own identifiers are kept.
func (a *Assembler) Merge(prev *domain.DataRoomIndex, discovered []*domain.DocumentRecord, runID string) (*domain.DataRoomIndex, error) {
	ix := domain.NewIndex(a.model, runID)

	if prev == nil {
		for _, rec := range discovered {
			if err := ix.Add(rec); err != nil {
				return nil, err
			}
		}
		return ix, nil
	}

	prevByPath := make(map[string]*domain.DocumentRecord, len(prev.Documents))
	for _, rec := range prev.Documents {
		prevByPath[rec.OriginalPath] = rec
	}

	// Seed from the previous index, not the one under construction: a
	// superseded record drops out of the new index but its identifier
	// stays retired.
	nextSeq := prev.NextDocSeq()
	matched := make(map[string]struct{}, len(discovered))

	for _, rec := range discovered {
		old, ok := prevByPath[rec.OriginalPath]
		if ok {
			matched[rec.OriginalPath] = struct{}{}
		}

		switch {
		case ok && old.SHA256 == rec.SHA256:
			if old.Failed() {
				a.logger.Debug().
					Str("doc_id", old.DocID).
					Str("stage", string(old.FailedStage)).
					Msg("reopening failed document for retry")
			}
			old.Reopen()
			if err := ix.Add(old); err != nil {
				return nil, err
			}

		case ok:
			// Prior summaries describe content that no longer exists, so
			// the document starts over.
			rec.DocID = domain.FormatDocID(nextSeq)
			nextSeq++
			a.logger.Info().
				Str("path", rec.OriginalPath).
				Str("old_doc_id", old.DocID).
				Str("doc_id", rec.DocID).
				Msg("source content changed, reindexing under new identifier")
			if err := ix.Add(rec); err != nil {
				return nil, err
			}

		default:
			rec.DocID = domain.FormatDocID(nextSeq)
			nextSeq++
			if err := ix.Add(rec); err != nil {
				return nil, err
			}
		}
	}

	for _, old := range prev.Documents {
		if _, ok := matched[old.OriginalPath]; ok {
			continue
		}
		a.logger.Debug().
			Str("doc_id", old.DocID).
			Str("path", old.OriginalPath).
			Msg("source vanished, keeping record as history")
		if err := ix.Add(old); err != nil {
			return nil, err
		}
	}

	return ix, nil
}
