package summarize

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

// SummaryClient is the model-facing surface the engine drives. *Client
// implements it; tests substitute their own.
type SummaryClient interface {
	SummarizePage(ctx context.Context, imagePath string, pageNum int) (string, error)
	SummarizeDocument(ctx context.Context, pageLines []string) (string, error)
}

// Engine fills page and document summaries across an index. All model calls
// of a run share one concurrency budget; within a document, the roll-up only
// starts after every page attempt has finished.
type Engine struct {
	client SummaryClient
	sem    *semaphore.Weighted
	logger *observability.Logger

	// Notify, when set, is called once per finished unit: pageNum >= 1 for
	// a page, 0 for a document roll-up.
	Notify func(docID string, pageNum int, failed bool)
}

// NewEngine creates an engine with the given global call budget.
func NewEngine(client SummaryClient, maxConcurrentCalls int, logger *observability.Logger) *Engine {
	if maxConcurrentCalls < 1 {
		maxConcurrentCalls = 1
	}
	return &Engine{
		client: client,
		sem:    semaphore.NewWeighted(int64(maxConcurrentCalls)),
		logger: logger.WithStage(string(domain.StageSummarize)),
	}
}

func (e *Engine) notify(docID string, pageNum int, failed bool) {
	if e.Notify != nil {
		e.Notify(docID, pageNum, failed)
	}
}

// Summarize processes every rasterized document that has no completed
// roll-up yet. Pages and documents already summarized are skipped untouched.
// Documents proceed independently; one document's failures never block
// another. Cancellation admits no new model calls but lets in-flight ones
// finish, so the index stays consistent for a later resume.
func (e *Engine) Summarize(ctx context.Context, ix *domain.DataRoomIndex) error {
	var eg errgroup.Group
	for _, rec := range ix.Documents {
		if rec.Status != domain.StatusRasterized || rec.Summarized() {
			continue
		}
		rec := rec
		eg.Go(func() error {
			return e.summarizeDocument(ctx, rec)
		})
	}
	// Only context errors travel up; per-document failures are recorded on
	// the records themselves.
	return eg.Wait()
}

func (e *Engine) summarizeDocument(ctx context.Context, rec *domain.DocumentRecord) error {
	logger := e.logger.WithDoc(rec.DocID)

	var pg errgroup.Group
	for _, page := range rec.Pages {
		if page.Summarized() || page.ImagePath == "" {
			continue
		}
		page := page
		pg.Go(func() error {
			if err := e.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer e.sem.Release(1)

			text, err := e.client.SummarizePage(ctx, page.ImagePath, page.PageNum)
			if err != nil {
				if ctx.Err() != nil {
					// Canceled, not failed: the page stays pending for resume.
					return ctx.Err()
				}
				logger.Warn().Int("page", page.PageNum).Err(err).Msg("page summarization failed")
				_ = page.MarkFailed(domain.FailureReason(err))
				e.notify(rec.DocID, page.PageNum, true)
				return nil
			}
			if err := page.SetSummary(text); err != nil {
				return err
			}
			e.notify(rec.DocID, page.PageNum, false)
			return nil
		})
	}
	if err := pg.Wait(); err != nil {
		return err
	}

	// Join point: every page attempt has finished before the roll-up starts.
	return e.rollup(ctx, rec, logger)
}

func (e *Engine) rollup(ctx context.Context, rec *domain.DocumentRecord, logger *observability.Logger) error {
	lines := make([]string, 0, len(rec.Pages))
	missing := 0
	for _, page := range rec.Pages {
		if page.Summarized() {
			lines = append(lines, fmt.Sprintf("Page %d: %s", page.PageNum, *page.Summary))
		} else {
			missing++
		}
	}

	if len(lines) == 0 {
		reason := fmt.Sprintf("none of the %d pages could be summarized", len(rec.Pages))
		_ = rec.MarkSummaryFailed(reason)
		rec.MarkFailed(domain.StageSummarize, reason)
		logger.Warn().Msg("document has no usable page summaries")
		e.notify(rec.DocID, 0, true)
		return nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	text, err := e.client.SummarizeDocument(ctx, lines)
	e.sem.Release(1)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn().Err(err).Msg("document roll-up failed")
		_ = rec.MarkSummaryFailed(domain.FailureReason(err))
		rec.MarkFailed(domain.StageSummarize, domain.FailureReason(err))
		e.notify(rec.DocID, 0, true)
		return nil
	}

	if missing > 0 {
		text = fmt.Sprintf("%s (Note: %d of %d pages could not be summarized and are not reflected here.)", text, missing, len(rec.Pages))
	}
	if err := rec.SetSummary(text); err != nil {
		return err
	}
	if err := rec.Advance(domain.StatusSummarized); err != nil {
		return err
	}
	logger.Debug().Int("pages", len(rec.Pages)).Int("missing", missing).Msg("document summarized")
	e.notify(rec.DocID, 0, false)
	return nil
}
