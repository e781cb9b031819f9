// Package pipeline drives the indexing stages in order over a data room.
package pipeline

import (
	"context"
	"errors"
	"io/fs"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/index"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
)

// EventType classifies pipeline progress events.
type EventType string

const (
	EventStageStart EventType = "stage_start"
	EventDocDone    EventType = "doc_done"
	EventStageEnd   EventType = "stage_end"
	EventCheckpoint EventType = "checkpoint"
)

// Event is a progress notification for consumers such as the CLI. Total is
// the unit count of a starting stage: documents for normalize and rasterize,
// model calls for summarize.
type Event struct {
	Type    EventType
	Stage   domain.Stage
	DocID   string
	Total   int
	Failed  bool
	Message string
}

// Options wires the pipeline together. Events may be nil; when set, sends
// never block and events are dropped over a full channel.
type Options struct {
	Discoverer domain.Discoverer
	Normalizer domain.Normalizer
	Rasterizer domain.Rasterizer
	Summarizer domain.Summarizer
	Store      domain.Store
	Assembler  *index.Assembler

	ConvertWorkers int
	RasterWorkers  int

	Events chan<- Event
	Logger *observability.Logger
}

// Pipeline runs discover, normalize, rasterize and summarize as strictly
// ordered stages, each parallel across documents, and checkpoints the index
// after every stage. A document failing a stage is parked and the rest of
// the run continues; the next run retries it. Cancellation checkpoints what
// finished so a rerun resumes instead of starting over.
type Pipeline struct {
	opts   Options
	logger *observability.Logger
}

// New creates a pipeline. Worker counts below one are raised to one.
func New(opts Options) *Pipeline {
	if opts.ConvertWorkers < 1 {
		opts.ConvertWorkers = 1
	}
	if opts.RasterWorkers < 1 {
		opts.RasterWorkers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	return &Pipeline{opts: opts, logger: logger}
}

// Run executes one full indexing run and returns the resulting index. The
// returned index is also persisted, including on cancellation; the error
// then reports why the run stopped early.
func (p *Pipeline) Run(ctx context.Context) (*domain.DataRoomIndex, error) {
	runID := uuid.NewString()
	logger := p.logger.With().Str("run_id", runID).Logger()

	p.emit(Event{Type: EventStageStart, Stage: domain.StageDiscover})
	discovered, err := p.opts.Discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}
	p.emit(Event{Type: EventStageEnd, Stage: domain.StageDiscover, Total: len(discovered)})

	prev, err := p.opts.Store.Load()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		prev = nil
	} else {
		logger.Info().Int("documents", len(prev.Documents)).Msg("previous index found, resuming")
	}

	ix, err := p.opts.Assembler.Merge(prev, discovered, runID)
	if err != nil {
		return nil, domain.PersistenceError("merge previous index", err)
	}
	if err := p.checkpoint(ix, logger); err != nil {
		return ix, err
	}

	if err := p.runDocStage(ctx, ix, logger, domain.StageNormalize, domain.StatusDiscovered, p.opts.ConvertWorkers, p.opts.Normalizer.Normalize); err != nil {
		return ix, p.stopEarly(ix, logger, err)
	}
	if err := p.checkpoint(ix, logger); err != nil {
		return ix, err
	}

	if err := p.runDocStage(ctx, ix, logger, domain.StageRasterize, domain.StatusNormalized, p.opts.RasterWorkers, p.opts.Rasterizer.Rasterize); err != nil {
		return ix, p.stopEarly(ix, logger, err)
	}
	if err := p.checkpoint(ix, logger); err != nil {
		return ix, err
	}

	if err := p.runSummarize(ctx, ix, logger); err != nil {
		return ix, p.stopEarly(ix, logger, err)
	}
	if err := p.checkpoint(ix, logger); err != nil {
		return ix, err
	}

	logger.Info().
		Int("documents", len(ix.Documents)).
		Int("failed", failedCount(ix)).
		Msg("run complete")
	return ix, nil
}

// runDocStage runs one stage over every document currently ready for it.
// Per-document errors park the document; only context errors stop the stage.
func (p *Pipeline) runDocStage(ctx context.Context, ix *domain.DataRoomIndex, logger *observability.Logger, stage domain.Stage, ready domain.Status, workers int, fn func(context.Context, *domain.DocumentRecord) error) error {
	pending := make([]*domain.DocumentRecord, 0, len(ix.Documents))
	for _, rec := range ix.Documents {
		if rec.Status == ready {
			pending = append(pending, rec)
		}
	}

	stageLogger := logger.WithStage(string(stage))
	stageLogger.Info().Int("pending", len(pending)).Int("workers", workers).Msg("stage started")
	p.emit(Event{Type: EventStageStart, Stage: stage, Total: len(pending)})
	defer p.emit(Event{Type: EventStageEnd, Stage: stage})

	if len(pending) == 0 {
		return nil
	}

	var eg errgroup.Group
	eg.SetLimit(workers)
	for _, rec := range pending {
		rec := rec
		eg.Go(func() error {
			if err := fn(ctx, rec); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				reason := domain.FailureReason(err)
				rec.MarkFailed(stage, reason)
				stageLogger.Warn().Str("doc_id", rec.DocID).Str("reason", reason).Msg("document failed")
				p.emit(Event{Type: EventDocDone, Stage: stage, DocID: rec.DocID, Failed: true, Message: reason})
				return nil
			}
			p.emit(Event{Type: EventDocDone, Stage: stage, DocID: rec.DocID})
			return nil
		})
	}
	return eg.Wait()
}

func (p *Pipeline) runSummarize(ctx context.Context, ix *domain.DataRoomIndex, logger *observability.Logger) error {
	units := pendingSummaryUnits(ix)
	stageLogger := logger.WithStage(string(domain.StageSummarize))
	stageLogger.Info().Int("pending_calls", units).Msg("stage started")
	p.emit(Event{Type: EventStageStart, Stage: domain.StageSummarize, Total: units})
	defer p.emit(Event{Type: EventStageEnd, Stage: domain.StageSummarize})

	return p.opts.Summarizer.Summarize(ctx, ix)
}

// stopEarly persists whatever the run achieved before it was stopped. The
// original error wins; a save failure on top of it is only logged.
func (p *Pipeline) stopEarly(ix *domain.DataRoomIndex, logger *observability.Logger, cause error) error {
	if err := p.checkpoint(ix, logger); err != nil {
		logger.Error().Err(err).Msg("checkpoint after early stop failed")
	}
	return cause
}

func (p *Pipeline) checkpoint(ix *domain.DataRoomIndex, logger *observability.Logger) error {
	if err := p.opts.Store.Save(ix); err != nil {
		return err
	}
	logger.Debug().Int("documents", len(ix.Documents)).Msg("index checkpointed")
	p.emit(Event{Type: EventCheckpoint})
	return nil
}

func (p *Pipeline) emit(ev Event) {
	if p.opts.Events == nil {
		return
	}
	select {
	case p.opts.Events <- ev:
	default:
		p.logger.Warn().Str("type", string(ev.Type)).Msg("event channel full, dropping event")
	}
}

// pendingSummaryUnits counts the model calls the summarize stage still has
// to make: one per unsummarized page with an image, one roll-up per document.
func pendingSummaryUnits(ix *domain.DataRoomIndex) int {
	units := 0
	for _, rec := range ix.Documents {
		if rec.Status != domain.StatusRasterized || rec.Summarized() {
			continue
		}
		for _, page := range rec.Pages {
			if !page.Summarized() && page.ImagePath != "" {
				units++
			}
		}
		units++
	}
	return units
}

func failedCount(ix *domain.DataRoomIndex) int {
	n := 0
	for _, rec := range ix.Documents {
		if rec.Failed() {
			n++
		}
	}
	return n
}
