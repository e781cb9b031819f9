package commands

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/diligence-ai/dataroom-indexer/cmd/dataroom-indexer/ui"
	"github.com/diligence-ai/dataroom-indexer/internal/config"
	"github.com/diligence-ai/dataroom-indexer/internal/convert"
	"github.com/diligence-ai/dataroom-indexer/internal/discover"
	"github.com/diligence-ai/dataroom-indexer/internal/domain"
	"github.com/diligence-ai/dataroom-indexer/internal/index"
	"github.com/diligence-ai/dataroom-indexer/internal/observability"
	"github.com/diligence-ai/dataroom-indexer/internal/pipeline"
	"github.com/diligence-ai/dataroom-indexer/internal/rasterize"
	"github.com/diligence-ai/dataroom-indexer/internal/summarize"
)

var (
	indexInput  string
	indexOutput string
	indexModel  string
	indexDPI    int
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index a data room folder into a knowledge base",
	Long: `Walk the input folder, convert every supported document to PDF, render
each page to an image, summarize pages and documents with a vision model,
and write the JSON index. Rerunning resumes an interrupted or partially
failed run.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVarP(&indexInput, "input", "i", "", "Data room folder to index (required unless set in config)")
	indexCmd.Flags().StringVarP(&indexOutput, "output", "o", "", "Output folder for the index and artifacts")
	indexCmd.Flags().StringVar(&indexModel, "model", "", "Vision model to use for summaries")
	indexCmd.Flags().IntVar(&indexDPI, "dpi", 0, "Render resolution for page images")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if indexInput != "" {
		cfg.Indexer.InputDir = indexInput
	}
	if indexOutput != "" {
		cfg.Indexer.OutputDir = indexOutput
	}
	if indexModel != "" {
		cfg.Summarizer.Model = indexModel
	}
	if indexDPI > 0 {
		cfg.Rasterizer.DPI = indexDPI
	}

	if cfg.Indexer.InputDir == "" {
		return fmt.Errorf("input directory is required (use --input or set indexer.input_dir in the config)")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	} else if level == "info" {
		// Progress bars own stderr during a run; only warnings cut through.
		level = "warn"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "dataroom-indexer",
	})

	ui.Section("Data Room Indexing")
	ui.Info("Input: %s", cfg.Indexer.InputDir)
	ui.Info("Output: %s", cfg.Indexer.OutputDir)
	ui.Info("Model: %s", cfg.Summarizer.Model)
	ui.Newline()

	soffice := convert.NewSofficeClient(cfg.Converter.Binary, cfg.Converter.Timeout, logger)
	if err := soffice.Check(); err != nil {
		return fmt.Errorf("converter check: %w", err)
	}

	normalizer, err := convert.NewNormalizer(soffice, cfg.Indexer.OutputDir, logger)
	if err != nil {
		return fmt.Errorf("init normalizer: %w", err)
	}

	rasterizer, err := rasterize.NewRasterizer(cfg.Indexer.OutputDir, cfg.Rasterizer.DPI, logger)
	if err != nil {
		return fmt.Errorf("init rasterizer: %w", err)
	}

	client, err := summarize.NewClient(summarize.ClientConfig{
		BaseURL:        cfg.Summarizer.BaseURL,
		APIKey:         cfg.Summarizer.APIKey,
		Model:          cfg.Summarizer.Model,
		RequestTimeout: cfg.Summarizer.RequestTimeout,
		Retry: summarize.RetryConfig{
			MaxRetries:     cfg.Summarizer.MaxRetries,
			InitialBackoff: cfg.Summarizer.InitialBackoff,
			MaxBackoff:     cfg.Summarizer.MaxBackoff,
		},
		PageMaxTokens: cfg.Summarizer.PageMaxTokens,
		DocMaxTokens:  cfg.Summarizer.DocMaxTokens,
	}, logger)
	if err != nil {
		return err
	}
	engine := summarize.NewEngine(client, cfg.Summarizer.MaxConcurrentCalls, logger)

	store := index.NewStore(cfg.Indexer.OutputDir, logger)

	scanner := discover.NewScanner(cfg.Indexer.InputDir, logger)
	scanner.Exclude(cfg.Indexer.OutputDir)

	events := make(chan pipeline.Event, 64)
	engine.Notify = func(docID string, pageNum int, failed bool) {
		select {
		case events <- pipeline.Event{Type: pipeline.EventDocDone, Stage: domain.StageSummarize, DocID: docID, Failed: failed}:
		default:
		}
	}

	p := pipeline.New(pipeline.Options{
		Discoverer:     scanner,
		Normalizer:     normalizer,
		Rasterizer:     rasterizer,
		Summarizer:     engine,
		Store:          store,
		Assembler:      index.NewAssembler(cfg.Summarizer.Model, logger),
		ConvertWorkers: cfg.Converter.Workers,
		RasterWorkers:  cfg.Rasterizer.Workers,
		Events:         events,
		Logger:         logger,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		renderEvents(events)
	}()

	start := time.Now()
	ix, runErr := p.Run(ctx)
	close(events)
	wg.Wait()

	if runErr != nil {
		if ix != nil {
			ui.Warning("Progress up to the stop was saved; rerun the same command to resume")
		}
		return fmt.Errorf("indexing failed: %w", runErr)
	}

	summarized, failed := 0, 0
	for _, doc := range ix.Documents {
		switch doc.Status {
		case domain.StatusSummarized:
			summarized++
		case domain.StatusFailed:
			failed++
		}
	}

	ui.Newline()
	ui.Success("Indexing completed in %s", ui.FormatDuration(time.Since(start)))
	ui.Section("Index Summary")
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Documents", fmt.Sprintf("%d", len(ix.Documents))},
		{"Summarized", fmt.Sprintf("%d", summarized)},
		{"Failed", fmt.Sprintf("%d", failed)},
		{"Model", ix.Metadata.ModelUsed},
		{"Index file", store.Path()},
	})

	if failed > 0 {
		ui.Newline()
		ui.Warning("%d document(s) failed; rerun after fixing the source files to retry them", failed)
		for _, doc := range ix.Documents {
			if doc.Status == domain.StatusFailed {
				ui.Detail("%s %s: %s", doc.DocID, filepath.Base(doc.OriginalPath), doc.FailureReason)
			}
		}
	}

	return nil
}

func stageLabel(stage domain.Stage) string {
	switch stage {
	case domain.StageNormalize:
		return "Converting to PDF"
	case domain.StageRasterize:
		return "Rendering pages"
	case domain.StageSummarize:
		return "Summarizing"
	default:
		return string(stage)
	}
}

// renderEvents drives the terminal display from pipeline progress events.
// Normalize and rasterize report one unit per document; summarize reports
// one unit per model call.
func renderEvents(events <-chan pipeline.Event) {
	var bar *ui.ProgressBar
	var spin *ui.Spinner

	for ev := range events {
		switch ev.Type {
		case pipeline.EventStageStart:
			if ev.Stage == domain.StageDiscover {
				spin = ui.NewSpinner("Discovering documents...")
				spin.Start()
				break
			}
			if ev.Total > 0 {
				bar = ui.NewProgressBar(int64(ev.Total), stageLabel(ev.Stage))
			}
		case pipeline.EventDocDone:
			if bar != nil {
				bar.Add(1)
			}
		case pipeline.EventStageEnd:
			if ev.Stage == domain.StageDiscover {
				if spin != nil {
					spin.Stop()
					spin = nil
				}
				ui.Info("Discovered %d documents", ev.Total)
				break
			}
			if bar != nil {
				bar.Finish()
				bar = nil
			}
		case pipeline.EventCheckpoint:
			// Checkpoints are silent here; the structured log carries them.
		}
	}

	if spin != nil {
		spin.Stop()
	}
	if bar != nil {
		bar.Finish()
	}
}
