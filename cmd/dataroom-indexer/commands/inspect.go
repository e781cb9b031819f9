package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/diligence-ai/dataroom-indexer/cmd/dataroom-indexer/ui"
	"github.com/diligence-ai/dataroom-indexer/internal/config"
	"github.com/diligence-ai/dataroom-indexer/internal/index"
	"github.com/diligence-ai/dataroom-indexer/pkg/dataroom"
)

var (
	inspectIndexPath string
	inspectDocID     string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect a built index",
	Long:  "List the documents in a built index, or show one document with its page summaries.",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectIndexPath, "index", "", "Path to the index file (defaults to the config output folder)")
	inspectCmd.Flags().StringVarP(&inspectDocID, "doc", "d", "", "Document identifier to show in detail")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := inspectIndexPath
	if path == "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		path = filepath.Join(cfg.Indexer.OutputDir, index.IndexFileName)
	}

	room, err := dataroom.Open(path)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}

	if inspectDocID != "" {
		return inspectDocument(room, inspectDocID)
	}
	return inspectIndex(room, path)
}

func inspectIndex(room *dataroom.DataRoom, path string) error {
	meta := room.Metadata()

	ui.Section("Data Room Index")
	ui.Info("Index file: %s", path)
	ui.Info("Created: %s", meta.CreatedAt.Format(time.RFC3339))
	ui.Info("Model: %s", meta.ModelUsed)
	ui.Newline()

	docs := room.ListDocuments()
	rows := make([][]string, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, []string{
			doc.DocID,
			filepath.Base(doc.OriginalFile),
			doc.Status,
			fmt.Sprintf("%d", doc.PageCount),
		})
	}
	ui.Table([]string{"ID", "File", "Status", "Pages"}, rows)

	return nil
}

func inspectDocument(room *dataroom.DataRoom, docID string) error {
	rec, err := room.Document(docID)
	if err != nil {
		return err
	}

	ui.Section(fmt.Sprintf("Document %s", rec.DocID))
	ui.Info("File: %s", rec.OriginalPath)
	ui.Info("Status: %s", rec.Status)
	ui.Info("Pages: %d", len(rec.Pages))
	if rec.Status == dataroom.StatusFailed {
		ui.Warning("Failed at %s: %s", rec.FailedStage, rec.FailureReason)
	}

	if rec.Summary != nil && *rec.Summary != "" {
		ui.Newline()
		ui.Message("%s", *rec.Summary)
	}

	summaries, err := room.PageSummaries(docID)
	if err != nil {
		return err
	}
	if summaries != "" {
		ui.Newline()
		ui.Message("%s", summaries)
	}

	return nil
}
