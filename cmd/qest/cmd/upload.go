package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perbu/qest/pkg/loader"
	"github.com/perbu/qest/pkg/qest"
	"github.com/perbu/qest/pkg/syncer"
	"github.com/perbu/qest/pkg/vectorstore"
)

var (
	uploadInput      string
	uploadCheckpoint string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Sync embedded chunks into the Qdrant collection",
	Long: "Creates the collection when missing, recreates it when the vector size changed " +
		"(discarding every stored point) and upserts all chunks in batches. A failed upload " +
		"leaves a checkpoint so the next run resumes at the failed batch.",
	Args: cobra.NoArgs,
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadInput, "input", "i", "embeddings.json", "embedding file to read")
	uploadCmd.Flags().StringVar(&uploadCheckpoint, "checkpoint", "embeddings/upload.gob", "resume checkpoint path")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if err := cfg.RequireVectorStore(); err != nil {
		return err
	}

	printHeader("qest upload")

	printStep("Step 1: Loading embeddings...")
	chunks, err := loader.LoadEmbeddings(uploadInput)
	if err != nil {
		return err
	}
	points := qest.PointsFromChunks(chunks)
	printOK("Loaded %d chunks (dim=%d)", len(points), len(points[0].Vector))

	store := vectorstore.NewQdrant(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.RequestTimeout)
	sy := syncer.New(store, syncer.Options{
		BatchSize:     cfg.BatchSize,
		SettleTimeout: cfg.SettleTimeout,
		Logger:        logger,
	})

	start := 0
	cp, err := syncer.LoadCheckpoint(uploadCheckpoint)
	switch {
	case err != nil:
		logger.Warn("ignoring unreadable checkpoint", zap.String("path", uploadCheckpoint), zap.Error(err))
	case cp.Matches(cfg.Collection, points, sy.BatchSize()):
		start = cp.NextBatch
		printOK("Resuming from checkpoint at batch %d", start+1)
	case cp != nil:
		printWarn("Checkpoint doesn't match current embeddings, starting fresh")
	}

	printStep("Step 2: Syncing collection %q...", cfg.Collection)
	report, err := sy.SyncFrom(cmd.Context(), points, cfg.Collection, start)
	if err != nil {
		var batchErr *syncer.BatchUploadError
		if errors.As(err, &batchErr) {
			if saveErr := syncer.SaveCheckpoint(uploadCheckpoint, syncer.NewCheckpoint(batchErr, points, sy.BatchSize())); saveErr != nil {
				logger.Error("saving checkpoint failed", zap.Error(saveErr))
			} else {
				printWarn("Progress saved to %s. Run again to resume.", uploadCheckpoint)
			}
		}
		return err
	}

	switch report.Action {
	case syncer.Created:
		printOK("Created collection %q", cfg.Collection)
	case syncer.Recreated:
		printWarn("Recreated collection %q for the new vector size; previous points were discarded", cfg.Collection)
	}
	if report.Skipped > 0 {
		printOK("Skipped %d points committed by an earlier run", report.Skipped)
	}
	printOK("Uploaded %d points (%d batches of up to %d)", report.Uploaded, report.Batches, sy.BatchSize())

	if err := syncer.RemoveCheckpoint(uploadCheckpoint); err != nil {
		printWarn("Could not remove checkpoint file: %v", err)
	}
	return nil
}
