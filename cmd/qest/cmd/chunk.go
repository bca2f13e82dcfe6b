package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/perbu/qest/pkg/loader"
	"github.com/perbu/qest/pkg/qest"
)

var (
	chunkOutput  string
	chunkSize    int
	chunkOverlap int
)

var chunkCmd = &cobra.Command{
	Use:   "chunk <dir>",
	Short: "Split markdown and text documents into a chunk file",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunk,
}

func init() {
	chunkCmd.Flags().StringVarP(&chunkOutput, "output", "o", "final_chunk.json", "chunk file to write")
	chunkCmd.Flags().IntVar(&chunkSize, "chunk-size", loader.DefaultSplitter.ChunkSize, "maximum characters per chunk")
	chunkCmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", loader.DefaultSplitter.ChunkOverlap, "characters shared by neighbouring pieces")
}

func runChunk(cmd *cobra.Command, args []string) error {
	dir := args[0]
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %w", qest.ErrValidation, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", qest.ErrValidation, dir)
	}
	if chunkSize <= 0 || chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return fmt.Errorf("%w: need 0 <= overlap < size, got size=%d overlap=%d", qest.ErrValidation, chunkSize, chunkOverlap)
	}

	printHeader("qest chunking")
	printStep("Step 1: Loading and chunking documents...")
	chunks, err := loader.ChunkAll(os.DirFS(dir), ".", loader.Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap})
	if err != nil {
		return fmt.Errorf("%w: loading documents: %w", qest.ErrValidation, err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%s: %w", dir, qest.ErrEmptyInput)
	}
	printOK("Produced %d chunks", len(chunks))

	printStep("Step 2: Saving chunk file...")
	if err := loader.SaveChunks(chunkOutput, chunks); err != nil {
		return err
	}
	printOK("Saved to %s", chunkOutput)
	return nil
}
