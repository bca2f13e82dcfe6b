package cmd

import (
	"github.com/spf13/cobra"

	"github.com/perbu/qest/pkg/embedder"
	"github.com/perbu/qest/pkg/loader"
)

var (
	embedInput  string
	embedOutput string
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Attach an embedding to every chunk",
	Args:  cobra.NoArgs,
	RunE:  runEmbed,
}

func init() {
	embedCmd.Flags().StringVarP(&embedInput, "input", "i", "final_chunk.json", "chunk file to read")
	embedCmd.Flags().StringVarP(&embedOutput, "output", "o", "embeddings.json", "embedding file to write")
}

func runEmbed(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	printHeader("qest embedding generation")

	printStep("Step 1: Loading chunks...")
	chunks, err := loader.LoadChunks(embedInput)
	if err != nil {
		return err
	}
	printOK("Loaded %d chunks from %s", len(chunks), embedInput)

	printStep("Step 2: Initializing embedder...")
	emb, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	printOK("Embedder initialized (%s)", emb.ModelInfo())

	printStep("Step 3: Generating embeddings...")
	embedded, err := embedder.Generate(cmd.Context(), emb, chunks, logger)
	if err != nil {
		return err
	}
	if dropped := len(chunks) - len(embedded); dropped > 0 {
		printWarn("Skipped %d chunks without text", dropped)
	}
	printOK("Generated %d embeddings (dim=%d)", len(embedded), len(embedded[0].Embedding))

	printStep("Step 4: Saving embeddings...")
	if err := loader.SaveChunks(embedOutput, embedded); err != nil {
		return err
	}
	printOK("Saved to %s", embedOutput)
	return nil
}
