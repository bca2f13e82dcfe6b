package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/perbu/qest/pkg/config"
	"github.com/perbu/qest/pkg/embedder"
	"github.com/perbu/qest/pkg/logging"
	"github.com/perbu/qest/pkg/qest"
	"github.com/perbu/qest/pkg/syncer"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitInput    = 1 // load, validation or configuration error
	ExitExternal = 2 // vector store or language model failure
)

// version can be overridden at build time via:
// go build -ldflags "-X github.com/perbu/qest/cmd/qest/cmd.version=1.2.3"
var version = "0.1.0"

var (
	debugFlag    bool
	embedderFlag string
)

var rootCmd = &cobra.Command{
	Use:           "qest",
	Short:         "Legal question answering over a Qdrant knowledge base",
	Long:          "qest chunks documents, embeds them, syncs them into Qdrant and answers questions from the closest chunks.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&embedderFlag, "embedder", "openai", "embedding backend: openai or hash (offline, deterministic)")

	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		return ExitCode(err)
	}
	return ExitOK
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var batchErr *syncer.BatchUploadError
	var embErr *embedder.EmbeddingError
	switch {
	case errors.As(err, &batchErr), errors.As(err, &embErr), errors.Is(err, qest.ErrExternal):
		return ExitExternal
	default:
		return ExitInput
	}
}

// setup loads the configuration and builds the logger shared by all commands.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", qest.ErrValidation, err)
	}
	return cfg, logging.Must(cfg.Debug || debugFlag), nil
}

// newEmbedder returns the embedding backend chosen by --embedder.
func newEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch embedderFlag {
	case "hash":
		dim := cfg.EmbeddingDims
		if dim <= 0 {
			dim = 384
		}
		return embedder.NewHashEmbedder(dim), nil
	case "openai", "":
		if err := cfg.RequireEmbedding(); err != nil {
			return nil, err
		}
		return embedder.NewOpenAIEmbedder(cfg.OpenAIConfig(), cfg.EmbeddingModel, cfg.EmbeddingDims)
	default:
		return nil, fmt.Errorf("unknown embedder %q (want openai or hash)", embedderFlag)
	}
}

func printHeader(title string) {
	fmt.Println(color.CyanString(title))
	fmt.Println(color.CyanString("=================================="))
	fmt.Println()
}

func printStep(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

func printOK(format string, args ...any) {
	fmt.Printf("  %s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

func printWarn(format string, args ...any) {
	fmt.Printf("  %s %s\n", color.YellowString("⚠"), fmt.Sprintf(format, args...))
}
