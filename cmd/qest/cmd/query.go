package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/perbu/qest/pkg/qest"
)

var (
	queryLimit   int
	queryVerbose bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question...>",
	Short: "Answer a question from the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryLimit, "top", "k", 0, "number of chunks to retrieve (0 uses QEST_RETRIEVAL_LIMIT)")
	queryCmd.Flags().BoolVarP(&queryVerbose, "verbose", "v", false, "show retrieved chunks and scores")
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("%w: empty question", qest.ErrValidation)
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	agent, err := buildAgent(cfg, queryLimit, logger)
	if err != nil {
		return err
	}

	qc, err := agent.Ask(cmd.Context(), question)
	if queryVerbose {
		for i, h := range qc.Retrieved {
			fmt.Printf("%s %d. [%s] score=%.3f\n", color.CyanString("»"), i+1, h.ID, h.Score)
			fmt.Printf("   %s\n", firstLine(h.Text()))
		}
		fmt.Println()
	}
	fmt.Println(qc.Answer)
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
