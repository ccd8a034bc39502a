package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	queryText      string
	queryTopK      int
	queryJSON      bool
	queryRequestID string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Answer a question from the indexed documents",
	Long: `Retrieve the passages most similar to the question and have the language
model answer from them. The answer is printed with the download URLs of the
documents it was drawn from.

Examples:
  legisrag query -q "What is the status of the Electoral Act amendment bill?"
  legisrag query -q "Who sponsored the police reform bill?" --json`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "passages to retrieve, 2-5 (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().StringVar(&queryRequestID, "request-id", "", "request id to record (default generated)")
	queryCmd.MarkFlagRequired("query")
}

func applyTopK() error {
	if queryTopK == 0 {
		return nil
	}
	if queryTopK < 2 || queryTopK > 5 {
		return fmt.Errorf("--top-k must be between 2 and 5, got %d", queryTopK)
	}
	cfg.Retrieve.TopK = queryTopK
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	if err := applyTopK(); err != nil {
		return err
	}

	var c closers
	defer c.Close()

	answerer, err := newAnswerer(ctx, cfg, &c)
	if err != nil {
		return err
	}

	answer, err := answerer.Answer(ctx, queryText, queryRequestID)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(answer, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Printf("\nSources:\n")
		for i, s := range answer.Sources {
			fmt.Printf("  [%d] %s\n", i+1, s)
		}
	}
	return nil
}
