package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"legisrag/internal/usecase"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print the prompt a query would send, without calling the model",
	Long: `Retrieve passages for the question and print the system and user prompts
the answering stage would send to the language model. No model is called,
so no LLM credentials are needed.

Example:
  legisrag prompt -q "What is the status of the Electoral Act amendment bill?"`,
	Args: cobra.NoArgs,
	RunE: runPromptPreview,
}

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.Flags().StringVarP(&queryText, "query", "q", "", "question (required)")
	promptCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "passages to retrieve, 2-5 (default from config)")
	promptCmd.MarkFlagRequired("query")
}

func runPromptPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	if err := applyTopK(); err != nil {
		return err
	}

	var c closers
	defer c.Close()

	r, err := newRetriever(ctx, cfg, &c)
	if err != nil {
		return err
	}

	passages, err := usecase.NewAnswerUseCase(r, nil, nil, cfg.Retrieve.TopK, logger).Retrieve(ctx, queryText)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	system, user, err := usecase.Prompt(queryText, passages)
	if err != nil {
		return err
	}

	fmt.Println("=== SYSTEM ===")
	fmt.Println(system)
	fmt.Println("\n=== USER ===")
	fmt.Println(user)
	fmt.Printf("=== %d passages ===\n", len(passages))
	for i, p := range passages {
		fmt.Printf("  [%d] %s score=%.3f %s\n", i+1, p.ID, p.Score, p.Source)
	}
	return nil
}
