package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"legisrag/internal/domain"
)

var (
	searchText string
	searchTopK int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Show the nearest passages for a query with similarity ratings",
	Long: `Embed the query and list the nearest index entries with their scores, as a
check of retrieval quality. No language model is called and the top-k
limits of the answering stage do not apply.

Example:
  legisrag search -q "host communities fund" -k 10`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchText, "query", "q", "", "query (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 10, "number of results")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	var c closers
	defer c.Close()

	ret, err := newRetriever(ctx, cfg, &c)
	if err != nil {
		return err
	}

	results, err := ret.Search(ctx, searchText, searchTopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Query: %q\n", searchText)
	fmt.Println(strings.Repeat("-", 70))

	totalScore := 0.0
	for i, r := range results {
		preview := truncate(strings.ReplaceAll(r.Text(), "\n", " "), 150)
		totalScore += r.Score

		fmt.Printf("%d. [%s %.3f] %s #%s\n", i+1, rating(r.Score),
			r.Score, r.Metadata[domain.MetaDocumentID], r.Metadata[domain.MetaSequenceNo])
		fmt.Printf("   %s\n", r.Metadata[domain.MetaTitle])
		fmt.Printf("   %s\n\n", preview)
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Average similarity: %.3f\n", avgScore)
	fmt.Printf("Top-1 similarity:   %.3f\n", results[0].Score)
	return nil
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
