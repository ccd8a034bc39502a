package cli

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"legisrag/internal/adapter/scrape"
	"legisrag/internal/domain"
	"legisrag/internal/usecase"
)

var scrapeSources []string

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Extract documents from listing pages and store them",
	Long: `Extract document records from the listing table of each configured source
and upsert them into the document store. A source is a saved HTML file, a
glob of files or an http(s) URL. A JSON snapshot of the scrape is written
to the artifact cache.

Examples:
  legisrag scrape
  legisrag scrape --source bills=pages/bills.html --source hansard='pages/hansard/*.html'`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)
	scrapeCmd.Flags().StringArrayVar(&scrapeSources, "source", nil, "doc_type=location, overrides config (repeatable)")
}

func scrapeSourceMap() (map[domain.DocType]string, error) {
	raw := make(map[string]string, len(cfg.Scrape.Sources)+len(scrapeSources))
	for k, v := range cfg.Scrape.Sources {
		raw[k] = v
	}
	for _, s := range scrapeSources {
		k, v, ok := strings.Cut(s, "=")
		if !ok || v == "" {
			return nil, fmt.Errorf("invalid --source %q, want doc_type=location", s)
		}
		raw[k] = v
	}

	sources := make(map[domain.DocType]string, len(raw))
	for k, v := range raw {
		t, ok := domain.ParseDocType(k)
		if !ok {
			return nil, fmt.Errorf("unknown doc type %q", k)
		}
		sources[t] = v
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no scrape sources configured; set scrape.sources or pass --source")
	}
	return sources, nil
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

	sources, err := scrapeSourceMap()
	if err != nil {
		return err
	}

	docs, err := openDocStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer docs.Close()

	artifacts, err := openCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open artifact cache: %w", err)
	}
	defer artifacts.Close()

	extractor := scrape.NewExtractor(
		scrape.WithRowSelector(cfg.Scrape.RowSelector),
		scrape.WithBillDownloadURL(cfg.Scrape.BillDownloadURL),
		scrape.WithHTTPClient(&http.Client{Timeout: cfg.Scrape.Timeout}),
		scrape.WithLogger(logger),
	)

	uc := usecase.NewScrapeUseCase(extractor, docs, artifacts, logger)
	result, err := uc.Scrape(ctx, sources)
	if result != nil {
		fmt.Printf("Scrape complete:\n")
		fmt.Printf("  Documents extracted: %d\n", result.Extracted)

		types := make([]string, 0, len(result.ByType))
		for t := range result.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Printf("    %-22s %d\n", t+":", result.ByType[domain.DocType(t)])
		}

		fmt.Printf("  Documents stored:    %d\n", result.Inserted)
		fmt.Printf("  Batches:             %d (%d failed)\n", result.Batches, result.FailedBatches)
		if result.SnapshotURI != "" {
			fmt.Printf("  Snapshot:            %s\n", result.SnapshotURI)
		}
	}
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}
	return nil
}
