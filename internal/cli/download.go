package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"legisrag/internal/adapter/fetch"
	"legisrag/internal/usecase"
	"legisrag/internal/workerpool"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Fetch the PDF of every stored document",
	Long: `Download the PDF of each stored document that has no storage path yet into
the artifact cache, retrying transient failures. A PDF already in the cache
is reused without a network fetch. Documents that still fail are reported
and left for the next run.`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := GetConfig()

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

	pool, err := workerpool.New(cfg.Download.Workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	// the per-attempt timeout is applied through the request context
	fetcher := fetch.NewPDFFetcher(artifacts, &http.Client{}, cfg.Download.MaxBytes, logger)
	uc := usecase.NewDownloadUseCase(docs, fetcher, pool, cfg.Download.Attempts, cfg.Download.Timeout, logger)

	result, err := uc.Download(ctx, newProgress("Downloading"))
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	fmt.Printf("\nDownload complete:\n")
	fmt.Printf("  Downloaded: %d\n", result.Downloaded)
	fmt.Printf("  Skipped:    %d (already stored)\n", result.Skipped)
	fmt.Printf("  Failed:     %d\n", result.Failed)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}
