package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"legisrag/internal/adapter/analyzer"
	"legisrag/internal/adapter/chunker"
	"legisrag/internal/adapter/embedding"
	"legisrag/internal/adapter/fetch"
	"legisrag/internal/adapter/store"
	"legisrag/internal/usecase"
	"legisrag/internal/workerpool"
)

var (
	indexIncremental bool
	indexDocs        []string
	indexRefresh     bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the vector index from stored documents",
	Long: `Chunk the text of every stored document, embed the chunks and write the
vector index. By default the index is rebuilt; the previous index stays in
use until the new one is complete. With --incremental the chunks are added
to the existing index instead.

The document snapshot and prepared chunks are cached per pipeline settings.
Use --refresh after scraping or downloading to pick up new documents.

Examples:
  legisrag index
  legisrag index --refresh
  legisrag index --incremental --doc bills/1234`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexIncremental, "incremental", false, "add to the existing index instead of rebuilding")
	indexCmd.Flags().StringSliceVar(&indexDocs, "doc", nil, "only index these documents (doc_type/doc_id or doc_id)")
	indexCmd.Flags().BoolVar(&indexRefresh, "refresh", false, "ignore cached snapshots and re-read the document store")
}

func runIndex(cmd *cobra.Command, args []string) error {
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

	tokenizer, err := analyzer.New(cfg.Index.Tokenizer)
	if err != nil {
		return err
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}

	var opts []store.IndexOption
	if !indexIncremental {
		opts = append(opts, store.ForRebuild())
	}
	index, err := store.OpenVectorIndex(cfg.Index.Dir, cfg.Index.Name, indexManifest(cfg, embedder), opts...)
	if err != nil {
		return fmt.Errorf("failed to open index %s: %w", cfg.Index.Name, err)
	}
	defer index.Close()

	prepPool, err := workerpool.New(cfg.Index.PrepWorkers)
	if err != nil {
		return err
	}
	defer prepPool.Release()

	embedPool, err := workerpool.New(cfg.Embedding.Workers)
	if err != nil {
		return err
	}
	defer embedPool.Release()

	stage := embedding.NewStage(embedder, embedPool,
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithAttempts(cfg.Embedding.Attempts),
		embedding.WithTimeout(cfg.Embedding.Timeout),
		embedding.WithLogger(logger),
	)

	uc := usecase.NewIndexUseCase(
		docs,
		artifacts,
		fetch.NewTextExtractor(artifacts),
		chunker.NewTokenChunker(cfg.Index.ChunkTokens, cfg.Index.ChunkOverlap, tokenizer),
		stage,
		index,
		prepPool,
		cfg.PipelineHash(),
		logger,
	)

	fmt.Printf("Indexing with %s (%d dims), pipeline %s\n", embedder.ModelName(), embedder.Dimension(), cfg.PipelineHash())

	result, err := uc.Index(ctx, usecase.IndexOptions{
		Incremental: indexIncremental,
		DocIDs:      indexDocs,
		Refresh:     indexRefresh,
		Progress:    newProgress("Preparing"),
	})
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	mode := "rebuilt"
	if result.Incremental {
		mode = "updated"
	}

	fmt.Printf("\nIndex %s:\n", mode)
	fmt.Printf("  Documents:       %d\n", result.Documents)
	fmt.Printf("  Indexed:         %d\n", result.Indexed)
	fmt.Printf("  Excluded:        %d (no text or pdf)\n", len(result.Excluded))
	fmt.Printf("  Title fallbacks: %d\n", result.TitleFallbacks)
	fmt.Printf("  Chunks:          %d\n", result.Chunks)
	fmt.Printf("  Index entries:   %d\n", result.IndexSize)
	if result.SnapshotHit || result.ChunksHit {
		fmt.Printf("  (cached snapshot: documents=%v chunks=%v)\n", result.SnapshotHit, result.ChunksHit)
	}

	fmt.Printf("\nIndex stored at: %s\n", store.IndexPath(cfg.Index.Dir, cfg.Index.Name))
	return nil
}
