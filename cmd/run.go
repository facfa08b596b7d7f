package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"golang.org/x/time/rate"

	"docindex/internal/backend"
	"docindex/internal/backend/azsearch"
	"docindex/internal/backend/wvstore"
	"docindex/internal/checkpoint"
	"docindex/internal/config"
	"docindex/internal/logger"
	"docindex/internal/pipeline"
	"docindex/internal/schema"
	"docindex/internal/uploader"
)

var (
	inputPath      string
	schemaPath     string
	indexName      string
	backendName    string
	pattern        string
	checkpointPath string
	batchSize      int
	concurrency    int
	recursive      bool
	dryRun         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the indexing pipeline",
	Long: `Discover extraction JSON files under --input, flatten and validate them
against --schema, and upload the records to the configured index backend.

Exit codes: 0 clean run, 1 completed with validation/upload failures,
2 fatal error (index lifecycle or authentication).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stderr, nil)))
		slog.SetDefault(log)

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, cfg)

		sch, err := schema.Load(schemaPath)
		if err != nil {
			return err
		}

		be, err := buildBackend(cfg, sch)
		if err != nil {
			return err
		}

		cp, err := checkpoint.Open(cfg.CheckpointPath)
		if err != nil {
			return err
		}

		limiter := rate.NewLimiter(rate.Limit(cfg.UploadRequestsPerS), 1)
		up := uploader.New(be,
			uploader.RetryPolicy{
				MaxAttempts:     cfg.UploadMaxAttempts,
				InitialInterval: time.Second,
				Multiplier:      2,
			},
			limiter,
			time.Duration(cfg.UploadTimeoutSecs)*time.Second,
			log,
		)

		p := pipeline.New(be, sch, up, cp, pipeline.Options{
			Input:       inputPath,
			Pattern:     pattern,
			Recursive:   recursive,
			BatchSize:   cfg.BatchSize,
			Concurrency: cfg.Concurrency,
			DryRun:      dryRun,
		}, log)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report := p.Run(ctx)
		report.LogSummary(log)

		if code := report.ExitCode(); code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("index") {
		cfg.IndexName = indexName
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = backendName
	}
	if cmd.Flags().Changed("batch") {
		cfg.BatchSize = batchSize
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = concurrency
	}
	if cmd.Flags().Changed("checkpoint") {
		cfg.CheckpointPath = checkpointPath
	}
}

func buildBackend(cfg *config.Config, sch *schema.Schema) (backend.Backend, error) {
	switch cfg.Backend {
	case config.BackendAzure:
		client := azsearch.New(cfg.SearchEndpoint, cfg.SearchAPIKey, cfg.IndexName,
			time.Duration(cfg.UploadTimeoutSecs)*time.Second)
		client.SetAPIVersion(cfg.SearchAPIVersion)
		return client, nil

	case config.BackendWeaviate:
		wc, err := weaviate.NewClient(weaviate.Config{
			Host:   cfg.WeaviateHost,
			Scheme: cfg.WeaviateScheme,
		})
		if err != nil {
			return nil, fmt.Errorf("weaviate client: %w", err)
		}
		return wvstore.New(wc, cfg.IndexName, sch), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func init() {
	runCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Extraction JSON file or directory (required)")
	runCmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "Index field schema JSON file (required)")
	runCmd.Flags().StringVar(&indexName, "index", "", "Index name (overrides INDEX_NAME)")
	runCmd.Flags().StringVar(&backendName, "backend", "", "Index backend: azure or weaviate (overrides INDEX_BACKEND)")
	runCmd.Flags().StringVar(&pattern, "pattern", pipeline.DefaultPattern, "Filename glob when --input is a directory")
	runCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "Checkpoint file path (overrides CHECKPOINT_PATH)")
	runCmd.Flags().IntVar(&batchSize, "batch", uploader.DefaultBatchSize, "Upload batch size")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent files (overrides INDEX_CONCURRENCY)")
	runCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Scan --input directory recursively")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Flatten and validate only, no uploads")

	_ = runCmd.MarkFlagRequired("input")
	_ = runCmd.MarkFlagRequired("schema")

	rootCmd.AddCommand(runCmd)
}
