package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"legisrag/config"
	"legisrag/internal/logging"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	logLevel string
	logger   = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "legisrag",
	Short: "Question answering over legislative documents",
	Long: `legisrag scrapes legislative document listings (bills, hansards, order
papers, votes and proceedings), stores them, downloads their PDFs, builds a
semantic index over their text and answers questions with cited sources.

Example usage:
  legisrag scrape                          # Extract and store listed documents
  legisrag download                        # Fetch PDFs for stored documents
  legisrag index                           # Rebuild the vector index
  legisrag query -q "status of the Electoral Act amendment"
  legisrag serve                           # Serve /query over HTTP`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg.Resolve(rootDir)

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}

		return config.EnsureDataDir(rootDir)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute runs the root command, cancelling its context on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./legisrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "data root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}
