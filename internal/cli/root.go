// Package cli wires the command line surface to the batch pipeline.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imgpipe/internal/config"
	"imgpipe/internal/ledger"
	"imgpipe/internal/repository"
	"imgpipe/internal/service"
	"imgpipe/pkg/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "imgpipe <directory>",
	Short: "Convert generated images and upload them to object storage",
	Long: `Scans a directory for generated PNG images, converts them to JPEG,
uploads each one exactly once to S3-compatible storage (Cloudflare R2,
MinIO), records completed uploads in a local ledger and removes the
local files.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.String("pattern", config.DefaultPattern, "regex filter for candidate filenames")
	f.String("id-pattern", config.DefaultIdentityPattern, "structural pattern extracting id and seed from a filename stem")
	f.String("bucket", "", "destination bucket name (required)")
	f.Int("quality", config.DefaultQuality, "JPEG re-encode quality (1-100)")
	f.Bool("no-cleanup", false, "keep local files after upload")
	f.Bool("keep-converted", false, "remove only source files, keep converted JPEGs")
	f.Bool("dry-run", false, "run the full pipeline without uploading")
	f.Int("max-workers", config.DefaultMaxWorkers, "worker pool size")
	f.String("ledger", "", "upload ledger path (default: beside the binary)")
	f.String("log-file", "", "mirror log output into this file")
	f.String("endpoint", "", "object storage endpoint URL")
	f.String("access-key", "", "object storage access key")
	f.String("secret-key", "", "object storage secret key")
	f.String("region", "auto", "object storage region")
	f.String("cache-control", config.DefaultCacheControl, "Cache-Control header for uploaded objects")
	f.StringVar(&configFile, "config", "", "JSON or INI config file")
}

// Execute runs the root command. The process exits non-zero when
// configuration is invalid or the batch finished with any error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0], configFile, cmd.Flags())
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	led, err := ledger.Open(cfg.LedgerPath, log)
	if err != nil {
		return err
	}
	defer led.Close()

	var store repository.RemoteStore
	if !cfg.DryRun {
		store, err = repository.NewS3Store(cmd.Context(), &cfg.S3, log)
		if err != nil {
			return err
		}
	}

	pipe, err := service.New(cfg, store, led, log)
	if err != nil {
		return err
	}

	summary := pipe.Run(cmd.Context())
	if n := len(summary.Errors); n > 0 {
		return fmt.Errorf("batch completed with %d errors", n)
	}
	return nil
}
