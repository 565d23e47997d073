// Command fastcopy is the CLI boundary over internal/controller. It only
// parses arguments, applies config-file defaults, and maps the run
// summary to an exit code — no copy logic lives here.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fastcopy/fastcopy/internal/config"
	"github.com/fastcopy/fastcopy/internal/controller"
)

var version = "dev"

func main() {
	os.Exit(run())
}

//nolint:gocyclo // flag parsing and mode selection, mirrors the teacher's single-entry-point CLI
func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var (
		rateLimit      string
		workers        int
		maxMemoryBytes int64
		maxRetries     int
		stopOnError    bool
		verify         bool
		dryRun         bool
		deleteSource   bool
		quiet          bool
		journalPath    string
		recoveryDir    string
		onCompletion   string
		showVersion    bool
	)

	rootCmd := &cobra.Command{
		Use:   "fastcopy SOURCE DESTINATION",
		Short: "High-throughput local/remote file replication",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				cmd.Println(version)
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				slog.Warn("config load failed, continuing with flag defaults", "error", err)
			}
			applyConfigDefaults(cmd, cfg.Defaults, &rateLimit, &workers, &maxRetries, &stopOnError, &verify, &quiet)
			if !cmd.Flags().Changed("max-memory") && cfg.Defaults.MaxMemoryBytes != nil {
				maxMemoryBytes = *cfg.Defaults.MaxMemoryBytes
			}
			if !cmd.Flags().Changed("journal") && cfg.Defaults.JournalPath != nil {
				journalPath = *cfg.Defaults.JournalPath
			}
			if !cmd.Flags().Changed("recovery-dir") && cfg.Defaults.RecoveryDir != nil {
				recoveryDir = *cfg.Defaults.RecoveryDir
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ctrl, err := controller.New(ctx, controller.Options{
				SourceRoot:       args[0],
				DestinationRoot:  args[1],
				RateLimit:        rateLimit,
				MaxMemoryBytes:   maxMemoryBytes,
				MaxParallelism:   workers,
				MaxRetries:       maxRetries,
				StopOnError:      stopOnError,
				PreserveMetadata: true,
				SparseDetect:     true,
				JournalPath:      journalPath,
				RecoveryDir:      recoveryDir,
				VerifyAfter:      verify,
				DryRun:           dryRun,
				DeleteSource:     deleteSource,
				OnCompletion:     onCompletion,
				Quiet:            quiet,
				Logger:           logger,
			})
			if err != nil {
				return err
			}

			summary := ctrl.Run(ctx)
			if !quiet {
				cmd.Printf("copied %d files, %d bytes (%d failed)\n",
					summary.Stats.FilesCopied, summary.Stats.BytesCopied, summary.Stats.FilesFailed)
			}
			return summary.Err
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	rootCmd.Flags().StringVar(&rateLimit, "rate-limit", "", "throttle transfer rate, e.g. 50MB (default: unlimited)")
	rootCmd.Flags().IntVarP(&workers, "workers", "n", 0, "max parallel workers (default: benchmark-suggested)")
	rootCmd.Flags().Int64Var(&maxMemoryBytes, "max-memory", 0, "memory cap in bytes before the watchdog throttles parallelism")
	rootCmd.Flags().IntVar(&maxRetries, "max-retries", 2, "retries per job before dead-lettering to the recovery store")
	rootCmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "abort the whole run on the first unrecoverable error")
	rootCmd.Flags().BoolVar(&verify, "verify", false, "run a BLAKE3 verification pass after the copy completes")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be copied without writing")
	rootCmd.Flags().BoolVar(&deleteSource, "delete-source", false, "remove each source file after it copies successfully")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress the summary line")
	rootCmd.Flags().StringVar(&journalPath, "journal", "fastcopy.journal", "path to the crash-resumable journal")
	rootCmd.Flags().StringVar(&recoveryDir, "recovery-dir", "", "directory for the failed-job stream (default: system temp dir)")
	rootCmd.Flags().StringVar(&onCompletion, "on-completion", "", "shell command to run after a successful, non-dry-run completion")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("fastcopy failed", "error", err)
		return 1
	}
	return 0
}

func applyConfigDefaults(
	cmd *cobra.Command,
	defaults config.DefaultsConfig,
	rateLimit *string,
	workers *int,
	maxRetries *int,
	stopOnError *bool,
	verify *bool,
	quiet *bool,
) {
	if !cmd.Flags().Changed("rate-limit") && defaults.RateLimit != nil {
		*rateLimit = *defaults.RateLimit
	}
	if !cmd.Flags().Changed("workers") && defaults.Workers != nil {
		*workers = *defaults.Workers
	}
	if !cmd.Flags().Changed("max-retries") && defaults.MaxRetries != nil {
		*maxRetries = *defaults.MaxRetries
	}
	if !cmd.Flags().Changed("stop-on-error") && defaults.StopOnError != nil {
		*stopOnError = *defaults.StopOnError
	}
	if !cmd.Flags().Changed("verify") && defaults.VerifyAfter != nil {
		*verify = *defaults.VerifyAfter
	}
	if !cmd.Flags().Changed("quiet") && defaults.Quiet != nil {
		*quiet = *defaults.Quiet
	}
}
