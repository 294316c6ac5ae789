package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rrgmc/syncdata"
	"github.com/rrgmc/syncdata/config"
)

var (
	flagImporter string
	flagDownload bool
	flagGenerate bool
	flagVerbose  bool
	flagMessage  string
)

var rootCmd = &cobra.Command{
	Use:   "syncdata",
	Short: "Staged collection importer",
	Long: `syncdata runs registered importers: staged collections are loaded,
remote resources fetched, transient references resolved and rows upserted
into the configured store.

Examples:
  syncdata list                      # List registered importers
  syncdata run -i catalog            # Run the catalog importer
  syncdata run -i catalog --generate=false   # Fetch resources only`,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered importers",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range syncdata.Importers() {
			fmt.Println(name)
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an importer",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Sync()

		importer, err := syncdata.Lookup(flagImporter)
		if err != nil {
			return err
		}

		cfg, err := config.Load(".")
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		importer.Configure(
			syncdata.WithLogger(logger),
			syncdata.WithLock(syncdata.NewFileLock(
				cfg.Lock.Dir,
				cfg.Lock.Name,
				time.Duration(cfg.Lock.StalenessMinutes)*time.Minute,
			)),
			syncdata.WithDownloader(syncdata.NewDownloader(
				syncdata.WithDownloadWorkers(cfg.Download.Workers),
				syncdata.WithDownloadTries(cfg.Download.Tries),
				syncdata.WithDownloadBackoff(time.Duration(cfg.Download.BackoffSeconds)*time.Second),
				syncdata.WithDownloadClient(&http.Client{
					Timeout: time.Duration(cfg.Download.TimeoutSeconds) * time.Second,
				}),
			)),
		)

		result, err := importer.Run(cmd.Context(),
			syncdata.WithDownload(flagDownload),
			syncdata.WithGenerate(flagGenerate),
			syncdata.WithVerbose(flagVerbose),
			syncdata.WithMessage(flagMessage),
		)
		if err != nil {
			logger.Error("run failed", zap.String("importer", flagImporter), zap.Error(err))
		}
		if result != nil {
			fmt.Println(result.Log)
			// exit in main, after deferred cleanup has flushed the logger.
			exitStatus = int(result.Status)
		}
		return err
	},
}

// exitStatus is the process exit code decided by the run command: the run
// status when a run completed, 1 on any earlier failure.
var exitStatus int

func init() {
	runCmd.Flags().StringVarP(&flagImporter, "importer", "i", "", "importer name to run")
	runCmd.Flags().BoolVar(&flagDownload, "download", true, "fetch remote resources")
	runCmd.Flags().BoolVar(&flagGenerate, "generate", true, "persist the staged collections")
	runCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "dump invalid items in the report")
	runCmd.Flags().StringVarP(&flagMessage, "message", "m", "", "free-form run description for the report")
	_ = runCmd.MarkFlagRequired("importer")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitStatus == 0 {
			exitStatus = 1
		}
	}
	os.Exit(exitStatus)
}
