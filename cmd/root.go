package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/thermalgait/internal/config"
	"github.com/andresmejia3/thermalgait/internal/logging"
	"github.com/andresmejia3/thermalgait/internal/store"
)

// needsDB marks commands that open the job store before running.
const needsDB = "needs-db"

var (
	// Cfg is the loaded configuration shared by subcommands
	Cfg *config.Config
	// Logger is the process-wide structured logger
	Logger *zap.Logger
	// DB is the job store, opened only for commands annotated with needsDB
	DB store.Store

	configPath string
	dbURL      string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "thermalgait",
	Short:   "Thermal gait anomaly analysis",
	Long:    "Validates thermal footage, builds gait energy images and scores them against an autoencoder.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		// Flags win over file and environment.
		if dbURL != "" {
			Cfg.Database.URL = dbURL
		}
		if logLevel != "" {
			Cfg.Logging.Level = logLevel
		}

		Logger, err = logging.New(Cfg.Logging.Level, Cfg.Logging.File)
		if err != nil {
			return err
		}
		cmd.SetContext(logging.ContextWithLogger(cmd.Context(), Logger))

		if cmd.Annotations[needsDB] == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.Open(cmd.Context(), Cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to open job store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		if Logger != nil {
			logging.Sync(Logger)
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Job store: postgres:// URL or SQLite file (default: "+config.DefaultDatabaseURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}
