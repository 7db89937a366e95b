package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvandessel/skillroute/internal/catalog"
	"github.com/nvandessel/skillroute/internal/config"
	"github.com/nvandessel/skillroute/internal/logging"
	"github.com/nvandessel/skillroute/internal/recommend"
	"github.com/nvandessel/skillroute/internal/store"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "skillroute",
		Short: "Route natural-language requests to the right CLI tool",
		Long: `skillroute picks a CLI tool, skills, and a ready-to-run command for a
natural-language request, and learns from satisfaction feedback.

Explicit scores come from 'skillroute feedback'; follow-up messages recorded
with 'skillroute follow-up' are scored automatically.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("data-dir", "", "Ledger directory (default: ~/.skillroute)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: <data-dir>/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newRecommendCmd(),
		newRunCmd(),
		newFeedbackCmd(),
		newFollowUpCmd(),
		newHistoryCmd(),
		newBackupCmd(),
		newRestoreFromBackupCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// loadConfig resolves the data directory and reads the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	flagDir, _ := cmd.Flags().GetString("data-dir")
	dataDir := flagDir
	if dataDir == "" {
		dataDir = os.Getenv("SKILLROUTE_DATA_DIR")
	}
	if dataDir == "" {
		dir, err := store.DefaultDataDir()
		if err != nil {
			return nil, err
		}
		dataDir = dir
	}
	if err := store.EnsureDataDir(dataDir); err != nil {
		return nil, err
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(dataDir, configPath)
	if err != nil {
		return nil, err
	}
	// The flag beats SKILLROUTE_DATA_DIR and the config file.
	if flagDir != "" {
		cfg.DataDir = flagDir
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Level, logging.Format(cfg.Logging.Format))
}

// openRouter builds a Router for a one-shot command. cat may be nil.
func openRouter(cmd *cobra.Command, cat catalog.Source) (*recommend.Router, *config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	router, err := recommend.Open(cfg, cat, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return router, cfg, logger, nil
}

// closeRouter flushes the follow-up buffer and reports failures on stderr.
func closeRouter(router *recommend.Router, logger *zap.Logger) {
	if err := router.Close(context.Background()); err != nil {
		logger.Warn("failed to close router", zap.Error(err))
	}
	logger.Sync()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "skillroute version %s\n", version)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the ledger directory and a default config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := store.EnsureGitignore(cfg.DataDir); err != nil {
				return err
			}

			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				configPath = filepath.Join(cfg.DataDir, config.FileName)
			}
			created := false
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				if err := cfg.Save(configPath); err != nil {
					return err
				}
				created = true
			}

			// Fail early on an unreadable ledger.
			st, err := store.Open(cfg.Store.Backend, cfg.DataDir)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}
			if err := st.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"status":         "initialized",
					"path":           cfg.DataDir,
					"config":         configPath,
					"config_created": created,
					"backend":        cfg.Store.Backend,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s (%s backend)\n", cfg.DataDir, cfg.Store.Backend)
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "  Config: %s\n", configPath)
			}
			return nil
		},
	}
}
