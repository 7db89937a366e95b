package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/skillroute/internal/backup"
	"github.com/nvandessel/skillroute/internal/store"
)

// backupsToKeep is how many auto-named backups survive rotation.
const backupsToKeep = 10

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export the satisfaction ledger to a backup file",
		Long: `Backup all conversations and feedback to a compressed JSON file.

Default location: <data-dir>/backups/skillroute-backup-YYYYMMDD-HHMMSS.json.gz
Keeps the last 10 backups with automatic rotation.

Examples:
  skillroute backup                              # Backup to default location
  skillroute backup --output ledger.json.gz      # Backup to specific file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outputPath, _ := cmd.Flags().GetString("output")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			rotate := false
			dir := filepath.Join(cfg.DataDir, backup.DirName)
			if outputPath == "" {
				if err := os.MkdirAll(dir, 0700); err != nil {
					return fmt.Errorf("failed to create backup directory: %w", err)
				}
				outputPath = backup.GenerateBackupPath(dir)
				rotate = true
			}

			st, err := store.Open(cfg.Store.Backend, cfg.DataDir)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			result, err := backup.Backup(cmd.Context(), st, outputPath, &backup.WriteOptions{AppVersion: version})
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			if rotate {
				if err := backup.RotateBackups(dir, backupsToKeep); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to rotate backups: %v\n", err)
				}
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"path":               outputPath,
					"conversation_count": len(result.Conversations),
					"feedback_count":     len(result.Feedback),
					"message":            fmt.Sprintf("Backup created: %d conversations, %d feedback records", len(result.Conversations), len(result.Feedback)),
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Backup created: %d conversations, %d feedback records\n", len(result.Conversations), len(result.Feedback))
			fmt.Fprintf(cmd.OutOrStdout(), "  Path: %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().String("output", "", "Output file path (default: auto-generated in <data-dir>/backups/)")

	return cmd
}

func newRestoreFromBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore-backup <file>",
		Short: "Restore the ledger from a backup file",
		Long: `Restore conversations and feedback from a backup file. Both the
compressed format and plain JSON backups are accepted.

Modes:
  merge   - Keep existing records, add the backup's new ones (default)
  replace - Discard the ledger, then restore

Examples:
  skillroute restore-backup ~/.skillroute/backups/skillroute-backup-20260206-120000.json.gz
  skillroute restore-backup backup.json.gz --mode replace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			jsonOut, _ := cmd.Flags().GetBool("json")
			mode, _ := cmd.Flags().GetString("mode")

			restoreMode := backup.RestoreMode(mode)
			switch restoreMode {
			case backup.RestoreMerge, backup.RestoreReplace:
			default:
				return fmt.Errorf("unknown restore mode %q (want merge or replace)", mode)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Store.Backend, cfg.DataDir)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer st.Close()

			result, err := backup.Restore(cmd.Context(), st, inputPath, restoreMode)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"conversations_restored": result.ConversationsRestored,
					"conversations_skipped":  result.ConversationsSkipped,
					"feedback_restored":      result.FeedbackRestored,
					"feedback_skipped":       result.FeedbackSkipped,
					"message":                fmt.Sprintf("Restore complete: %d conversations, %d feedback records", result.ConversationsRestored, result.FeedbackRestored),
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Restore complete (mode: %s)\n", mode)
			fmt.Fprintf(cmd.OutOrStdout(), "  Conversations: %d restored, %d skipped\n", result.ConversationsRestored, result.ConversationsSkipped)
			fmt.Fprintf(cmd.OutOrStdout(), "  Feedback: %d restored, %d skipped\n", result.FeedbackRestored, result.FeedbackSkipped)
			return nil
		},
	}

	cmd.Flags().String("mode", "merge", "Restore mode: merge or replace")

	return cmd
}
