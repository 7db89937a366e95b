// Package backup snapshots the satisfaction ledger to a checksummed gzip
// file and restores it into any store backend.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nvandessel/skillroute/internal/models"
	"github.com/nvandessel/skillroute/internal/store"
)

// DirName is the backup directory inside the data dir.
const DirName = "backups"

const filePrefix = "skillroute-backup-"

// RestoreMode selects how a backup meets existing ledger contents.
type RestoreMode string

const (
	// RestoreMerge keeps existing records and adds the backup's new ones.
	RestoreMerge RestoreMode = "merge"

	// RestoreReplace discards the ledger and loads the backup.
	RestoreReplace RestoreMode = "replace"
)

// RestoreResult counts what Restore did.
type RestoreResult struct {
	ConversationsRestored int `json:"conversations_restored"`
	ConversationsSkipped  int `json:"conversations_skipped"`
	FeedbackRestored      int `json:"feedback_restored"`
	FeedbackSkipped       int `json:"feedback_skipped"`
}

// Backup writes a V2 snapshot of st to path.
func Backup(ctx context.Context, st store.Store, path string, opts *WriteOptions) (*BackupFormat, error) {
	convs, fb, err := st.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}
	bf := &BackupFormat{
		Version:       FormatV2,
		CreatedAt:     time.Now().UTC(),
		Conversations: nonNil(convs),
		Feedback:      nonNil(fb),
	}
	if err := WriteV2(path, bf, opts); err != nil {
		return nil, err
	}
	return bf, nil
}

// Restore loads the backup at path into st.
func Restore(ctx context.Context, st store.Store, path string, mode RestoreMode) (*RestoreResult, error) {
	bf, err := Read(path)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{}
	var convs []models.Conversation
	var fb []models.Feedback

	switch mode {
	case RestoreReplace:
		convs, fb = bf.Conversations, bf.Feedback
		result.ConversationsRestored = len(convs)
		result.FeedbackRestored = len(fb)

	case RestoreMerge, "":
		convs, fb, err = st.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot store: %w", err)
		}
		seen := make(map[string]bool, len(convs))
		for _, c := range convs {
			seen[c.ID] = true
		}
		for _, c := range bf.Conversations {
			if seen[c.ID] {
				result.ConversationsSkipped++
				continue
			}
			seen[c.ID] = true
			convs = append(convs, c)
			result.ConversationsRestored++
		}

		seenFb := make(map[string]bool, len(fb))
		for _, f := range fb {
			seenFb[f.ID] = true
		}
		for _, f := range bf.Feedback {
			if seenFb[f.ID] {
				result.FeedbackSkipped++
				continue
			}
			seenFb[f.ID] = true
			fb = append(fb, f)
			result.FeedbackRestored++
		}

	default:
		return nil, fmt.Errorf("unknown restore mode %q", mode)
	}

	if err := st.Replace(ctx, nonNil(convs), nonNil(fb)); err != nil {
		return nil, fmt.Errorf("failed to restore store: %w", err)
	}
	return result, nil
}

// GenerateBackupPath returns a timestamped backup file path in dir.
func GenerateBackupPath(dir string) string {
	name := filePrefix + time.Now().UTC().Format("20060102-150405") + ".json.gz"
	return filepath.Join(dir, name)
}

// RotateBackups deletes all but the newest keep backups in dir. Names sort
// chronologically, so the oldest go first.
func RotateBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list backups: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), filePrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for len(names) > keep {
		if err := os.Remove(filepath.Join(dir, names[0])); err != nil {
			return fmt.Errorf("failed to remove old backup: %w", err)
		}
		names = names[1:]
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
