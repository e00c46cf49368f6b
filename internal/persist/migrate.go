package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// MigrateOptions configures a conversion between two snapshots.
type MigrateOptions struct {
	From   Persister // Source snapshot
	To     Persister // Destination snapshot
	DryRun bool      // Load and count without writing
	Backup bool      // Copy an existing destination aside before overwriting
}

// MigrateResult reports what a migration did.
type MigrateResult struct {
	ItemsConverted int
	BackupCreated  string
	Skipped        []string
}

// Migrate copies every item from opts.From to opts.To, replacing whatever the
// destination held. Items that fail validation are reported in Skipped and
// left out of the destination.
func Migrate(ctx context.Context, opts MigrateOptions) (*MigrateResult, error) {
	if opts.From == nil || opts.To == nil {
		return nil, fmt.Errorf("migration needs both a source and a destination")
	}
	if opts.From.Path() == opts.To.Path() {
		return nil, fmt.Errorf("source and destination are the same file: %s", opts.From.Path())
	}

	items, err := opts.From.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", opts.From.Path(), err)
	}

	result := &MigrateResult{}
	valid := items[:0:0]
	for _, it := range items {
		if err := it.Validate(); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("%s: %v", it.ID, err))
			continue
		}
		valid = append(valid, it)
	}
	result.ItemsConverted = len(valid)

	if opts.DryRun {
		return result, nil
	}

	if opts.Backup {
		backupPath, err := backupFile(opts.To.Path())
		if err != nil {
			return nil, err
		}
		result.BackupCreated = backupPath
	}

	if err := opts.To.Save(ctx, valid); err != nil {
		return nil, fmt.Errorf("failed to save %s: %w", opts.To.Path(), err)
	}
	return result, nil
}

// backupFile copies path to a timestamped sibling. A missing file needs no
// backup and yields an empty path.
func backupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s for backup: %w", path, err)
	}

	backupPath := path + ".backup." + time.Now().Format("20060102-150405")
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return backupPath, nil
}
