// Package ledger tracks which identities have completed upload, so
// repeated runs never redo network work.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"imgpipe/internal/domain"
)

// Ledger is the persistent record of completed uploads. A single mutex
// serializes every read and write; the sqlite handle is not assumed safe
// for concurrent use from multiple workers.
type Ledger struct {
	mu  sync.Mutex
	db  *gorm.DB
	log *zap.Logger
}

// Open opens (or creates) the ledger database at path and ensures the
// uploads table exists. The path normally sits beside the binary, not in
// the scan directory, so state survives across runs.
func Open(path string, logg *zap.Logger) (*Ledger, error) {
	silent := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 silent,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	if err := db.AutoMigrate(&domain.LedgerEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger %s: %w", path, err)
	}

	logg.Info("upload ledger opened", zap.String("path", path))

	return &Ledger{db: db, log: logg}, nil
}

// IsUploaded reports whether id has a row with the uploaded status.
func (l *Ledger) IsUploaded(ctx context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entry domain.LedgerEntry
	err := l.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.StatusUploaded).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ledger for %s: %w", id, err)
	}
	return true, nil
}

// MarkUploaded upserts one row for id with the current timestamp.
// Re-marking an already uploaded id refreshes the timestamp and never
// errors.
func (l *Ledger) MarkUploaded(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.upsert(ctx, []string{id})
}

// BatchCheckUploaded returns the subset of ids already marked uploaded.
// An empty input yields an empty set without touching the database.
func (l *Ledger) BatchCheckUploaded(ctx context.Context, ids []string) (map[string]struct{}, error) {
	uploaded := make(map[string]struct{})
	if len(ids) == 0 {
		return uploaded, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var found []string
	err := l.db.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("id IN ? AND status = ?", ids, domain.StatusUploaded).
		Pluck("id", &found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to batch query ledger: %w", err)
	}

	for _, id := range found {
		uploaded[id] = struct{}{}
	}
	return uploaded, nil
}

// BatchMarkUploaded upserts all ids in one transaction. A no-op on empty
// input.
func (l *Ledger) BatchMarkUploaded(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.upsert(ctx, ids)
}

func (l *Ledger) upsert(ctx context.Context, ids []string) error {
	now := time.Now()
	entries := make([]domain.LedgerEntry, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, domain.LedgerEntry{
			ID:        id,
			Status:    domain.StatusUploaded,
			Timestamp: now,
		})
	}

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "timestamp"}),
		}).Create(&entries).Error
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d ledger entries: %w", len(entries), err)
	}
	return nil
}

// Close releases the underlying sqlite handle.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
