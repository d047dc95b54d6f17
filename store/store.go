// Package store persists completed provider searches so earlier results can
// be reviewed without re-running a browser session.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/carescout/carescout/types"
)

// ErrNotFound is returned when a search ID has no stored record.
var ErrNotFound = errors.New("search record not found")

// SearchRecord is the persisted form of one completed search.
type SearchRecord struct {
	ID          uint   `gorm:"primaryKey"`
	SearchID    string `gorm:"uniqueIndex;size:64"`
	Query       string `gorm:"size:1024"`
	Insurer     string `gorm:"size:128;index"`
	Specialists string `gorm:"size:512"`
	Address     string `gorm:"size:512"`
	ActionCount int
	StartedAt   time.Time
	DurationMS  int64
	CreatedAt   time.Time

	Providers []ProviderRow `gorm:"foreignKey:SearchRecordID;constraint:OnDelete:CASCADE"`
}

// ProviderRow is one extracted provider belonging to a SearchRecord.
type ProviderRow struct {
	ID             uint `gorm:"primaryKey"`
	SearchRecordID uint `gorm:"index"`
	Name           string `gorm:"size:256"`
	Specialty      string `gorm:"size:256"`
	Address        string `gorm:"size:512"`
	Phone          string `gorm:"size:64"`
}

// Config configures the search history store.
type Config struct {
	// Path is the SQLite database file. ":memory:" gives an ephemeral store.
	Path string `yaml:"path" json:"path"`
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{Path: "carescout.db"}
}

// Store is the gorm-backed search history store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the SQLite database and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open search history database: %w", err)
	}
	if err := db.AutoMigrate(&SearchRecord{}, &ProviderRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate search history schema: %w", err)
	}

	logger.Info("search history store opened", zap.String("path", cfg.Path))
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// SaveResult records a completed search with its extracted providers.
func (s *Store) SaveResult(ctx context.Context, query, insurer string, criteria types.SearchCriteria, result *types.SearchResult) error {
	record := SearchRecord{
		SearchID:    result.SearchID,
		Query:       query,
		Insurer:     insurer,
		Specialists: strings.Join(criteria.Specialists, ", "),
		Address:     criteria.Location.Address,
		ActionCount: result.ActionCount,
		StartedAt:   result.StartedAt,
		DurationMS:  result.Duration.Milliseconds(),
	}
	for _, p := range result.Providers {
		record.Providers = append(record.Providers, ProviderRow{
			Name:      p.Name,
			Specialty: p.Specialty,
			Address:   p.Address,
			Phone:     p.Phone,
		})
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save search %s: %w", result.SearchID, err)
	}
	s.logger.Debug("search saved",
		zap.String("search_id", result.SearchID),
		zap.Int("providers", len(record.Providers)))
	return nil
}

// GetSearch loads one stored search with its providers.
func (s *Store) GetSearch(ctx context.Context, searchID string) (*SearchRecord, error) {
	var record SearchRecord
	err := s.db.WithContext(ctx).
		Preload("Providers").
		Where("search_id = ?", searchID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load search %s: %w", searchID, err)
	}
	return &record, nil
}

// ListRecent returns the most recent searches, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]SearchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []SearchRecord
	err := s.db.WithContext(ctx).
		Preload("Providers").
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list searches: %w", err)
	}
	return records, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
