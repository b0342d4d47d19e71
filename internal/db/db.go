package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arencloud/bucketwarden/internal/config"
	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/models"
	"github.com/arencloud/bucketwarden/internal/storage"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// ErrTraceNotFound is returned by Trace for unknown ids.
var ErrTraceNotFound = errors.New("trace not found")

// Store holds the bucket catalog and persisted request traces.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(cfg *config.Config, logger logging.Logger) (*Store, error) {
	// route SQL logs through the structured logger
	var gormLevel gormlogger.LogLevel
	switch strings.ToLower(logging.GetLevel()) {
	case "debug":
		gormLevel = gormlogger.Info
	case "error", "fatal":
		gormLevel = gormlogger.Error
	default:
		gormLevel = gormlogger.Warn
	}

	var dialector gorm.Dialector
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver == "postgres" || driver == "postgresql" {
		if cfg.DBDsn == "" {
			return nil, &os.PathError{Op: "open", Path: "DATABASE_URL/DB_DSN", Err: os.ErrInvalid}
		}
		dialector = postgres.Open(cfg.DBDsn)
		logger.Info("db connect", "driver", "postgres")
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(cfg.DBPath)
		logger.Info("db connect", "driver", "sqlite", "path", cfg.DBPath)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(logger, gormLevel)})
	if err != nil {
		return nil, err
	}
	return New(gdb)
}

// New wraps an open connection and migrates the schema.
func New(gdb *gorm.DB) (*Store, error) {
	if err := gdb.AutoMigrate(&models.Bucket{}, &models.TraceRow{}, &models.TraceEventRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: gdb}, nil
}

// SyncCatalog upserts the live listing and prunes rows for buckets that no
// longer exist on the provider.
func (s *Store) SyncCatalog(ctx context.Context, live []storage.Resource) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		names := make([]string, 0, len(live))
		for _, r := range live {
			names = append(names, r.Name)
			if err := upsert(tx, models.Bucket{Name: r.Name, Region: r.Region, ItemCount: r.ItemCount, ProviderCreatedAt: r.CreatedAt}); err != nil {
				return err
			}
		}
		q := tx.Model(&models.Bucket{})
		if len(names) > 0 {
			q = q.Where("name NOT IN ?", names)
		} else {
			q = q.Where("1 = 1")
		}
		return q.Delete(&models.Bucket{}).Error
	})
}

// UpsertBucket records a bucket created through this service.
func (s *Store) UpsertBucket(ctx context.Context, name, region string) error {
	return upsert(s.db.WithContext(ctx), models.Bucket{Name: name, Region: region, ProviderCreatedAt: time.Now().UTC()})
}

func upsert(tx *gorm.DB, b models.Bucket) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"region", "item_count", "provider_created_at", "updated_at"}),
	}).Create(&b).Error
}

// RemoveBucket drops the catalog row of a deleted bucket. Missing rows are fine.
func (s *Store) RemoveBucket(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Where("name = ?", name).Delete(&models.Bucket{}).Error
}

// Catalog returns the cached buckets ordered by name.
func (s *Store) Catalog(ctx context.Context) ([]models.Bucket, error) {
	var rows []models.Bucket
	err := s.db.WithContext(ctx).Order("name asc").Find(&rows).Error
	return rows, err
}

// SaveTrace stores a finished request trace with its events.
func (s *Store) SaveTrace(ctx context.Context, row models.TraceRow, events []models.TraceEventRow) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for i := range events {
			events[i].TraceID = row.ID
		}
		return tx.Create(&events).Error
	})
}

// RecentTraces returns up to limit traces with status >= minStatus, newest
// first.
func (s *Store) RecentTraces(ctx context.Context, limit, minStatus int) ([]models.TraceRow, error) {
	var rows []models.TraceRow
	q := s.db.WithContext(ctx).Order("started desc").Limit(limit)
	if minStatus > 0 {
		q = q.Where("status >= ?", minStatus)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// Trace loads one trace and its events in time order.
func (s *Store) Trace(ctx context.Context, id string) (models.TraceRow, []models.TraceEventRow, error) {
	var tr models.TraceRow
	if err := s.db.WithContext(ctx).First(&tr, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tr, nil, ErrTraceNotFound
		}
		return tr, nil, err
	}
	var evs []models.TraceEventRow
	err := s.db.WithContext(ctx).Where("trace_id = ?", id).Order("time asc, id asc").Find(&evs).Error
	return tr, evs, err
}
