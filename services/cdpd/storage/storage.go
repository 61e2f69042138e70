package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stablecdp/native/cdp"
)

var (
	// ErrPathRequired is returned when the backing store location is missing.
	ErrPathRequired = errors.New("cdpd storage path must be configured")
	// ErrNotFound is returned when a CDP does not exist.
	ErrNotFound = errors.New("cdp not found")
	// ErrConflict is returned when another writer committed first.
	ErrConflict = errors.New("cdp modified concurrently")
	// ErrExists is returned when inserting an ID that is already stored.
	ErrExists = errors.New("cdp already exists")
)

// Store persists CDPs and liquidation events.
type Store struct {
	db *gorm.DB
}

// Open connects to SQLite or Postgres depending on the DSN and migrates the
// schema.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	var dialector gorm.Dialector
	if isPostgres(trimmed) {
		dialector = postgres.Open(trimmed)
	} else {
		dialector = sqlite.Open(trimmed)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Insert stores a newly created CDP.
func (s *Store) Insert(ctx context.Context, position cdp.CDP) error {
	record := toRecord(position)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return translate(err, position.ID)
	}
	return nil
}

// InsertBatch stores every CDP in one transaction. Either all rows are
// written or none are.
func (s *Store) InsertBatch(ctx context.Context, positions []cdp.CDP) error {
	if len(positions) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, position := range positions {
			record := toRecord(position)
			if err := tx.Create(&record).Error; err != nil {
				return translate(err, position.ID)
			}
		}
		return nil
	})
}

// Get loads a CDP by ID. Derived fields are left zero.
func (s *Store) Get(ctx context.Context, id cdp.ID) (cdp.CDP, error) {
	var record cdpRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cdp.CDP{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return cdp.CDP{}, fmt.Errorf("load cdp: %w", err)
	}
	return record.toCDP()
}

// ListByOwner returns the owner's CDPs ordered by creation time.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]cdp.CDP, error) {
	var records []cdpRecord
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at_ms ASC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list cdps: %w", err)
	}
	out := make([]cdp.CDP, 0, len(records))
	for _, record := range records {
		position, err := record.toCDP()
		if err != nil {
			return nil, err
		}
		out = append(out, position)
	}
	return out, nil
}

// CompareAndSwap replaces the stored CDP with next provided the stored copy
// was last updated at expected. ErrConflict reports a lost race.
func (s *Store) CompareAndSwap(ctx context.Context, next cdp.CDP, expected cdp.Timestamp) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return swap(tx, next, expected)
	})
}

// RecordLiquidation commits the post-liquidation position and its audit event
// atomically.
func (s *Store) RecordLiquidation(ctx context.Context, outcome cdp.LiquidationOutcome, expected cdp.Timestamp) (LiquidationEvent, error) {
	event := newLiquidationEvent(outcome, outcome.CDP.LastUpdated)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := swap(tx, outcome.CDP, expected); err != nil {
			return err
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("insert liquidation event: %w", err)
		}
		return nil
	})
	if err != nil {
		return LiquidationEvent{}, err
	}
	return event, nil
}

// Liquidations lists the liquidation rounds recorded against a CDP, oldest
// first.
func (s *Store) Liquidations(ctx context.Context, id cdp.ID) ([]LiquidationEvent, error) {
	var events []LiquidationEvent
	err := s.db.WithContext(ctx).
		Where("cdp_id = ?", string(id)).
		Order("executed_at ASC").
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list liquidations: %w", err)
	}
	return events, nil
}

func swap(tx *gorm.DB, next cdp.CDP, expected cdp.Timestamp) error {
	record := toRecord(next)
	res := tx.Model(&cdpRecord{}).
		Where("id = ? AND last_updated = ?", record.ID, int64(expected)).
		Select("*").
		Omit("id", "created_at_ms").
		Updates(&record)
	if res.Error != nil {
		return fmt.Errorf("update cdp: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := tx.Model(&cdpRecord{}).Where("id = ?", record.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("check cdp: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, next.ID)
	}
	return fmt.Errorf("%w: %s", ErrConflict, next.ID)
}

func translate(err error, id cdp.ID) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}
	return fmt.Errorf("insert cdp: %w", err)
}
