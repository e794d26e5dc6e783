package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/pinnotify/internal/models"
)

var errDatabaseStoreNotInitialised = errors.New("cache: database store not initialised")

// DatabaseStore implements CounterStore using the primary SQL database.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseStore constructs a database-backed CounterStore.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, now: time.Now}
}

// IncrementIfPresent atomically adds delta to a live entry.
func (s *DatabaseStore) IncrementIfPresent(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if s == nil {
		return 0, false, errDatabaseStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()
	var (
		value   int64
		present bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CounterEntry{}).
			Where("counter_key = ? AND (expires_at IS NULL OR expires_at > ?)", key, now).
			Updates(map[string]any{
				"value":      gorm.Expr("CASE WHEN value + ? < 0 THEN 0 ELSE value + ? END", delta, delta),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		var entry models.CounterEntry
		if err := tx.Take(&entry, "counter_key = ?", key).Error; err != nil {
			return err
		}
		value = entry.Value
		present = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return value, present, nil
}

// Set upserts the value for a given key. A non-positive ttl never expires.
func (s *DatabaseStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}

	entry := models.CounterEntry{Key: key, Value: value}
	if ttl > 0 {
		expiry := s.now().Add(ttl)
		entry.ExpiresAt = &expiry
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "counter_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if s == nil {
		return 0, false, errDatabaseStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var entry models.CounterEntry
	err := s.db.WithContext(ctx).Take(&entry, "counter_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	if entry.ExpiresAt != nil && !s.now().Before(*entry.ExpiresAt) {
		_ = s.Delete(ctx, key)
		return 0, false, nil
	}
	return entry.Value, true, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	return s.db.WithContext(ctx).Where("counter_key IN ?", keys).Delete(&models.CounterEntry{}).Error
}

// PurgeExpired deletes entries whose expiry has passed and returns how many were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errDatabaseStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now()).
		Delete(&models.CounterEntry{})
	return res.RowsAffected, res.Error
}
