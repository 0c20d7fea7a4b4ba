package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spike-events/spike-directory/pkg/models"
	"gorm.io/gorm"
)

// Store persists locks. It performs no policy decisions; see Coordinator.
type Store interface {
	// Get returns the lock for the pair or ErrNotFound.
	Get(ctx context.Context, object string, objectID int64) (*models.Lock, error)

	// Insert creates a lock and fails with ErrConstraintViolation when the pair
	// is already locked.
	Insert(ctx context.Context, holderUID, object string, objectID int64) error

	// Replace atomically removes the lock held by previousHolder on the pair and
	// inserts a fresh one for holderUID. The timestamp always resets. An empty
	// previousHolder removes nothing, and a lock held by anyone else survives
	// and fails the insert with ErrConstraintViolation.
	Replace(ctx context.Context, holderUID, previousHolder, object string, objectID int64) error

	// Delete removes the lock only when all three fields match and reports the
	// number of rows removed.
	Delete(ctx context.Context, holderUID, object string, objectID int64) (int64, error)

	ListByHolder(ctx context.Context, holderUID string) ([]models.Lock, error)
	ListByFilter(ctx context.Context, filter models.LockFilter) ([]models.Lock, error)

	// DeleteExpired removes every lock created more than ttl ago. A
	// non-positive ttl fails with ErrInvalidArgument.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

type StoreOption func(*GormStore)

// WithClock overrides the time source used for lock timestamps and expiry.
func WithClock(now func() time.Time) StoreOption {
	return func(s *GormStore) {
		s.now = now
	}
}

// GormStore is the relational Store. The database's unique index on
// (object, object_id) is the only synchronization point between instances.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB, opts ...StoreOption) *GormStore {
	s := &GormStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the locks table and its indexes.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&models.Lock{})
}

func (s *GormStore) Get(ctx context.Context, object string, objectID int64) (*models.Lock, error) {
	var lock models.Lock
	err := s.db.WithContext(ctx).
		Where("object = ? AND object_id = ?", object, objectID).
		Take(&lock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s *GormStore) Insert(ctx context.Context, holderUID, object string, objectID int64) error {
	return translate(s.db.WithContext(ctx).Create(s.newLock(holderUID, object, objectID)).Error)
}

func (s *GormStore) Replace(ctx context.Context, holderUID, previousHolder, object string, objectID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if previousHolder != "" {
			err := tx.Where("holder_uid = ? AND object = ? AND object_id = ?", previousHolder, object, objectID).
				Delete(&models.Lock{}).Error
			if err != nil {
				return err
			}
		}
		return tx.Create(s.newLock(holderUID, object, objectID)).Error
	})
	return translate(err)
}

func (s *GormStore) Delete(ctx context.Context, holderUID, object string, objectID int64) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("holder_uid = ? AND object = ? AND object_id = ?", holderUID, object, objectID).
		Delete(&models.Lock{})
	return result.RowsAffected, result.Error
}

func (s *GormStore) ListByHolder(ctx context.Context, holderUID string) ([]models.Lock, error) {
	locks := make([]models.Lock, 0)
	err := s.db.WithContext(ctx).
		Where("holder_uid = ?", holderUID).
		Order("created_at").
		Find(&locks).Error
	return locks, err
}

func (s *GormStore) ListByFilter(ctx context.Context, filter models.LockFilter) ([]models.Lock, error) {
	query := s.db.WithContext(ctx).Model(&models.Lock{})
	if filter.Object != nil {
		query = query.Where("object = ?", *filter.Object)
	}
	if filter.ObjectID != nil {
		query = query.Where("object_id = ?", *filter.ObjectID)
	}
	if filter.HolderUID != nil {
		query = query.Where("holder_uid = ?", *filter.HolderUID)
	}
	locks := make([]models.Lock, 0)
	err := query.Order("created_at").Find(&locks).Error
	return locks, err
}

func (s *GormStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, invalidArgument("expiry sweep requires a positive ttl, got %s", ttl)
	}
	cutTime := s.now().Add(-ttl)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutTime).Delete(&models.Lock{})
	return result.RowsAffected, result.Error
}

func (s *GormStore) newLock(holderUID, object string, objectID int64) *models.Lock {
	return &models.Lock{
		HolderUID: holderUID,
		Object:    object,
		ObjectID:  objectID,
		CreatedAt: s.now(),
	}
}

// translate maps a unique index violation to ErrConstraintViolation. The
// message checks cover connections opened without gorm's TranslateError.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConstraintViolation
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		return ErrConstraintViolation
	}
	return err
}
