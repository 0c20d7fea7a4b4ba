package migration

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"time"

	"github.com/gofrs/uuid"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/service"
	"gorm.io/gorm"
)

// LockObject is the lock row that serializes migrations across instances.
const LockObject = "migration"

const (
	defaultRetry      = 500 * time.Millisecond
	defaultStaleAfter = 5 * time.Minute
)

var versionDigits = regexp.MustCompile(`[^\d]`)

// Versions version migrate. The version index is taken from the digits in
// the implementing struct's name.
type Versions interface {
	Save(*gorm.DB, string, int) error
	Migrate(db *gorm.DB) error
}

// Base migration
type Base struct {
	db         *gorm.DB
	store      lock.Store
	key        uuid.UUID
	logger     service.Logger
	retry      time.Duration
	staleAfter time.Duration
}

// NewBase new instance migration. key identifies this instance as holder of
// the migration lock.
func NewBase(db *gorm.DB, key uuid.UUID, logger service.Logger) *Base {
	if logger == nil {
		logger = service.DefaultLogger("migration: ")
	}
	return &Base{
		db:         db,
		store:      lock.NewGormStore(db),
		key:        key,
		logger:     logger,
		retry:      defaultRetry,
		staleAfter: defaultStaleAfter,
	}
}

// Run applies versions under the migration lock.
func (m *Base) Run(ctx context.Context, name string, versions []Versions) error {
	// The lock and version tables must exist before the lock can be taken.
	if err := m.db.WithContext(ctx).AutoMigrate(&models.Lock{}, &models.SchemaVersion{}); err != nil {
		return fmt.Errorf("migration: prepare: %w", err)
	}
	if err := m.Lock(ctx); err != nil {
		return err
	}
	defer m.Unlock()
	return m.Migrate(ctx, name, versions)
}

// Migrate run migration
func (m *Base) Migrate(ctx context.Context, name string, versions []Versions) error {
	var schema models.SchemaVersion
	err := m.db.WithContext(ctx).
		Where(&models.SchemaVersion{Service: name}).
		Order("version DESC").
		First(&schema).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("migration: read version of %s: %w", name, err)
	}

	for _, item := range versions {
		itemStructName := reflect.TypeOf(item).Elem().Name()
		index, err := strconv.Atoi(versionDigits.ReplaceAllString(itemStructName, ""))
		if err != nil {
			return fmt.Errorf("migration: %s has no version number", itemStructName)
		}
		if schema.Version >= index {
			continue
		}
		m.logger.Printf("migration: applying %s version %d", name, index)
		err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := item.Migrate(tx); err != nil {
				return err
			}
			return item.Save(tx, name, index)
		})
		if err != nil {
			return fmt.Errorf("migration: %s version %d: %w", name, index, err)
		}
	}
	return nil
}

// TryLock takes the migration lock once. A lock older than staleAfter is
// treated as orphaned and taken over.
func (m *Base) TryLock(ctx context.Context) (bool, error) {
	err := m.store.Insert(ctx, m.key.String(), LockObject, 0)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, lock.ErrConstraintViolation) {
		return false, err
	}

	held, err := m.store.Get(ctx, LockObject, 0)
	if errors.Is(err, lock.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if time.Since(held.CreatedAt) < m.staleAfter {
		return false, nil
	}
	m.logger.Printf("migration: taking over orphaned lock of %s", held.HolderUID)
	if err = m.store.Replace(ctx, m.key.String(), held.HolderUID, LockObject, 0); err != nil {
		return false, err
	}
	return true, nil
}

// Lock blocks until the migration lock is held or ctx ends.
func (m *Base) Lock(ctx context.Context) error {
	started := time.Now()
	for {
		ok, err := m.TryLock(ctx)
		if err != nil {
			return fmt.Errorf("migration: lock: %w", err)
		}
		if ok {
			m.logger.Printf("migration: lock acquired after %dms", time.Since(started).Milliseconds())
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retry):
		}
	}
}

// Unlock releases the migration lock held by this instance.
func (m *Base) Unlock() {
	if _, err := m.store.Delete(context.Background(), m.key.String(), LockObject, 0); err != nil {
		m.logger.Printf("migration: unlock: %v", err)
	}
}

// BaseVersion base migration version
type BaseVersion struct{}

// Save base
func (b *BaseVersion) Save(tx *gorm.DB, name string, version int) error {
	var schema models.SchemaVersion
	schema.Service = name
	schema.Version = version
	return tx.Create(&schema).Error
}
