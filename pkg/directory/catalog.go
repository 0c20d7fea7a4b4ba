package directory

import (
	"context"

	"github.com/spike-events/spike-directory/pkg/models"
	"gorm.io/gorm"
)

// Catalog is a slug/name lookup table: roles, groups and job titles.
type Catalog[T any] struct {
	db           *gorm.DB
	name         string
	columns      map[string]bool
	beforeDelete func(tx *gorm.DB, id int64) error
}

func newCatalog[T any](db *gorm.DB, name string, columns []string, beforeDelete func(tx *gorm.DB, id int64) error) *Catalog[T] {
	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[c] = true
	}
	return &Catalog[T]{db: db, name: name, columns: allowed, beforeDelete: beforeDelete}
}

// ModelName is the object name records of this catalog are locked under.
func (c *Catalog[T]) ModelName() string {
	return c.name
}

func (c *Catalog[T]) GetAll(ctx context.Context) ([]T, error) {
	rows := make([]T, 0)
	err := c.db.WithContext(ctx).Order("id").Find(&rows).Error
	return rows, lookupError("list "+c.name, err)
}

func (c *Catalog[T]) GetByID(ctx context.Context, id int64) (*T, error) {
	var row T
	err := c.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		return nil, lookupError("get "+c.name, err)
	}
	return &row, nil
}

func (c *Catalog[T]) GetBySlug(ctx context.Context, slug string) (*T, error) {
	var row T
	err := c.db.WithContext(ctx).Where("slug = ?", slug).Take(&row).Error
	if err != nil {
		return nil, lookupError("get "+c.name, err)
	}
	return &row, nil
}

func (c *Catalog[T]) Insert(ctx context.Context, row *T) error {
	if err := models.IsValid(row); err != nil {
		return invalidParams(err)
	}
	return lookupError("insert "+c.name, c.db.WithContext(ctx).Create(row).Error)
}

// Update applies changes restricted to the catalog's editable columns and
// reports the number of rows touched.
func (c *Catalog[T]) Update(ctx context.Context, id int64, changes map[string]interface{}) (int64, error) {
	filtered, err := filterColumns(changes, c.columns)
	if err != nil {
		return 0, err
	}
	result := c.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Updates(filtered)
	return result.RowsAffected, lookupError("update "+c.name, result.Error)
}

func (c *Catalog[T]) Delete(ctx context.Context, id int64) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.beforeDelete != nil {
			if err := c.beforeDelete(tx, id); err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id).Delete(new(T)).Error
	})
	return lookupError("delete "+c.name, err)
}
