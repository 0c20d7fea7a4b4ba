// Package directory is the relational personnel directory: users, roles,
// groups, job titles and personal dashboards.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/service"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const bootstrapFlag = "bootstrap_closed"

var (
	ErrNotFound      = errors.New("directory: not found")
	ErrAlreadyExists = errors.New("directory: already exists")
	ErrInvalidParams = errors.New("directory: invalid params")
)

// LookupError wraps a store failure unrelated to the absence of a record.
type LookupError struct {
	Op  string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("directory: %s: %v", e.Op, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

func lookupError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrAlreadyExists
	}
	return &LookupError{Op: op, Err: err}
}

// Directory groups the directory repositories over one database.
type Directory struct {
	db     *gorm.DB
	logger service.Logger

	Users      *Users
	Roles      *Catalog[models.Role]
	Groups     *Catalog[models.Group]
	JobTitles  *Catalog[models.JobTitle]
	Dashboards *Dashboards
}

func New(db *gorm.DB, logger service.Logger) *Directory {
	if logger == nil {
		logger = service.DefaultLogger("directory: ")
	}
	d := &Directory{db: db, logger: logger}
	d.Users = &Users{db: db, logger: logger}
	d.Roles = newCatalog[models.Role](db, models.RolesTable, []string{"slug", "name", "default"},
		func(tx *gorm.DB, id int64) error {
			return tx.Where("role_id = ?", id).Delete(&models.RoleAssignment{}).Error
		})
	d.Groups = newCatalog[models.Group](db, models.GroupsTable, []string{"parent_id", "slug", "name"},
		func(tx *gorm.DB, id int64) error {
			err := tx.Model(&models.Group{}).Where("parent_id = ?", id).Update("parent_id", nil).Error
			if err != nil {
				return err
			}
			return tx.Model(&models.User{}).Where("group_id = ?", id).Update("group_id", nil).Error
		})
	d.JobTitles = newCatalog[models.JobTitle](db, models.JobTitlesTable, []string{"slug", "name"},
		func(tx *gorm.DB, id int64) error {
			return tx.Model(&models.User{}).Where("job_title_id = ?", id).Update("job_title_id", nil).Error
		})
	d.Dashboards = &Dashboards{db: db}
	return d
}

// Migrate creates the directory tables, including the lock table user
// deletion cleans up.
func (d *Directory) Migrate() error {
	return d.db.AutoMigrate(
		&models.JobTitle{},
		&models.Group{},
		&models.Role{},
		&models.User{},
		&models.UserData{},
		&models.RoleAssignment{},
		&models.Dashboard{},
		&models.SystemFlag{},
		&models.Lock{},
	)
}

// FindByUID returns the user with the external identity uid or ErrNotFound.
func (d *Directory) FindByUID(ctx context.Context, uid string) (*models.User, error) {
	return d.Users.GetByUID(ctx, uid)
}

// CountAll returns the number of user rows.
func (d *Directory) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error
	return count, lookupError("count users", err)
}

// ListRoleSlugs returns the slugs of the roles assigned to user id.
func (d *Directory) ListRoleSlugs(ctx context.Context, id int64) ([]string, error) {
	return d.Users.GetRolesAsSlugs(ctx, id)
}

// ListAllRoleSlugs returns every defined role slug ordered by role id.
func (d *Directory) ListAllRoleSlugs(ctx context.Context) ([]string, error) {
	slugs := make([]string, 0)
	err := d.db.WithContext(ctx).Model(&models.Role{}).Order("id").Pluck("slug", &slugs).Error
	return slugs, lookupError("list role slugs", err)
}

// BootstrapOpen reports whether the bootstrap latch was never closed.
func (d *Directory) BootstrapOpen(ctx context.Context) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.SystemFlag{}).Where("name = ?", bootstrapFlag).Count(&count).Error
	if err != nil {
		return false, lookupError("read bootstrap flag", err)
	}
	return count == 0, nil
}

// CloseBootstrap closes the bootstrap latch for good. Closing it again is a
// no-op.
func (d *Directory) CloseBootstrap(ctx context.Context, reason string) error {
	return lookupError("close bootstrap", closeBootstrap(d.db.WithContext(ctx), reason))
}

func closeBootstrap(tx *gorm.DB, reason string) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.SystemFlag{
		Name:      bootstrapFlag,
		Value:     reason,
		CreatedAt: time.Now().UTC(),
	}).Error
}
