package migration

import (
	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/models"
	"gorm.io/gorm"
)

// Name is the service name recorded in schema_versions.
const Name = "directory"

// Directory returns the directory schema history in order.
func Directory() []Versions {
	return []Versions{
		&V1Schema{},
		&V2Seed{},
	}
}

// V1Schema creates every directory table.
type V1Schema struct {
	BaseVersion
}

func (v *V1Schema) Migrate(db *gorm.DB) error {
	return directory.New(db, nil).Migrate()
}

// V2Seed fills empty catalogs with the stock roles, groups and job titles.
type V2Seed struct {
	BaseVersion
}

func (v *V2Seed) Migrate(db *gorm.DB) error {
	roles := []models.Role{
		{Slug: "admin", Name: "Administrator"},
		{Slug: "user", Name: "User", Default: true},
		{Slug: "umadmin", Name: "Directory administrator"},
	}
	jobTitles := []models.JobTitle{
		{Slug: "director", Name: "Director"},
		{Slug: "buhgalter", Name: "Accountant"},
		{Slug: "v-engineer", Name: "Lead engineer"},
		{Slug: "s-engineer", Name: "Senior engineer"},
		{Slug: "m-engineer", Name: "Junior engineer"},
	}
	groups := []models.Group{
		{Slug: "kadrov", Name: "Human resources"},
		{Slug: "develop", Name: "Development and design"},
		{Slug: "testing", Name: "Testing"},
		{Slug: "logistiki", Name: "Logistics"},
		{Slug: "hoz-obespecenia", Name: "Facilities"},
		{Slug: "proizvodstvo", Name: "Production"},
	}
	if err := seedIfEmpty(db, &models.Role{}, &roles); err != nil {
		return err
	}
	if err := seedIfEmpty(db, &models.JobTitle{}, &jobTitles); err != nil {
		return err
	}
	return seedIfEmpty(db, &models.Group{}, &groups)
}

func seedIfEmpty(db *gorm.DB, model interface{}, rows interface{}) error {
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return db.Create(rows).Error
}
