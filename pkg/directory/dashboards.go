package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spike-events/spike-directory/pkg/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dashboards stores one opaque JSON document per user uid.
type Dashboards struct {
	db *gorm.DB
}

func (d *Dashboards) Get(ctx context.Context, uid string) (datatypes.JSON, error) {
	var row models.Dashboard
	err := d.db.WithContext(ctx).Where("user_uid = ?", uid).Take(&row).Error
	if err != nil {
		return nil, lookupError("get dashboard", err)
	}
	return row.Dashboard, nil
}

// Set creates or replaces the dashboard of uid.
func (d *Dashboards) Set(ctx context.Context, uid string, doc []byte) error {
	if !json.Valid(doc) {
		return fmt.Errorf("%w: dashboard is not a json document", ErrInvalidParams)
	}
	row := models.Dashboard{UserUID: uid, Dashboard: datatypes.JSON(doc), UpdatedAt: time.Now().UTC()}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"dashboard", "updated_at"}),
	}).Create(&row).Error
	return lookupError("set dashboard", err)
}
