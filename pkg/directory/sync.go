package directory

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spike-events/spike-directory/pkg/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// UserRecord is one person as reported by an external user source.
type UserRecord struct {
	UID          string `json:"uid" yaml:"uid"`
	Email        string `json:"email" yaml:"email"`
	DisplayName  string `json:"display_name" yaml:"display_name"`
	FirstNameLat string `json:"first_name_lat" yaml:"first_name_lat"`
	LastNameLat  string `json:"last_name_lat" yaml:"last_name_lat"`
	FirstNameRu  string `json:"first_name_ru" yaml:"first_name_ru"`
	SecondNameRu string `json:"second_name_ru" yaml:"second_name_ru"`
	LastNameRu   string `json:"last_name_ru" yaml:"last_name_ru"`
}

// UserSource lists the people the directory should know about.
type UserSource interface {
	FetchUsers(ctx context.Context) ([]UserRecord, error)
}

// FileSource reads users from a YAML document:
//
//	users:
//	  - uid: jdoe
//	    email: jdoe@example.com
//	    display_name: John Doe
type FileSource struct {
	Path string
}

func (s FileSource) FetchUsers(_ context.Context) ([]UserRecord, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Users []UserRecord `yaml:"users"`
	}
	if err = yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("users file %s: %w", s.Path, err)
	}
	return doc.Users, nil
}

// SyncResult counts what a sync changed.
type SyncResult struct {
	Inserted  int  `json:"inserted"`
	Updated   int  `json:"updated"`
	Bootstrap bool `json:"bootstrap"`
}

// Sync inserts or updates every record of src by uid. When the directory was
// empty before the sync, callerUID receives every defined role.
func (d *Directory) Sync(ctx context.Context, src UserSource, callerUID string) (SyncResult, error) {
	var result SyncResult
	records, err := src.FetchUsers(ctx)
	if err != nil {
		return result, &LookupError{Op: "fetch users", Err: err}
	}
	count, err := d.CountAll(ctx)
	if err != nil {
		return result, err
	}
	result.Bootstrap = count == 0

	for _, rec := range records {
		if rec.UID == "" {
			continue
		}
		existing, err := d.Users.GetByUID(ctx, rec.UID)
		switch {
		case err == nil:
			_, err = d.Users.Update(ctx, existing.ID, map[string]interface{}{
				"email":          rec.Email,
				"display_name":   rec.DisplayName,
				"first_name_lat": rec.FirstNameLat,
				"last_name_lat":  rec.LastNameLat,
				"first_name_ru":  rec.FirstNameRu,
				"second_name_ru": rec.SecondNameRu,
				"last_name_ru":   rec.LastNameRu,
			})
			if err != nil {
				return result, err
			}
			result.Updated++
		case errors.Is(err, ErrNotFound):
			user := &models.User{
				UID:         rec.UID,
				Email:       rec.Email,
				DisplayName: rec.DisplayName,
				Source:      "sync",
				Data: &models.UserData{
					FirstNameLat:   rec.FirstNameLat,
					LastNameLat:    rec.LastNameLat,
					FirstNameRu:    rec.FirstNameRu,
					SecondNameRu:   rec.SecondNameRu,
					LastNameRu:     rec.LastNameRu,
					IsPrivatePhoto: true,
				},
			}
			if err = d.Users.Insert(ctx, user); err != nil {
				return result, err
			}
			d.logger.Printf("sync: UID: %s inserted", rec.UID)
			result.Inserted++
		default:
			return result, err
		}
	}

	if result.Bootstrap {
		if err = d.grantAllRoles(ctx, callerUID); err != nil {
			return result, err
		}
		d.logger.Printf("sync: bootstrap hand-off, %s received every role", callerUID)
	}
	return result, nil
}

func (d *Directory) grantAllRoles(ctx context.Context, uid string) error {
	user, err := d.Users.GetByUID(ctx, uid)
	if err != nil {
		return fmt.Errorf("bootstrap caller %s: %w", uid, err)
	}
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []int64
		if err := tx.Model(&models.Role{}).Order("id").Pluck("id", &ids).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.RoleAssignment{}).Error; err != nil {
			return err
		}
		for _, id := range ids {
			if err := tx.Create(&models.RoleAssignment{RoleID: id, UserID: user.ID}).Error; err != nil {
				return err
			}
		}
		return closeBootstrap(tx, "bootstrap hand-off to "+uid)
	})
	return lookupError("grant all roles", err)
}
