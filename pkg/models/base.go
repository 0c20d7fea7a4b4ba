package models

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator"
	"github.com/gofrs/uuid"
	"gorm.io/gorm"
)

// Base contains common columns for infrastructure tables keyed by UUID.
type Base struct {
	ID        uuid.UUID `json:"id,omitempty" gorm:"primaryKey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate will set a UUID rather than numeric ID.
func (base *Base) BeforeCreate(_ *gorm.DB) error {
	if base.ID == uuid.Nil {
		nonce, err := uuid.NewV4()
		if err != nil {
			return err
		}
		base.ID = nonce
	}
	return nil
}

var validate = validator.New()

// IsValid validates struct contents based on annotations
func IsValid(p interface{}) error {
	return validate.Struct(p)
}

// ToJSON convert json models
func ToJSON(p interface{}) []byte {
	rs, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	return rs
}
