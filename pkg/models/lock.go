package models

import "time"

// LocksTable is the table holding active entity locks.
const LocksTable = "locks"

// Lock is an advisory claim on one resource instance. The (object, object_id)
// pair is unique.
type Lock struct {
	HolderUID string    `json:"holderUid" gorm:"column:holder_uid;size:100;not null;index"`
	Object    string    `json:"object" gorm:"column:object;size:50;not null;uniqueIndex:idx_locks_object_object_id"`
	ObjectID  int64     `json:"objectId" gorm:"column:object_id;not null;uniqueIndex:idx_locks_object_object_id"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;not null;index"`
}

func (Lock) TableName() string {
	return LocksTable
}

// LockFilter selects locks by any combination of its fields. Nil fields match
// everything.
type LockFilter struct {
	Object    *string `json:"object,omitempty" validate:"omitempty,max=50"`
	ObjectID  *int64  `json:"objectId,omitempty" validate:"omitempty,min=0"`
	HolderUID *string `json:"holderUid,omitempty" validate:"omitempty,max=100"`
}
