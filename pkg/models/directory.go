package models

import "time"

// Directory table names. They double as the lockable model names.
const (
	UsersTable       = "users"
	UsersDataTable   = "users_data"
	RolesTable       = "roles"
	Roles2UsersTable = "roles2users"
	GroupsTable      = "groups"
	JobTitlesTable   = "job_titles"
)

// User is a person known to the directory. UID is the stable external identity
// carried by credentials; ID is the internal numeric key.
type User struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UID         string    `json:"uid" gorm:"column:uid;size:100;uniqueIndex;not null" validate:"required,max=100"`
	Email       string    `json:"email" gorm:"size:320;index" validate:"omitempty,email,max=320"`
	DisplayName string    `json:"display_name" gorm:"index"`
	Source      string    `json:"source" gorm:"size:10;index" validate:"max=10"`
	Status      string    `json:"status" gorm:"size:10;index" validate:"max=10"`
	GroupID     *int64    `json:"group_id" gorm:"index"`
	JobTitleID  *int64    `json:"job_title_id" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Data *UserData `json:"data,omitempty" gorm:"foreignKey:UserID"`
}

func (User) TableName() string {
	return UsersTable
}

// UserData holds the personal part of a user record.
type UserData struct {
	UserID         int64  `json:"-" gorm:"primaryKey;autoIncrement:false"`
	FirstNameLat   string `json:"first_name_lat"`
	LastNameLat    string `json:"last_name_lat"`
	FirstNameRu    string `json:"first_name_ru"`
	SecondNameRu   string `json:"second_name_ru"`
	LastNameRu     string `json:"last_name_ru"`
	Photo          string `json:"photo"`
	IsPrivatePhoto bool   `json:"is_private_photo" gorm:"default:true"`
}

func (UserData) TableName() string {
	return UsersDataTable
}

// FullUser is a user joined with its group, job title and role slugs.
type FullUser struct {
	User
	GroupSlug    string   `json:"group_slug"`
	GroupName    string   `json:"group_name"`
	JobTitleSlug string   `json:"job_title_slug"`
	JobTitleName string   `json:"job_title_name"`
	Roles        []string `json:"roles"`
}

// Role is a named set of privileges; Slug is what authorization checks use.
type Role struct {
	ID      int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Slug    string `json:"slug" gorm:"uniqueIndex;not null" validate:"required,max=255"`
	Name    string `json:"name" gorm:"not null" validate:"required,max=255"`
	Default bool   `json:"default" gorm:"default:false"`
}

func (Role) TableName() string {
	return RolesTable
}

// RoleAssignment links a user to a role. Deleting either endpoint removes it.
type RoleAssignment struct {
	RoleID int64 `json:"role_id" gorm:"primaryKey;autoIncrement:false;index"`
	UserID int64 `json:"user_id" gorm:"primaryKey;autoIncrement:false;index"`
}

func (RoleAssignment) TableName() string {
	return Roles2UsersTable
}

// Group is an organizational unit; groups nest through ParentID.
type Group struct {
	ID       int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	ParentID *int64 `json:"parent_id" gorm:"index"`
	Slug     string `json:"slug" gorm:"uniqueIndex;not null" validate:"required,max=255"`
	Name     string `json:"name" gorm:"not null" validate:"required,max=255"`
}

func (Group) TableName() string {
	return GroupsTable
}

// JobTitle is a position name assignable to users.
type JobTitle struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Slug string `json:"slug" gorm:"uniqueIndex;not null" validate:"required,max=255"`
	Name string `json:"name" gorm:"not null" validate:"required,max=255"`
}

func (JobTitle) TableName() string {
	return JobTitlesTable
}
