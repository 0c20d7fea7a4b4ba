package directory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/service"
	"gorm.io/gorm"
)

const (
	defaultPerPage = 10
	maxPerPage     = 500
)

var (
	userColumns = map[string]bool{
		"uid": true, "email": true, "display_name": true, "source": true,
		"status": true, "group_id": true, "job_title_id": true,
	}
	userDataColumns = map[string]bool{
		"first_name_lat": true, "last_name_lat": true, "first_name_ru": true,
		"second_name_ru": true, "last_name_ru": true, "photo": true, "is_private_photo": true,
	}
	userOrderColumns = map[string]bool{
		"id": true, "uid": true, "email": true, "display_name": true,
		"created_at": true, "updated_at": true,
	}
)

// UserQuery is the list filter accepted by GET /um/users.
type UserQuery struct {
	Page      int    `query:"page"`
	PerPage   int    `query:"per_page"`
	OrderBy   string `query:"orderby"`
	S         string `query:"s"`
	Groups    string `query:"groups"`
	JobTitles string `query:"job_titles"`
	Roles     string `query:"roles"`
}

// Users is the users repository. Records are locked under the "users"
// model name.
type Users struct {
	db     *gorm.DB
	logger service.Logger
}

func (u *Users) ModelName() string {
	return models.UsersTable
}

// Insert creates the user with its personal data and default roles. The first
// user ever created closes the bootstrap latch.
func (u *Users) Insert(ctx context.Context, user *models.User) error {
	if err := models.IsValid(user); err != nil {
		return invalidParams(err)
	}
	if user.Data == nil {
		user.Data = &models.UserData{IsPrivatePhoto: true}
	}
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		var defaults []int64
		if err := tx.Model(&models.Role{}).Where(`"default" = ?`, true).Pluck("id", &defaults).Error; err != nil {
			return err
		}
		for _, roleID := range defaults {
			if err := tx.Create(&models.RoleAssignment{RoleID: roleID, UserID: user.ID}).Error; err != nil {
				return err
			}
		}
		return closeBootstrap(tx, "user "+user.UID+" created")
	})
	return lookupError("insert user", err)
}

// Update applies changes to the user row and its personal data. It returns
// zero when no user has the id.
func (u *Users) Update(ctx context.Context, id int64, changes map[string]interface{}) (int64, error) {
	if len(changes) == 0 {
		return 0, fmt.Errorf("%w: empty update", ErrInvalidParams)
	}
	user := make(map[string]interface{})
	data := make(map[string]interface{})
	for k, v := range changes {
		switch {
		case userColumns[k]:
			user[k] = v
		case userDataColumns[k]:
			data[k] = v
		default:
			return 0, fmt.Errorf("%w: unknown field %q", ErrInvalidParams, k)
		}
	}

	var affected int64
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", id).Count(&affected).Error; err != nil || affected == 0 {
			return err
		}
		if len(user) > 0 {
			if err := tx.Model(&models.User{}).Where("id = ?", id).Updates(user).Error; err != nil {
				return err
			}
		}
		if len(data) > 0 {
			result := tx.Model(&models.UserData{}).Where("user_id = ?", id).Updates(data)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				data["user_id"] = id
				return tx.Model(&models.UserData{}).Create(data).Error
			}
		}
		return nil
	})
	if err != nil {
		return 0, lookupError("update user", err)
	}
	return affected, nil
}

// Delete removes the user with its personal data, role assignments,
// dashboard and held locks.
func (u *Users) Delete(ctx context.Context, id int64) error {
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", id).Take(&user).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.RoleAssignment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.UserData{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_uid = ?", user.UID).Delete(&models.Dashboard{}).Error; err != nil {
			return err
		}
		if err := tx.Where("holder_uid = ?", user.UID).Delete(&models.Lock{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	return lookupError("delete user", err)
}

func (u *Users) Get(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := u.db.WithContext(ctx).Preload("Data").Where("id = ?", id).Take(&user).Error
	if err != nil {
		return nil, lookupError("get user", err)
	}
	return &user, nil
}

func (u *Users) GetByUID(ctx context.Context, uid string) (*models.User, error) {
	var user models.User
	err := u.db.WithContext(ctx).Preload("Data").Where("uid = ?", uid).Take(&user).Error
	if err != nil {
		return nil, lookupError("get user", err)
	}
	return &user, nil
}

func (u *Users) GetFull(ctx context.Context, id int64) (*models.FullUser, error) {
	user, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.full(ctx, user)
}

func (u *Users) GetFullByUID(ctx context.Context, uid string) (*models.FullUser, error) {
	user, err := u.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	return u.full(ctx, user)
}

func (u *Users) full(ctx context.Context, user *models.User) (*models.FullUser, error) {
	users, err := u.expand(ctx, []models.User{*user})
	if err != nil {
		return nil, err
	}
	return &users[0], nil
}

// List returns one page of users matching q and the total match count.
func (u *Users) List(ctx context.Context, q UserQuery) (int64, []models.FullUser, error) {
	filter, err := q.scope()
	if err != nil {
		return 0, nil, err
	}
	db := u.db.WithContext(ctx)

	var total int64
	if err = db.Model(&models.User{}).Scopes(filter).Count(&total).Error; err != nil {
		return 0, nil, lookupError("count users", err)
	}

	page, perPage := q.Bounds()
	order, err := q.order()
	if err != nil {
		return 0, nil, err
	}

	var users []models.User
	err = db.Preload("Data").Scopes(filter).Order(order).
		Offset((page - 1) * perPage).Limit(perPage).Find(&users).Error
	if err != nil {
		return 0, nil, lookupError("list users", err)
	}
	full, err := u.expand(ctx, users)
	return total, full, err
}

// expand joins group, job title and role slugs onto users.
func (u *Users) expand(ctx context.Context, users []models.User) ([]models.FullUser, error) {
	full := make([]models.FullUser, len(users))
	if len(users) == 0 {
		return full, nil
	}
	db := u.db.WithContext(ctx)

	ids := make([]int64, 0, len(users))
	var groupIDs, jobIDs []int64
	for _, user := range users {
		ids = append(ids, user.ID)
		if user.GroupID != nil {
			groupIDs = append(groupIDs, *user.GroupID)
		}
		if user.JobTitleID != nil {
			jobIDs = append(jobIDs, *user.JobTitleID)
		}
	}

	groups := make(map[int64]models.Group)
	if len(groupIDs) > 0 {
		var rows []models.Group
		if err := db.Where("id IN ?", groupIDs).Find(&rows).Error; err != nil {
			return nil, lookupError("expand users", err)
		}
		for _, g := range rows {
			groups[g.ID] = g
		}
	}
	jobs := make(map[int64]models.JobTitle)
	if len(jobIDs) > 0 {
		var rows []models.JobTitle
		if err := db.Where("id IN ?", jobIDs).Find(&rows).Error; err != nil {
			return nil, lookupError("expand users", err)
		}
		for _, j := range rows {
			jobs[j.ID] = j
		}
	}

	var assignments []struct {
		UserID int64
		Slug   string
	}
	err := db.Table(models.Roles2UsersTable).
		Select("roles2users.user_id, roles.slug").
		Joins("JOIN roles ON roles.id = roles2users.role_id").
		Where("roles2users.user_id IN ?", ids).
		Order("roles.id").
		Scan(&assignments).Error
	if err != nil {
		return nil, lookupError("expand users", err)
	}
	roles := make(map[int64][]string)
	for _, a := range assignments {
		roles[a.UserID] = append(roles[a.UserID], a.Slug)
	}

	for i, user := range users {
		f := models.FullUser{User: user, Roles: roles[user.ID]}
		if f.Roles == nil {
			f.Roles = []string{}
		}
		if user.GroupID != nil {
			f.GroupSlug, f.GroupName = groups[*user.GroupID].Slug, groups[*user.GroupID].Name
		}
		if user.JobTitleID != nil {
			f.JobTitleSlug, f.JobTitleName = jobs[*user.JobTitleID].Slug, jobs[*user.JobTitleID].Name
		}
		full[i] = f
	}
	return full, nil
}

// SetRole assigns role roleID to user userID.
func (u *Users) SetRole(ctx context.Context, userID, roleID int64) error {
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := exists(tx, &models.User{}, userID); err != nil {
			return err
		}
		if err := exists(tx, &models.Role{}, roleID); err != nil {
			return err
		}
		return tx.Create(&models.RoleAssignment{RoleID: roleID, UserID: userID}).Error
	})
	return lookupError("set role", err)
}

// DeleteRole removes one assignment and reports whether it existed.
func (u *Users) DeleteRole(ctx context.Context, userID, roleID int64) (int64, error) {
	result := u.db.WithContext(ctx).Where("user_id = ? AND role_id = ?", userID, roleID).Delete(&models.RoleAssignment{})
	return result.RowsAffected, lookupError("delete role", result.Error)
}

// UpdateRoles replaces every assignment of user userID with roleIDs.
func (u *Users) UpdateRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	unique := make([]int64, 0, len(roleIDs))
	seen := make(map[int64]bool, len(roleIDs))
	for _, id := range roleIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := exists(tx, &models.User{}, userID); err != nil {
			return err
		}
		if len(unique) > 0 {
			var count int64
			if err := tx.Model(&models.Role{}).Where("id IN ?", unique).Count(&count).Error; err != nil {
				return err
			}
			if count != int64(len(unique)) {
				return gorm.ErrRecordNotFound
			}
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.RoleAssignment{}).Error; err != nil {
			return err
		}
		for _, roleID := range unique {
			if err := tx.Create(&models.RoleAssignment{RoleID: roleID, UserID: userID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return lookupError("update roles", err)
}

// GetRoles returns the roles assigned to user userID ordered by id.
func (u *Users) GetRoles(ctx context.Context, userID int64) ([]models.Role, error) {
	roles := make([]models.Role, 0)
	err := u.db.WithContext(ctx).
		Joins("JOIN roles2users ON roles2users.role_id = roles.id").
		Where("roles2users.user_id = ?", userID).
		Order("roles.id").
		Find(&roles).Error
	return roles, lookupError("get roles", err)
}

func (u *Users) GetRolesAsSlugs(ctx context.Context, userID int64) ([]string, error) {
	slugs := make([]string, 0)
	err := u.db.WithContext(ctx).Model(&models.Role{}).
		Joins("JOIN roles2users ON roles2users.role_id = roles.id").
		Where("roles2users.user_id = ?", userID).
		Order("roles.id").
		Pluck("roles.slug", &slugs).Error
	return slugs, lookupError("get roles", err)
}

func (u *Users) GetRolesByUID(ctx context.Context, uid string) ([]models.Role, error) {
	user, err := u.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	return u.GetRoles(ctx, user.ID)
}

func (q UserQuery) scope() (func(*gorm.DB) *gorm.DB, error) {
	groups, err := ParseIDs(q.Groups)
	if err != nil {
		return nil, err
	}
	jobs, err := ParseIDs(q.JobTitles)
	if err != nil {
		return nil, err
	}
	roles, err := ParseIDs(q.Roles)
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(q.S))

	return func(db *gorm.DB) *gorm.DB {
		if search != "" {
			mask := "%" + search + "%"
			db = db.Where("LOWER(display_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(uid) LIKE ?", mask, mask, mask)
		}
		if len(groups) > 0 {
			db = db.Where("group_id IN ?", groups)
		}
		if len(jobs) > 0 {
			db = db.Where("job_title_id IN ?", jobs)
		}
		if len(roles) > 0 {
			db = db.Where("id IN (?)", db.Session(&gorm.Session{NewDB: true}).
				Table(models.Roles2UsersTable).Select("user_id").Where("role_id IN ?", roles))
		}
		return db
	}, nil
}

// Bounds returns the effective page and page size of q.
func (q UserQuery) Bounds() (page, perPage int) {
	page, perPage = q.Page, q.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

func (q UserQuery) order() (string, error) {
	if q.OrderBy == "" {
		return "id", nil
	}
	parts := strings.Fields(strings.ToLower(q.OrderBy))
	if len(parts) > 2 || !userOrderColumns[parts[0]] {
		return "", fmt.Errorf("%w: orderby %q", ErrInvalidParams, q.OrderBy)
	}
	if len(parts) == 2 {
		if parts[1] != "asc" && parts[1] != "desc" {
			return "", fmt.Errorf("%w: orderby %q", ErrInvalidParams, q.OrderBy)
		}
		return parts[0] + " " + parts[1], nil
	}
	return parts[0], nil
}

// ParseIDs parses a comma separated list of ids.
func ParseIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: id %q", ErrInvalidParams, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func exists(tx *gorm.DB, model interface{}, id int64) error {
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func filterColumns(changes map[string]interface{}, allowed map[string]bool) (map[string]interface{}, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: empty update", ErrInvalidParams)
	}
	filtered := make(map[string]interface{}, len(changes))
	for k, v := range changes {
		if !allowed[k] {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidParams, k)
		}
		filtered[k] = v
	}
	return filtered, nil
}

func invalidParams(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidParams, err)
}
