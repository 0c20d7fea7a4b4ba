package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type discardLogger struct{}

func (discardLogger) Printf(string, ...interface{}) {}
func (discardLogger) Println(...interface{})        {}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name, err := uuid.NewV4()
	if err != nil {
		t.Fatalf("failed to create database name: %v", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type DirectoryTest struct {
	suite.Suite
	db  *gorm.DB
	dir *Directory
	ctx context.Context

	admin, user, editor models.Role
	it, hr              models.Group
}

func (u *DirectoryTest) SetupTest() {
	u.db = openTestDB(u.T())
	u.dir = New(u.db, discardLogger{})
	u.Require().NoError(u.dir.Migrate())
	u.ctx = context.Background()

	u.admin = models.Role{Slug: "admin", Name: "Administrator"}
	u.user = models.Role{Slug: "user", Name: "User", Default: true}
	u.editor = models.Role{Slug: "editor", Name: "Editor"}
	for _, r := range []*models.Role{&u.admin, &u.user, &u.editor} {
		u.Require().NoError(u.dir.Roles.Insert(u.ctx, r))
	}
	u.it = models.Group{Slug: "it", Name: "IT"}
	u.hr = models.Group{Slug: "hr", Name: "HR"}
	u.Require().NoError(u.dir.Groups.Insert(u.ctx, &u.it))
	u.Require().NoError(u.dir.Groups.Insert(u.ctx, &u.hr))
}

func (u *DirectoryTest) insertUser(uid, name string, group *int64) *models.User {
	user := &models.User{UID: uid, DisplayName: name, Email: uid + "@example.com", GroupID: group}
	u.Require().NoError(u.dir.Users.Insert(u.ctx, user))
	return user
}

func (u *DirectoryTest) TestInsertAssignsDefaultRolesAndClosesBootstrap() {
	open, err := u.dir.BootstrapOpen(u.ctx)
	u.Require().NoError(err)
	u.True(open)

	user := u.insertUser("jdoe", "John Doe", nil)
	u.NotZero(user.ID)

	slugs, err := u.dir.ListRoleSlugs(u.ctx, user.ID)
	u.Require().NoError(err)
	u.Equal([]string{"user"}, slugs)

	count, err := u.dir.CountAll(u.ctx)
	u.Require().NoError(err)
	u.Equal(int64(1), count)

	open, err = u.dir.BootstrapOpen(u.ctx)
	u.Require().NoError(err)
	u.False(open)
}

func (u *DirectoryTest) TestBootstrapStaysClosedAfterTableEmpties() {
	user := u.insertUser("jdoe", "John Doe", nil)
	u.Require().NoError(u.dir.Users.Delete(u.ctx, user.ID))

	count, err := u.dir.CountAll(u.ctx)
	u.Require().NoError(err)
	u.Zero(count)

	open, err := u.dir.BootstrapOpen(u.ctx)
	u.Require().NoError(err)
	u.False(open)
	u.Require().NoError(u.dir.CloseBootstrap(u.ctx, "again"))
}

func (u *DirectoryTest) TestInsertRejectsDuplicateAndInvalid() {
	u.insertUser("jdoe", "John Doe", nil)
	u.Require().ErrorIs(u.dir.Users.Insert(u.ctx, &models.User{UID: "jdoe"}), ErrAlreadyExists)
	u.Require().ErrorIs(u.dir.Users.Insert(u.ctx, &models.User{}), ErrInvalidParams)
	u.Require().ErrorIs(u.dir.Roles.Insert(u.ctx, &models.Role{Slug: "admin", Name: "Again"}), ErrAlreadyExists)
}

func (u *DirectoryTest) TestFindByUID() {
	u.insertUser("jdoe", "John Doe", nil)

	user, err := u.dir.FindByUID(u.ctx, "jdoe")
	u.Require().NoError(err)
	u.Equal("John Doe", user.DisplayName)
	u.Require().NotNil(user.Data)

	_, err = u.dir.FindByUID(u.ctx, "ghost")
	u.Require().ErrorIs(err, ErrNotFound)
}

func (u *DirectoryTest) TestUpdateUserAndData() {
	user := u.insertUser("jdoe", "John Doe", nil)

	count, err := u.dir.Users.Update(u.ctx, user.ID, map[string]interface{}{
		"display_name":   "Johnny",
		"first_name_lat": "John",
		"group_id":       u.it.ID,
	})
	u.Require().NoError(err)
	u.Equal(int64(1), count)

	full, err := u.dir.Users.GetFull(u.ctx, user.ID)
	u.Require().NoError(err)
	u.Equal("Johnny", full.DisplayName)
	u.Equal("John", full.Data.FirstNameLat)
	u.Equal("it", full.GroupSlug)
	u.Equal("IT", full.GroupName)
	u.Equal([]string{"user"}, full.Roles)

	count, err = u.dir.Users.Update(u.ctx, user.ID+100, map[string]interface{}{"display_name": "x"})
	u.Require().NoError(err)
	u.Zero(count)

	_, err = u.dir.Users.Update(u.ctx, user.ID, map[string]interface{}{"password": "x"})
	u.Require().ErrorIs(err, ErrInvalidParams)
}

func (u *DirectoryTest) TestDeleteUserCascades() {
	user := u.insertUser("jdoe", "John Doe", nil)
	u.Require().NoError(u.dir.Users.SetRole(u.ctx, user.ID, u.admin.ID))
	u.Require().NoError(u.dir.Dashboards.Set(u.ctx, "jdoe", []byte(`{"widgets":[]}`)))
	u.Require().NoError(u.db.Create(&models.Lock{HolderUID: "jdoe", Object: "roles", ObjectID: 1}).Error)

	u.Require().NoError(u.dir.Users.Delete(u.ctx, user.ID))

	var assignments, data, locks int64
	u.db.Model(&models.RoleAssignment{}).Where("user_id = ?", user.ID).Count(&assignments)
	u.db.Model(&models.UserData{}).Where("user_id = ?", user.ID).Count(&data)
	u.db.Model(&models.Lock{}).Where("holder_uid = ?", "jdoe").Count(&locks)
	u.Zero(assignments)
	u.Zero(data)
	u.Zero(locks)

	_, err := u.dir.Dashboards.Get(u.ctx, "jdoe")
	u.Require().ErrorIs(err, ErrNotFound)
	u.Require().ErrorIs(u.dir.Users.Delete(u.ctx, user.ID), ErrNotFound)
}

func (u *DirectoryTest) TestRoleAssignments() {
	user := u.insertUser("jdoe", "John Doe", nil)

	u.Require().NoError(u.dir.Users.SetRole(u.ctx, user.ID, u.editor.ID))
	u.Require().ErrorIs(u.dir.Users.SetRole(u.ctx, user.ID, u.editor.ID), ErrAlreadyExists)
	u.Require().ErrorIs(u.dir.Users.SetRole(u.ctx, user.ID, 999), ErrNotFound)

	slugs, err := u.dir.Users.GetRolesAsSlugs(u.ctx, user.ID)
	u.Require().NoError(err)
	u.Equal([]string{"user", "editor"}, slugs)

	removed, err := u.dir.Users.DeleteRole(u.ctx, user.ID, u.user.ID)
	u.Require().NoError(err)
	u.Equal(int64(1), removed)

	u.Require().NoError(u.dir.Users.UpdateRoles(u.ctx, user.ID, []int64{u.admin.ID, u.admin.ID, u.editor.ID}))
	roles, err := u.dir.Users.GetRolesByUID(u.ctx, "jdoe")
	u.Require().NoError(err)
	u.Require().Len(roles, 2)
	u.Equal("admin", roles[0].Slug)
	u.Equal("editor", roles[1].Slug)

	u.Require().ErrorIs(u.dir.Users.UpdateRoles(u.ctx, user.ID, []int64{999}), ErrNotFound)
	slugs, err = u.dir.Users.GetRolesAsSlugs(u.ctx, user.ID)
	u.Require().NoError(err)
	u.Equal([]string{"admin", "editor"}, slugs)
}

func (u *DirectoryTest) TestCatalogs() {
	all, err := u.dir.ListAllRoleSlugs(u.ctx)
	u.Require().NoError(err)
	u.Equal([]string{"admin", "user", "editor"}, all)

	role, err := u.dir.Roles.GetBySlug(u.ctx, "editor")
	u.Require().NoError(err)
	u.Equal(u.editor.ID, role.ID)

	count, err := u.dir.Roles.Update(u.ctx, u.editor.ID, map[string]interface{}{"name": "Writer"})
	u.Require().NoError(err)
	u.Equal(int64(1), count)
	role, err = u.dir.Roles.GetByID(u.ctx, u.editor.ID)
	u.Require().NoError(err)
	u.Equal("Writer", role.Name)

	count, err = u.dir.Roles.Update(u.ctx, 999, map[string]interface{}{"name": "Nobody"})
	u.Require().NoError(err)
	u.Zero(count)

	_, err = u.dir.Roles.Update(u.ctx, u.editor.ID, map[string]interface{}{"id": 5})
	u.Require().ErrorIs(err, ErrInvalidParams)

	u.Equal("roles", u.dir.Roles.ModelName())
	u.Equal("groups", u.dir.Groups.ModelName())
	u.Equal("job_titles", u.dir.JobTitles.ModelName())
	u.Equal("users", u.dir.Users.ModelName())
}

func (u *DirectoryTest) TestDeleteRoleRemovesAssignments() {
	user := u.insertUser("jdoe", "John Doe", nil)
	u.Require().NoError(u.dir.Roles.Delete(u.ctx, u.user.ID))

	slugs, err := u.dir.Users.GetRolesAsSlugs(u.ctx, user.ID)
	u.Require().NoError(err)
	u.Empty(slugs)
	_, err = u.dir.Roles.GetByID(u.ctx, u.user.ID)
	u.Require().ErrorIs(err, ErrNotFound)
}

func (u *DirectoryTest) TestDeleteGroupDetachesMembers() {
	child := models.Group{Slug: "it-ops", Name: "IT Ops", ParentID: &u.it.ID}
	u.Require().NoError(u.dir.Groups.Insert(u.ctx, &child))
	user := u.insertUser("jdoe", "John Doe", &u.it.ID)

	u.Require().NoError(u.dir.Groups.Delete(u.ctx, u.it.ID))

	got, err := u.dir.Users.Get(u.ctx, user.ID)
	u.Require().NoError(err)
	u.Nil(got.GroupID)
	group, err := u.dir.Groups.GetByID(u.ctx, child.ID)
	u.Require().NoError(err)
	u.Nil(group.ParentID)
}

func (u *DirectoryTest) TestListUsers() {
	alice := u.insertUser("alice", "Alice Smith", &u.it.ID)
	u.insertUser("bob", "Bob Jones", &u.hr.ID)
	carol := u.insertUser("carol", "Carol Smith", &u.hr.ID)
	u.Require().NoError(u.dir.Users.SetRole(u.ctx, carol.ID, u.admin.ID))

	total, users, err := u.dir.Users.List(u.ctx, UserQuery{S: "smith"})
	u.Require().NoError(err)
	u.Equal(int64(2), total)
	u.Require().Len(users, 2)
	u.Equal(alice.ID, users[0].ID)

	total, users, err = u.dir.Users.List(u.ctx, UserQuery{Groups: fmt.Sprint(u.hr.ID), OrderBy: "uid desc"})
	u.Require().NoError(err)
	u.Equal(int64(2), total)
	u.Equal("carol", users[0].UID)
	u.Equal("hr", users[0].GroupSlug)

	total, users, err = u.dir.Users.List(u.ctx, UserQuery{Roles: fmt.Sprint(u.admin.ID)})
	u.Require().NoError(err)
	u.Equal(int64(1), total)
	u.Equal([]string{"admin", "user"}, users[0].Roles)

	total, users, err = u.dir.Users.List(u.ctx, UserQuery{Page: 2, PerPage: 2})
	u.Require().NoError(err)
	u.Equal(int64(3), total)
	u.Len(users, 1)

	_, _, err = u.dir.Users.List(u.ctx, UserQuery{OrderBy: "password; drop table users"})
	u.Require().ErrorIs(err, ErrInvalidParams)
	_, _, err = u.dir.Users.List(u.ctx, UserQuery{Groups: "1,x"})
	u.Require().ErrorIs(err, ErrInvalidParams)
}

func (u *DirectoryTest) TestDashboards() {
	_, err := u.dir.Dashboards.Get(u.ctx, "jdoe")
	u.Require().ErrorIs(err, ErrNotFound)

	u.Require().NoError(u.dir.Dashboards.Set(u.ctx, "jdoe", []byte(`{"v":1}`)))
	u.Require().NoError(u.dir.Dashboards.Set(u.ctx, "jdoe", []byte(`{"v":2}`)))
	doc, err := u.dir.Dashboards.Get(u.ctx, "jdoe")
	u.Require().NoError(err)
	u.JSONEq(`{"v":2}`, string(doc))

	u.Require().ErrorIs(u.dir.Dashboards.Set(u.ctx, "jdoe", []byte(`{`)), ErrInvalidParams)
}

func (u *DirectoryTest) TestSyncBootstrapHandOff() {
	path := filepath.Join(u.T().TempDir(), "users.yaml")
	u.Require().NoError(os.WriteFile(path, []byte(`
users:
  - uid: alice
    email: alice@example.com
    display_name: Alice
  - uid: bob
    display_name: Bob
`), 0o600))

	result, err := u.dir.Sync(u.ctx, FileSource{Path: path}, "alice")
	u.Require().NoError(err)
	u.Equal(SyncResult{Inserted: 2, Bootstrap: true}, result)

	alice, err := u.dir.Users.GetFullByUID(u.ctx, "alice")
	u.Require().NoError(err)
	u.Equal([]string{"admin", "user", "editor"}, alice.Roles)
	u.Equal("sync", alice.Source)
	bob, err := u.dir.Users.GetFullByUID(u.ctx, "bob")
	u.Require().NoError(err)
	u.Equal([]string{"user"}, bob.Roles)

	u.Require().NoError(os.WriteFile(path, []byte(`
users:
  - uid: bob
    display_name: Robert
`), 0o600))
	result, err = u.dir.Sync(u.ctx, FileSource{Path: path}, "bob")
	u.Require().NoError(err)
	u.Equal(SyncResult{Updated: 1}, result)

	bob, err = u.dir.Users.GetFullByUID(u.ctx, "bob")
	u.Require().NoError(err)
	u.Equal("Robert", bob.DisplayName)
	u.Equal([]string{"user"}, bob.Roles)
}

func (u *DirectoryTest) TestSyncMissingFile() {
	_, err := u.dir.Sync(u.ctx, FileSource{Path: filepath.Join(u.T().TempDir(), "none.yaml")}, "alice")
	var lookup *LookupError
	u.Require().ErrorAs(err, &lookup)
}

func TestDirectory(t *testing.T) {
	suite.Run(t, new(DirectoryTest))
}
