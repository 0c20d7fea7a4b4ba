package route

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/spike-events/spike-directory/pkg/auth"
	"github.com/spike-events/spike-directory/pkg/directory"
	"github.com/spike-events/spike-directory/pkg/lock"
	"github.com/spike-events/spike-directory/pkg/models"
	"github.com/spike-events/spike-directory/pkg/route/socket"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "route-test-secret"

type discardLogger struct{}

func (discardLogger) Printf(string, ...interface{}) {}
func (discardLogger) Println(...interface{})        {}

// memoryFeed is an in-process lock event feed.
type memoryFeed struct {
	m          sync.Mutex
	handlers   map[int]func(lock.Event)
	next       int
	subscribed chan struct{}
}

func newMemoryFeed() *memoryFeed {
	return &memoryFeed{handlers: map[int]func(lock.Event){}, subscribed: make(chan struct{}, 8)}
}

func (f *memoryFeed) Subscribe(hc func(lock.Event)) (func(), error) {
	f.m.Lock()
	id := f.next
	f.next++
	f.handlers[id] = hc
	f.m.Unlock()
	f.subscribed <- struct{}{}
	return func() {
		f.m.Lock()
		delete(f.handlers, id)
		f.m.Unlock()
	}, nil
}

func (f *memoryFeed) Publish(_ context.Context, e lock.Event) error {
	f.m.Lock()
	defer f.m.Unlock()
	for _, hc := range f.handlers {
		hc(e)
	}
	return nil
}

type RouteTest struct {
	suite.Suite
	db     *gorm.DB
	dir    *directory.Directory
	feed   *memoryFeed
	config models.DirectoryOptions
	server *Server
}

func (u *RouteTest) SetupTest() {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.Must(uuid.NewV4()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	u.Require().NoError(err)
	sqlDB, err := db.DB()
	u.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	u.T().Cleanup(func() { _ = sqlDB.Close() })
	u.db = db

	u.dir = directory.New(db, discardLogger{})
	u.Require().NoError(u.dir.Migrate())
	ctx := context.Background()
	u.Require().NoError(u.dir.Roles.Insert(ctx, &models.Role{Slug: "admin", Name: "Administrator"}))
	u.Require().NoError(u.dir.Roles.Insert(ctx, &models.Role{Slug: "user", Name: "User", Default: true}))
	u.Require().NoError(u.dir.Groups.Insert(ctx, &models.Group{Slug: "it", Name: "IT"}))

	for _, uid := range []string{"alice", "bob", "carol"} {
		u.Require().NoError(u.dir.Users.Insert(ctx, &models.User{UID: uid, Email: uid + "@example.com", DisplayName: uid}))
	}
	u.Require().NoError(u.dir.Users.Insert(ctx, &models.User{ID: 42, UID: "target", DisplayName: "Target"}))
	for _, uid := range []string{"alice", "bob"} {
		user, err := u.dir.Users.GetByUID(ctx, uid)
		u.Require().NoError(err)
		u.Require().NoError(u.dir.Users.SetRole(ctx, user.ID, 1))
	}

	u.config = models.DefaultOptions()
	u.config.Auth.JWT.HMACSecret = testSecret
	u.feed = newMemoryFeed()
	u.server = u.newServer(u.config)
}

func (u *RouteTest) newServer(config models.DirectoryOptions) *Server {
	verifier, err := auth.NewJWTVerifier(config.Auth.JWT)
	u.Require().NoError(err)
	resolver := auth.NewRoleResolver(auth.RoleResolverOptions{
		Directory: u.dir,
		Latch:     u.dir,
		Bootstrap: config.Auth.Bootstrap,
		Logger:    discardLogger{},
	})
	coordinator := lock.NewCoordinator(lock.NewGormStore(u.db), lock.CoordinatorOptions{
		Holders: u.dir,
		Events:  u.feed,
		Logger:  discardLogger{},
	})
	return NewServer(Options{
		Config:    config,
		Directory: u.dir,
		Locks:     coordinator,
		Verifier:  verifier,
		Roles:     resolver,
		Gate:      auth.NewGate(auth.GateOptions{Roles: resolver, Users: u.dir, Logger: discardLogger{}}),
		Feed:      u.feed,
		Logger:    discardLogger{},
	})
}

func (u *RouteTest) token(uid string) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uid,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	u.Require().NoError(err)
	return token
}

func (u *RouteTest) do(method, path, uid string, body interface{}) *httptest.ResponseRecorder {
	return u.doOn(u.server, method, path, uid, body)
}

func (u *RouteTest) doOn(s *Server, method, path, uid string, body interface{}) *httptest.ResponseRecorder {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		u.Require().NoError(err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+u.token(uid))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func (u *RouteTest) TestLockedUserCannotBeDeleted() {
	rec := u.do(http.MethodPut, "/um/lock/users/42", "alice", nil)
	u.Require().Equal(http.StatusNoContent, rec.Code)

	rec = u.do(http.MethodDelete, "/um/user/42", "bob", nil)
	u.Require().Equal(http.StatusConflict, rec.Code)
	var conflict struct {
		Lock       models.Lock  `json:"lock"`
		HolderUser *models.User `json:"holderUser"`
	}
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &conflict))
	u.Equal("alice", conflict.Lock.HolderUID)
	u.Equal(models.UsersTable, conflict.Lock.Object)
	u.Equal(int64(42), conflict.Lock.ObjectID)
	u.Require().NotNil(conflict.HolderUser)
	u.Equal("alice", conflict.HolderUser.UID)

	u.Require().Equal(http.StatusNoContent, u.do(http.MethodDelete, "/um/lock/users/42", "alice", nil).Code)
	u.Equal(http.StatusNoContent, u.do(http.MethodDelete, "/um/user/42", "bob", nil).Code)
	u.Equal(http.StatusNotFound, u.do(http.MethodGet, "/um/user/42", "bob", nil).Code)
}

func (u *RouteTest) TestLockProtocol() {
	u.Equal(http.StatusNotFound, u.do(http.MethodGet, "/um/lock/roles/2", "carol", nil).Code)
	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPut, "/um/lock/roles/2", "alice", nil).Code)

	rec := u.do(http.MethodGet, "/um/lock/roles/2", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	var held models.Lock
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &held))
	u.Equal("alice", held.HolderUID)

	// Another admin conflicts on acquire and on renew without takeover.
	u.Equal(http.StatusConflict, u.do(http.MethodPut, "/um/lock/roles/2", "bob", nil).Code)
	u.Equal(http.StatusConflict, u.do(http.MethodPost, "/um/lock/roles/2", "bob", nil).Code)
	// Releasing someone else's lock is a silent no-op.
	u.Equal(http.StatusNoContent, u.do(http.MethodDelete, "/um/lock/roles/2", "bob", nil).Code)
	u.Equal(http.StatusOK, u.do(http.MethodGet, "/um/lock/roles/2", "carol", nil).Code)
	// The holder renews.
	u.Equal(http.StatusNoContent, u.do(http.MethodPost, "/um/lock/roles/2", "alice", nil).Code)

	// Non admins may not lock other objects.
	u.Equal(http.StatusForbidden, u.do(http.MethodPut, "/um/lock/roles/1", "carol", nil).Code)
	u.Equal(http.StatusBadRequest, u.do(http.MethodPut, "/um/lock/roles/abc", "alice", nil).Code)
	u.Equal(http.StatusUnauthorized, u.do(http.MethodPut, "/um/lock/roles/1", "", nil).Code)

	rec = u.do(http.MethodGet, "/um/locks/alice", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	var locks []models.Lock
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &locks))
	u.Len(locks, 1)

	rec = u.do(http.MethodPost, "/um/locks/byfilter", "carol", map[string]string{"object": "roles"})
	u.Require().Equal(http.StatusOK, rec.Code)
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &locks))
	u.Len(locks, 1)

	rec = u.do(http.MethodGet, "/um/locks/nobody", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	u.JSONEq(`[]`, rec.Body.String())
}

func (u *RouteTest) TestTakeoverNeedsRoleGrant() {
	carol, err := u.dir.Users.GetByUID(context.Background(), "carol")
	u.Require().NoError(err)
	path := fmt.Sprintf("/um/lock/users/%d", carol.ID)

	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPut, path, "alice", nil).Code)
	// carol is admitted to her own record by a self grant, which cannot take over.
	u.Equal(http.StatusConflict, u.do(http.MethodPost, path+"?takeover=true", "carol", nil).Code)
	// bob is admitted by role and can.
	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPost, path+"?takeover=true", "bob", nil).Code)

	rec := u.do(http.MethodGet, path, "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	var held models.Lock
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &held))
	u.Equal("bob", held.HolderUID)
}

func (u *RouteTest) TestUserLocksOwnRecord() {
	carol, err := u.dir.Users.GetByUID(context.Background(), "carol")
	u.Require().NoError(err)
	u.Equal(http.StatusNoContent, u.do(http.MethodPut, fmt.Sprintf("/um/lock/users/%d", carol.ID), "carol", nil).Code)
	u.Equal(http.StatusForbidden, u.do(http.MethodPut, "/um/lock/users/42", "carol", nil).Code)
}

func (u *RouteTest) TestMe() {
	rec := u.do(http.MethodGet, "/um/", "alice", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	u.JSONEq(`{"uid":"alice","roles":["admin","user"],"status":"Authenticated"}`, rec.Body.String())

	rec = u.do(http.MethodGet, "/um/me/roles", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	u.JSONEq(`["user"]`, rec.Body.String())

	rec = u.do(http.MethodGet, "/um/me/full", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	var full models.FullUser
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &full))
	u.Equal("carol", full.UID)
	u.Equal([]string{"user"}, full.Roles)

	// Unknown callers are authenticated but have no record and no roles.
	u.Equal(http.StatusNotFound, u.do(http.MethodGet, "/um/me", "stranger", nil).Code)
	rec = u.do(http.MethodGet, "/um/", "stranger", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	u.JSONEq(`{"uid":"stranger","roles":[],"status":"Authenticated"}`, rec.Body.String())

	u.Equal(http.StatusUnauthorized, u.do(http.MethodGet, "/um/me", "", nil).Code)
}

func (u *RouteTest) TestUsers() {
	rec := u.do(http.MethodGet, "/um/users/1/2?orderby=uid", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	var page userPage
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	u.Equal(int64(4), page.Total)
	u.Equal(1, page.CurrentPage)
	u.Equal(2, page.PerPage)
	u.Equal(int64(2), page.LastPage)
	u.Require().Len(page.Data, 2)
	u.Equal("alice", page.Data[0].UID)

	rec = u.do(http.MethodGet, "/um/users?s=bo", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	u.Equal(int64(1), page.Total)
	u.Equal(10, page.PerPage)
	u.Equal(http.StatusBadRequest, u.do(http.MethodGet, "/um/users?orderby=password", "carol", nil).Code)

	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPut, "/um/user", "alice", map[string]string{"uid": "dave"}).Code)
	u.Equal(http.StatusConflict, u.do(http.MethodPut, "/um/user", "alice", map[string]string{"uid": "dave"}).Code)
	u.Equal(http.StatusBadRequest, u.do(http.MethodPut, "/um/user", "alice", map[string]string{"email": "x@example.com"}).Code)
	u.Equal(http.StatusForbidden, u.do(http.MethodPut, "/um/user", "carol", map[string]string{"uid": "eve"}).Code)

	rec = u.do(http.MethodGet, "/um/user/uid/dave/roles", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	u.JSONEq(`["user"]`, rec.Body.String())
}

func (u *RouteTest) TestUpdateUser() {
	carol, err := u.dir.Users.GetByUID(context.Background(), "carol")
	u.Require().NoError(err)
	path := fmt.Sprintf("/um/user/%d", carol.ID)

	rec := u.do(http.MethodPut, path, "carol", map[string]string{"display_name": "Carol C", "first_name_lat": "Carol"})
	u.Require().Equal(http.StatusOK, rec.Code)
	u.JSONEq(`{"count":1}`, rec.Body.String())

	rec = u.do(http.MethodGet, "/um/user/uid/carol", "bob", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	var user models.User
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &user))
	u.Equal("Carol C", user.DisplayName)
	u.Require().NotNil(user.Data)
	u.Equal("Carol", user.Data.FirstNameLat)

	u.Equal(http.StatusForbidden, u.do(http.MethodPut, "/um/user/42", "carol", map[string]string{"display_name": "x"}).Code)
	u.Equal(http.StatusNotFound, u.do(http.MethodPut, "/um/user/999", "alice", map[string]string{"display_name": "x"}).Code)
	u.Equal(http.StatusBadRequest, u.do(http.MethodPut, path, "carol", map[string]string{"password": "x"}).Code)
}

func (u *RouteTest) TestUserRoles() {
	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPut, "/um/user/42/role/1", "alice", nil).Code)
	u.Equal(http.StatusConflict, u.do(http.MethodPut, "/um/user/42/role/1", "alice", nil).Code)
	u.Equal(http.StatusNotFound, u.do(http.MethodPut, "/um/user/42/role/99", "alice", nil).Code)

	rec := u.do(http.MethodGet, "/um/user/42/roles", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	u.JSONEq(`["admin","user"]`, rec.Body.String())

	u.Require().Equal(http.StatusNoContent, u.do(http.MethodDelete, "/um/user/42/role/1", "alice", nil).Code)
	u.Equal(http.StatusNotFound, u.do(http.MethodDelete, "/um/user/42/role/1", "alice", nil).Code)

	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPut, "/um/user/42/roles", "alice", []int64{1, 1}).Code)
	rec = u.do(http.MethodGet, "/um/user/42/roles/full", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	var roles []models.Role
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &roles))
	u.Require().Len(roles, 1)
	u.Equal("admin", roles[0].Slug)

	u.Equal(http.StatusForbidden, u.do(http.MethodPut, "/um/user/42/roles", "carol", []int64{1}).Code)
}

func (u *RouteTest) TestCatalogs() {
	rec := u.do(http.MethodGet, "/um/groups", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	var groups []models.Group
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &groups))
	u.Require().Len(groups, 1)

	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPut, "/um/job_title", "alice", map[string]string{"slug": "director", "name": "Director"}).Code)
	u.Equal(http.StatusConflict, u.do(http.MethodPut, "/um/job_title", "alice", map[string]string{"slug": "director", "name": "Director"}).Code)
	u.Equal(http.StatusBadRequest, u.do(http.MethodPut, "/um/job_title", "alice", map[string]string{"slug": "cto"}).Code)

	rec = u.do(http.MethodGet, "/um/job_title/slug/director", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	var job models.JobTitle
	u.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &job))
	u.Equal("Director", job.Name)

	path := fmt.Sprintf("/um/job_title/%d", job.ID)
	rec = u.do(http.MethodPut, path, "alice", map[string]string{"name": "Managing director"})
	u.Require().Equal(http.StatusOK, rec.Code)
	u.JSONEq(`{"count":1}`, rec.Body.String())
	u.Equal(http.StatusNotFound, u.do(http.MethodPut, "/um/job_title/999", "alice", map[string]string{"name": "x"}).Code)

	// Catalog records are delete-protected by locks like users.
	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPut, fmt.Sprintf("/um/lock/job_titles/%d", job.ID), "alice", nil).Code)
	u.Equal(http.StatusConflict, u.do(http.MethodDelete, path, "bob", nil).Code)
	u.Require().Equal(http.StatusNoContent, u.do(http.MethodDelete, fmt.Sprintf("/um/lock/job_titles/%d", job.ID), "alice", nil).Code)
	u.Equal(http.StatusNoContent, u.do(http.MethodDelete, path, "bob", nil).Code)
	u.Equal(http.StatusNotFound, u.do(http.MethodGet, path, "bob", nil).Code)

	u.Equal(http.StatusForbidden, u.do(http.MethodDelete, "/um/role/2", "carol", nil).Code)
}

func (u *RouteTest) TestDashboard() {
	u.Equal(http.StatusNotFound, u.do(http.MethodGet, "/users/me/dashboard", "carol", nil).Code)
	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPut, "/users/me/dashboard", "carol", `{"widgets":[1,2]}`).Code)
	rec := u.do(http.MethodGet, "/users/me/dashboard", "carol", nil)
	u.Require().Equal(http.StatusOK, rec.Code)
	u.JSONEq(`{"widgets":[1,2]}`, rec.Body.String())
	u.Equal(http.StatusBadRequest, u.do(http.MethodPut, "/users/me/dashboard", "carol", `{"widgets"`).Code)
	u.Equal(http.StatusUnauthorized, u.do(http.MethodGet, "/users/me/dashboard", "", nil).Code)
}

func (u *RouteTest) TestRateLimit() {
	config := u.config
	config.Locks.RateLimit = 0.001
	config.Locks.RateBurst = 1
	limited := u.newServer(config)

	u.Equal(http.StatusNoContent, u.doOn(limited, http.MethodPut, "/um/lock/roles/1", "alice", nil).Code)
	rec := u.doOn(limited, http.MethodDelete, "/um/lock/roles/1", "alice", nil)
	u.Equal(http.StatusTooManyRequests, rec.Code)
	u.Contains(rec.Body.String(), "too many requests")
	// Reads are not limited.
	u.Equal(http.StatusOK, u.doOn(limited, http.MethodGet, "/um/lock/roles/1", "alice", nil).Code)
}

func (u *RouteTest) TestOperationalEndpoints() {
	u.Equal(http.StatusOK, u.do(http.MethodGet, "/health", "", nil).Code)
	rec := u.do(http.MethodGet, "/metrics", "", nil)
	u.Equal(http.StatusOK, rec.Code)
}

func (u *RouteTest) TestLockFeed() {
	srv := httptest.NewServer(u.server.Handler())
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/um/ws/locks"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	u.Require().Error(err)
	u.Require().NotNil(resp)
	u.Equal(http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token="+u.token("carol"), nil)
	u.Require().NoError(err)
	defer conn.Close()
	select {
	case <-u.feed.subscribed:
	case <-time.After(5 * time.Second):
		u.FailNow("feed not subscribed")
	}

	u.Require().NoError(conn.WriteJSON(socket.WSMessage{Type: socket.WSMessageTypeKeepAlive, ID: "k1"}))
	var msg socket.WSMessage
	u.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	u.Require().NoError(conn.ReadJSON(&msg))
	u.Equal(socket.WSMessageTypeKeepAlive, msg.Type)
	u.Equal("k1", msg.ID)

	u.Require().Equal(http.StatusNoContent, u.do(http.MethodPut, "/um/lock/users/42", "alice", nil).Code)
	var event struct {
		Type socket.WSMessageType `json:"type"`
		Data lock.Event           `json:"data"`
	}
	u.Require().NoError(conn.ReadJSON(&event))
	u.Equal(socket.WSMessageTypeEvent, event.Type)
	u.Equal(lock.EventAcquired, event.Data.Type)
	u.Require().NotNil(event.Data.Lock)
	u.Equal("alice", event.Data.Lock.HolderUID)

	u.Require().NoError(conn.WriteJSON(socket.WSMessage{Type: "bogus", ID: "b1"}))
	u.Require().NoError(conn.ReadJSON(&msg))
	u.Equal(socket.WSMessageTypeError, msg.Type)
	u.Equal("b1", msg.ID)
}

func TestRoute(t *testing.T) {
	suite.Run(t, new(RouteTest))
}
