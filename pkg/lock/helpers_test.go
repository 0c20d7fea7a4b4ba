package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/spike-events/spike-directory/pkg/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

type testClock struct {
	m   sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.m.Lock()
	defer c.m.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.m.Lock()
	defer c.m.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()
	c.now = c.now.Add(d)
}

type testHolders map[string]*models.User

func (h testHolders) FindByUID(_ context.Context, uid string) (*models.User, error) {
	if u, ok := h[uid]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s not found", uid)
}

type recordingPublisher struct {
	m      sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.m.Lock()
	defer p.m.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Types() []EventType {
	p.m.Lock()
	defer p.m.Unlock()
	types := make([]EventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type testResource struct {
	name    string
	deleted []int64
}

func (r *testResource) ModelName() string {
	return r.name
}

func (r *testResource) Delete(_ context.Context, id int64) error {
	r.deleted = append(r.deleted, id)
	return nil
}

func countLocks(t *testing.T, db *gorm.DB, object string, objectID int64) int64 {
	t.Helper()
	var count int64
	err := db.Model(&models.Lock{}).Where("object = ? AND object_id = ?", object, objectID).Count(&count).Error
	if err != nil {
		t.Fatalf("failed to count locks: %v", err)
	}
	return count
}

// interleavingStore runs between once, right after the first Get, to model a
// concurrent request landing between the lookup and the write.
type interleavingStore struct {
	Store
	once    sync.Once
	between func()
}

func (s *interleavingStore) Get(ctx context.Context, object string, objectID int64) (*models.Lock, error) {
	lock, err := s.Store.Get(ctx, object, objectID)
	s.once.Do(s.between)
	return lock, err
}
