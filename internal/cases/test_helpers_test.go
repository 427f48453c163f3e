package cases

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "cases.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Case{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

type sequenceIDProvider struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return p.prefix + string(rune('0'+p.next)), nil
}

type countingEstimator struct {
	total int
}

func (e countingEstimator) Estimate(data FormData) int {
	filled := 0
	for _, value := range data {
		if value.IsFilled() {
			filled++
		}
	}
	if filled == 0 {
		return 0
	}
	percentage := filled * 100 / e.total
	if percentage > 100 {
		return 100
	}
	return percentage
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock(start time.Time) *steppingClock {
	return &steppingClock{current: start}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestService(t *testing.T, total int) (*Service, *GormStore) {
	t.Helper()
	store, err := NewGormStore(openTestDatabase(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	clock := newSteppingClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	service, err := NewService(ServiceConfig{
		Store:      store,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{prefix: "case-"},
		Estimator:  countingEstimator{total: total},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, store
}
