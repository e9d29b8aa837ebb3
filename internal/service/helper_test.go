package service

import (
	"sync"
	"time"

	"github.com/wfunc/cookie-catcher/internal/config"
	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/utils"
)

type recordedChange struct {
	Room  string
	Table string
	Event string
	New   interface{}
	Old   interface{}
}

// recordFeed 记录推送的变更
type recordFeed struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (f *recordFeed) PublishChange(roomID, table, event string, newRow, oldRow interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, recordedChange{Room: roomID, Table: table, Event: event, New: newRow, Old: oldRow})
}

func (f *recordFeed) count(table, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.changes {
		if c.Table == table && c.Event == event {
			n++
		}
	}
	return n
}

func (f *recordFeed) reset() {
	f.mu.Lock()
	f.changes = nil
	f.mu.Unlock()
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig(clock *fakeClock) *Config {
	return &Config{
		Game:           config.Default().Game,
		JWTSecret:      "test-secret",
		TokenExpiry:    time.Hour,
		AdminPassword:  "let-me-in",
		Now:            clock.Now,
		Rand:           game.NewRand(42),
		PasswordConfig: &utils.PasswordConfig{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32},
	}
}
