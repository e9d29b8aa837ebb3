package relay

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// 光标频道的广播事件
const (
	EventCursorMove  = "cursor_move"
	EventCursorLeave = "cursor_leave"
	EventTouchRipple = "touch_ripple"
)

// 触摸类型
const (
	TouchTap     = "tap"
	TouchDrag    = "drag"
	TouchRelease = "release"
)

// Position 光标位置，timestamp 为毫秒
type Position struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

// CursorMove 光标移动消息
type CursorMove struct {
	UserID   string   `json:"userId"`
	Nick     string   `json:"nick"`
	Color    string   `json:"color"`
	Position Position `json:"position"`
}

// CursorLeave 光标离开消息
type CursorLeave struct {
	UserID string `json:"userId"`
}

// TouchRipple 触摸波纹消息
type TouchRipple struct {
	ID       string   `json:"id"`
	UserID   string   `json:"userId"`
	Nick     string   `json:"nick"`
	Color    string   `json:"color"`
	Position Position `json:"position"`
	Type     string   `json:"type"`
}

// ValidTouchType 是否为合法的触摸类型
func ValidTouchType(t string) bool {
	return t == TouchTap || t == TouchDrag || t == TouchRelease
}

// Throttler 光标节流，每个间隔最多发送一次，间隔结束时发送最新位置
type Throttler struct {
	mu       sync.Mutex
	interval time.Duration
	clock    Clock
	send     func(CursorMove)

	pending *CursorMove
	timer   Timer
	stopped bool
}

// NewThrottler 创建节流器
func NewThrottler(interval time.Duration, clock Clock, send func(CursorMove)) *Throttler {
	if clock == nil {
		clock = SystemClock
	}
	return &Throttler{interval: interval, clock: clock, send: send}
}

// Offer 提交一个新位置，覆盖尚未发送的旧位置
func (t *Throttler) Offer(m CursorMove) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.pending = &m
	if t.timer == nil {
		t.timer = t.clock.AfterFunc(t.interval, t.flush)
	}
}

func (t *Throttler) flush() {
	t.mu.Lock()
	m := t.pending
	t.pending = nil
	t.timer = nil
	stopped := t.stopped
	t.mu.Unlock()

	if m == nil || stopped {
		return
	}
	m.Position.Timestamp = t.clock.Now().UnixMilli()
	t.send(*m)
}

// Stop 丢弃未发送的位置，之后的 Offer 不再生效
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

type cursorEntry struct {
	move     CursorMove
	received time.Time
}

// CursorBoard 其他玩家的光标，按用户ID保存最后位置
type CursorBoard struct {
	mu         sync.Mutex
	staleAfter time.Duration
	entries    map[string]cursorEntry
}

// NewCursorBoard 创建光标表
func NewCursorBoard(staleAfter time.Duration) *CursorBoard {
	return &CursorBoard{staleAfter: staleAfter, entries: make(map[string]cursorEntry)}
}

// Move 更新光标位置，以本地收到的时间计算过期
func (b *CursorBoard) Move(m CursorMove, now time.Time) {
	if m.UserID == "" {
		return
	}
	b.mu.Lock()
	b.entries[m.UserID] = cursorEntry{move: m, received: now}
	b.mu.Unlock()
}

// Leave 立即移除光标
func (b *CursorBoard) Leave(userID string) {
	b.mu.Lock()
	delete(b.entries, userID)
	b.mu.Unlock()
}

// Prune 移除超时未更新的光标，返回移除数量
func (b *CursorBoard) Prune(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, e := range b.entries {
		if now.Sub(e.received) > b.staleAfter {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// Cursors 当前光标列表，按昵称排序
func (b *CursorBoard) Cursors() []CursorMove {
	b.mu.Lock()
	out := make([]CursorMove, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.move)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Nick != out[j].Nick {
			return out[i].Nick < out[j].Nick
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Clear 清空
func (b *CursorBoard) Clear() {
	b.mu.Lock()
	b.entries = make(map[string]cursorEntry)
	b.mu.Unlock()
}

// Len 光标数量
func (b *CursorBoard) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func rippleID(userID string, now time.Time) string {
	return fmt.Sprintf("%s-%d", userID, now.UnixNano())
}
