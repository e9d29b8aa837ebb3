package relay

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/cookie-catcher/internal/realtime"
)

// DefaultNotificationColor 没有颜色时的提示颜色
const DefaultNotificationColor = "#3B82F6"

// PresenceUser 在线状态中上报的玩家信息
type PresenceUser struct {
	UserID   string `json:"user_id,omitempty"`
	Nick     string `json:"nick"`
	Color    string `json:"color,omitempty"`
	DeviceID string `json:"device_id"`
	LastSeen string `json:"last_seen"`
}

func (u *PresenceUser) complete() bool {
	return u.Nick != "" && u.DeviceID != "" && u.LastSeen != ""
}

func decodePresence(meta json.RawMessage) (PresenceUser, bool) {
	var u PresenceUser
	if err := json.Unmarshal(meta, &u); err != nil {
		return u, false
	}
	return u, u.complete()
}

// PresenceView 本地维护的在线状态表，每个 key 记录最后一次收到的时间，
// 长时间没有刷新的 key 由 Prune 移除
type PresenceView struct {
	mu    sync.Mutex
	clock Clock
	table realtime.PresenceState
	seen  map[string]time.Time
}

// NewPresenceView 创建在线状态表
func NewPresenceView(clock Clock) *PresenceView {
	if clock == nil {
		clock = SystemClock
	}
	return &PresenceView{
		clock: clock,
		table: make(realtime.PresenceState),
		seen:  make(map[string]time.Time),
	}
}

// ApplyState 用全量状态替换本地表
func (p *PresenceView) ApplyState(state realtime.PresenceState) {
	now := p.clock.Now()
	table := make(realtime.PresenceState, len(state))
	seen := make(map[string]time.Time, len(state))
	for key, metas := range state {
		if len(metas) > 0 {
			table[key] = append([]realtime.PresenceMeta(nil), metas...)
			seen[key] = now
		}
	}
	p.mu.Lock()
	p.table = table
	p.seen = seen
	p.mu.Unlock()
}

// ApplyDiff 合并增量，先处理离开再处理加入，返回新加入的完整记录。
// 同一个 key 同时出现在 leaves 和 joins 中是重新上报，不计入返回值
func (p *PresenceView) ApplyDiff(diff realtime.PresenceDiff) []PresenceUser {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, leaves := range diff.Leaves {
		metas := p.table[key]
		for _, leave := range leaves {
			metas = removeRef(metas, leave.Ref)
		}
		if len(metas) == 0 {
			delete(p.table, key)
			delete(p.seen, key)
		} else {
			p.table[key] = metas
		}
	}

	var joined []PresenceUser
	for key, joins := range diff.Joins {
		for _, join := range joins {
			p.table[key] = append(removeRef(p.table[key], join.Ref), join)
			p.seen[key] = now
			if _, retracked := diff.Leaves[key]; retracked {
				continue
			}
			if u, ok := decodePresence(join.Meta); ok {
				joined = append(joined, u)
			}
		}
	}
	return joined
}

// Prune 移除超过 staleAfter 没有刷新的 key，返回移除的 key
func (p *PresenceView) Prune(now time.Time, staleAfter time.Duration) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var removed []string
	for key, at := range p.seen {
		if now.Sub(at) >= staleAfter {
			delete(p.table, key)
			delete(p.seen, key)
			removed = append(removed, key)
		}
	}
	return removed
}

func removeRef(metas []realtime.PresenceMeta, ref string) []realtime.PresenceMeta {
	out := metas[:0:0]
	for _, m := range metas {
		if m.Ref != ref {
			out = append(out, m)
		}
	}
	return out
}

// Users 每个 key 取第一条完整记录，按昵称排序
func (p *PresenceView) Users() []PresenceUser {
	p.mu.Lock()
	users := make([]PresenceUser, 0, len(p.table))
	for _, metas := range p.table {
		if len(metas) == 0 {
			continue
		}
		if u, ok := decodePresence(metas[0].Meta); ok {
			users = append(users, u)
		}
	}
	p.mu.Unlock()

	sort.Slice(users, func(i, j int) bool {
		a, b := strings.ToLower(users[i].Nick), strings.ToLower(users[j].Nick)
		if a != b {
			return a < b
		}
		return users[i].DeviceID < users[j].DeviceID
	})
	return users
}

// Count 在线人数
func (p *PresenceView) Count() int {
	return len(p.Users())
}

// Reset 清空
func (p *PresenceView) Reset() {
	p.mu.Lock()
	p.table = make(realtime.PresenceState)
	p.seen = make(map[string]time.Time)
	p.mu.Unlock()
}

// JoinNotification 玩家加入提示
type JoinNotification struct {
	ID       string    `json:"id"`
	Nick     string    `json:"nick"`
	Color    string    `json:"color"`
	DeviceID string    `json:"device_id"`
	At       time.Time `json:"at"`
}

// Notifications 加入提示列表，超过 ttl 自动消失
type Notifications struct {
	mu    sync.Mutex
	ttl   time.Duration
	items []JoinNotification
}

// NewNotifications 创建提示列表
func NewNotifications(ttl time.Duration) *Notifications {
	return &Notifications{ttl: ttl}
}

// Add 添加一条提示
func (n *Notifications) Add(nick, color, deviceID string, now time.Time) JoinNotification {
	if color == "" {
		color = DefaultNotificationColor
	}
	item := JoinNotification{
		ID:       fmt.Sprintf("%s-%d", deviceID, now.UnixMilli()),
		Nick:     nick,
		Color:    color,
		DeviceID: deviceID,
		At:       now,
	}
	n.mu.Lock()
	n.items = append(n.items, item)
	n.mu.Unlock()
	return item
}

// Remove 手动关闭提示
func (n *Notifications) Remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return
		}
	}
}

// Prune 移除过期提示
func (n *Notifications) Prune(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := n.items[:0]
	for _, item := range n.items {
		if now.Sub(item.At) < n.ttl {
			kept = append(kept, item)
		}
	}
	n.items = kept
}

// Active 未过期的提示
func (n *Notifications) Active(now time.Time) []JoinNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]JoinNotification, 0, len(n.items))
	for _, item := range n.items {
		if now.Sub(item.At) < n.ttl {
			out = append(out, item)
		}
	}
	return out
}
