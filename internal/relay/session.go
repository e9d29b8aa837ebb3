package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/cookie-catcher/internal/config"
	"github.com/wfunc/cookie-catcher/internal/realtime"
	"go.uber.org/zap"
)

// Identity 本机玩家
type Identity struct {
	UserID   string
	Nick     string
	Color    string
	DeviceID string
	RoomID   string
}

// Options 会话参数，零值使用默认
type Options struct {
	Throttle        time.Duration
	StaleAfter      time.Duration
	NotificationTTL time.Duration
	PruneInterval   time.Duration
	Clock           Clock
	Logger          *zap.Logger

	// Heartbeat 重新上报在线状态的间隔，默认 StaleAfter/3
	Heartbeat time.Duration

	// OnRipple 收到其他玩家的触摸波纹
	OnRipple func(TouchRipple)
	// OnJoin 其他玩家加入
	OnJoin func(JoinNotification)
}

// OptionsFrom 从配置生成会话参数
func OptionsFrom(cfg config.RelayConfig) Options {
	return Options{
		Throttle:        cfg.Throttle,
		StaleAfter:      cfg.CursorStaleAfter,
		NotificationTTL: cfg.NotificationTTL,
		PruneInterval:   cfg.PruneInterval,
		Heartbeat:       cfg.Heartbeat,
	}
}

func (o Options) withDefaults() Options {
	if o.Throttle <= 0 {
		o.Throttle = 50 * time.Millisecond
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Second
	}
	if o.NotificationTTL <= 0 {
		o.NotificationTTL = 5 * time.Second
	}
	if o.PruneInterval <= 0 {
		o.PruneInterval = 100 * time.Millisecond
	}
	if o.Heartbeat <= 0 || o.Heartbeat >= o.StaleAfter {
		o.Heartbeat = o.StaleAfter / 3
	}
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// CursorTopic 光标广播频道
func CursorTopic(roomID string) string { return "cursors_" + roomID }

// PresenceTopic 在线状态频道
func PresenceTopic(roomID string) string { return "presence_" + roomID }

// Session 一个玩家在房间内的实时会话
type Session struct {
	conn *Conn
	id   Identity
	opts Options

	Presence      *PresenceView
	Notifications *Notifications
	Cursors       *CursorBoard
	Store         *Store

	throttle *Throttler

	mu     sync.Mutex
	topics []string
	joined bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewSession 在已建立的连接上创建会话
func NewSession(conn *Conn, id Identity, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		conn:          conn,
		id:            id,
		opts:          opts,
		Presence:      NewPresenceView(opts.Clock),
		Notifications: NewNotifications(opts.NotificationTTL),
		Cursors:       NewCursorBoard(opts.StaleAfter),
		Store:         NewStore(),
		stop:          make(chan struct{}),
	}
	s.throttle = NewThrottler(opts.Throttle, opts.Clock, s.sendMove)
	return s
}

// Identity 本机玩家
func (s *Session) Identity() Identity {
	return s.id
}

// Done 底层连接断开后关闭
func (s *Session) Done() <-chan struct{} {
	return s.conn.Done()
}

// Join 订阅光标、在线状态和三张表的变更，然后上报在线状态
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return errors.New("会话已加入")
	}
	s.joined = true
	s.mu.Unlock()

	room := s.id.RoomID
	subs := []struct {
		topic string
		h     Handler
	}{
		{CursorTopic(room), s.onCursorFrame},
		{PresenceTopic(room), s.onPresenceFrame},
		{realtime.TopicForTable(room, tableRooms), s.onChangeFrame},
		{realtime.TopicForTable(room, tableCookies), s.onChangeFrame},
		{realtime.TopicForTable(room, tableScores), s.onChangeFrame},
	}
	for _, sub := range subs {
		if err := s.conn.Subscribe(ctx, sub.topic, false, sub.h); err != nil {
			return fmt.Errorf("订阅 %s 失败: %w", sub.topic, err)
		}
		s.mu.Lock()
		s.topics = append(s.topics, sub.topic)
		s.mu.Unlock()
	}

	if err := s.track(); err != nil {
		return fmt.Errorf("上报在线状态失败: %w", err)
	}

	s.wg.Add(1)
	go s.pruneLoop()
	return nil
}

// JoinWithSnapshot 先用 load 装入房间快照再加入，
// 加入后收到的变更都叠加在快照之上
func (s *Session) JoinWithSnapshot(ctx context.Context, load func(context.Context) (Snapshot, error)) error {
	snap, err := load(ctx)
	if err != nil {
		return fmt.Errorf("读取房间状态失败: %w", err)
	}
	s.Store.Load(snap)
	return s.Join(ctx)
}

// track 上报本机在线状态，last_seen 取当前时间
func (s *Session) track() error {
	return s.conn.Track(PresenceTopic(s.id.RoomID), PresenceUser{
		UserID:   s.id.UserID,
		Nick:     s.id.Nick,
		Color:    s.id.Color,
		DeviceID: s.id.DeviceID,
		LastSeen: s.opts.Clock.Now().UTC().Format(time.RFC3339),
	})
}

// pruneLoop 清理过期的光标、提示和在线状态，并定时重新上报自己
func (s *Session) pruneLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PruneInterval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ticker.C:
			now := s.opts.Clock.Now()
			s.Cursors.Prune(now)
			s.Notifications.Prune(now)
			for _, key := range s.Presence.Prune(now, s.opts.StaleAfter) {
				s.opts.Logger.Debug("在线状态超时", zap.String("key", key))
			}
		case <-heartbeat.C:
			if err := s.track(); err != nil {
				s.opts.Logger.Debug("刷新在线状态失败", zap.Error(err))
			}
		case <-s.stop:
			return
		case <-s.conn.Done():
			return
		}
	}
}

func (s *Session) onCursorFrame(f realtime.Frame) {
	if f.Type != realtime.FrameBroadcast {
		return
	}
	switch f.Event {
	case EventCursorMove:
		var m CursorMove
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			s.opts.Logger.Debug("光标消息无法解析", zap.Error(err))
			return
		}
		if m.UserID == s.id.UserID {
			return
		}
		s.Cursors.Move(m, s.opts.Clock.Now())
	case EventCursorLeave:
		var m CursorLeave
		if err := json.Unmarshal(f.Payload, &m); err == nil {
			s.Cursors.Leave(m.UserID)
		}
	case EventTouchRipple:
		var r TouchRipple
		if err := json.Unmarshal(f.Payload, &r); err == nil && s.opts.OnRipple != nil {
			s.opts.OnRipple(r)
		}
	}
}

func (s *Session) onPresenceFrame(f realtime.Frame) {
	switch f.Type {
	case realtime.FramePresenceState:
		var state realtime.PresenceState
		if err := json.Unmarshal(f.Payload, &state); err != nil {
			s.opts.Logger.Warn("在线状态无法解析", zap.Error(err))
			return
		}
		s.Presence.ApplyState(state)

	case realtime.FramePresenceDiff:
		var diff realtime.PresenceDiff
		if err := json.Unmarshal(f.Payload, &diff); err != nil {
			s.opts.Logger.Warn("在线状态增量无法解析", zap.Error(err))
			return
		}
		for _, u := range s.Presence.ApplyDiff(diff) {
			if u.DeviceID == s.id.DeviceID {
				continue
			}
			n := s.Notifications.Add(u.Nick, u.Color, u.DeviceID, s.opts.Clock.Now())
			if s.opts.OnJoin != nil {
				s.opts.OnJoin(n)
			}
		}
	}
}

func (s *Session) onChangeFrame(f realtime.Frame) {
	if f.Type != realtime.FrameChanges {
		return
	}
	var change realtime.ChangePayload
	if err := json.Unmarshal(f.Payload, &change); err != nil {
		s.opts.Logger.Warn("表变更无法解析", zap.Error(err))
		return
	}
	if err := s.Store.Apply(change); err != nil {
		s.opts.Logger.Warn("表变更处理失败", zap.String("table", change.Table), zap.Error(err))
	}
}

// MoveCursor 移动光标，发送经过节流
func (s *Session) MoveCursor(x, y float64) {
	s.throttle.Offer(CursorMove{
		UserID:   s.id.UserID,
		Nick:     s.id.Nick,
		Color:    s.id.Color,
		Position: Position{X: x, Y: y},
	})
}

func (s *Session) sendMove(m CursorMove) {
	if err := s.conn.Broadcast(CursorTopic(s.id.RoomID), EventCursorMove, m); err != nil {
		s.opts.Logger.Debug("发送光标失败", zap.Error(err))
	}
}

// Touch 发送触摸波纹，不节流
func (s *Session) Touch(x, y float64, typ string) error {
	if !ValidTouchType(typ) {
		return fmt.Errorf("无效的触摸类型: %s", typ)
	}
	now := s.opts.Clock.Now()
	return s.conn.Broadcast(CursorTopic(s.id.RoomID), EventTouchRipple, TouchRipple{
		ID:       rippleID(s.id.UserID, now),
		UserID:   s.id.UserID,
		Nick:     s.id.Nick,
		Color:    s.id.Color,
		Position: Position{X: x, Y: y, Timestamp: now.UnixMilli()},
		Type:     typ,
	})
}

// Leave 广播光标离开、撤销在线状态、退订并关闭连接
func (s *Session) Leave(ctx context.Context) error {
	s.throttle.Stop()

	s.mu.Lock()
	topics := s.topics
	s.topics = nil
	wasJoined := s.joined
	s.joined = false
	s.mu.Unlock()

	var errs []error
	if wasJoined {
		// 先停掉心跳，避免 untrack 之后又被重新上报
		close(s.stop)
		s.wg.Wait()
		if err := s.conn.Broadcast(CursorTopic(s.id.RoomID), EventCursorLeave, CursorLeave{UserID: s.id.UserID}); err != nil {
			errs = append(errs, err)
		}
		if err := s.conn.Untrack(PresenceTopic(s.id.RoomID)); err != nil {
			errs = append(errs, err)
		}
		for _, topic := range topics {
			if err := s.conn.Unsubscribe(ctx, topic); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.Cursors.Clear()
	s.Presence.Reset()
	s.conn.Close()
	return errors.Join(errs...)
}
