package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/models"
	"github.com/wfunc/cookie-catcher/internal/realtime"
)

// 变更事件和表名，与服务端保持一致
const (
	eventInsert = "INSERT"
	eventUpdate = "UPDATE"
	eventDelete = "DELETE"

	tableRooms   = "rooms"
	tableCookies = "cookies"
	tableScores  = "scores"
)

// Snapshot 某一时刻的房间状态
type Snapshot struct {
	Room    *models.Room
	Cookies []models.Cookie
	Scores  []models.Score
}

// Store 房间状态容器，按表变更事件折叠
type Store struct {
	mu      sync.RWMutex
	room    *models.Room
	cookies []models.Cookie
	scores  []models.Score

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)
}

// NewStore 创建空的状态容器
func NewStore() *Store {
	return &Store{subs: make(map[int]func(Snapshot))}
}

// Load 用接口读到的初始数据替换状态
func (s *Store) Load(snap Snapshot) {
	s.mu.Lock()
	s.room = snap.Room
	s.cookies = append([]models.Cookie(nil), snap.Cookies...)
	s.scores = append([]models.Score(nil), snap.Scores...)
	s.mu.Unlock()
	s.notify()
}

// Subscribe 注册状态变化回调，返回取消函数
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	snap := s.Snapshot()
	s.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Snapshot 当前状态的拷贝
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Cookies: append([]models.Cookie(nil), s.cookies...),
		Scores:  append([]models.Score(nil), s.scores...),
	}
	if s.room != nil {
		room := *s.room
		snap.Room = &room
	}
	return snap
}

// Apply 折叠一条表变更
func (s *Store) Apply(change realtime.ChangePayload) error {
	var err error
	switch change.Table {
	case tableRooms:
		err = s.applyRoom(change)
	case tableCookies:
		err = s.applyCookie(change)
	case tableScores:
		err = s.applyScore(change)
	default:
		return fmt.Errorf("未知的表: %s", change.Table)
	}
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Store) applyRoom(change realtime.ChangePayload) error {
	if change.Event == eventDelete {
		return nil
	}
	var room models.Room
	if err := json.Unmarshal(change.New, &room); err != nil {
		return fmt.Errorf("解析房间变更失败: %w", err)
	}
	s.mu.Lock()
	s.room = &room
	s.mu.Unlock()
	return nil
}

func (s *Store) applyCookie(change realtime.ChangePayload) error {
	if change.Event == eventDelete {
		var old struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(change.Old, &old); err != nil {
			return fmt.Errorf("解析饼干删除失败: %w", err)
		}
		s.mu.Lock()
		s.cookies = removeCookie(s.cookies, old.ID)
		s.mu.Unlock()
		return nil
	}

	var cookie models.Cookie
	if err := json.Unmarshal(change.New, &cookie); err != nil {
		return fmt.Errorf("解析饼干变更失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cookies {
		if s.cookies[i].ID == cookie.ID {
			s.cookies[i] = cookie
			return nil
		}
	}
	if change.Event == eventInsert {
		s.cookies = append(s.cookies, cookie)
	}
	return nil
}

func removeCookie(cookies []models.Cookie, id string) []models.Cookie {
	out := cookies[:0]
	for _, c := range cookies {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) applyScore(change realtime.ChangePayload) error {
	if change.Event == eventDelete {
		return nil
	}
	var score models.Score
	if err := json.Unmarshal(change.New, &score); err != nil {
		return fmt.Errorf("解析积分变更失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.scores {
		if s.scores[i].PlayerID == score.PlayerID {
			// 变更里可能不带玩家信息，沿用已有的
			if score.Player == nil {
				score.Player = s.scores[i].Player
			}
			s.scores[i] = score
			return nil
		}
	}
	s.scores = append(s.scores, score)
	return nil
}

// MarkClaimed 领取成功后先在本地标记，等服务端变更覆盖
func (s *Store) MarkClaimed(cookieID, owner string, now time.Time) {
	s.mu.Lock()
	for i := range s.cookies {
		if s.cookies[i].ID == cookieID {
			o := owner
			t := now
			s.cookies[i].Owner = &o
			s.cookies[i].ClaimedAt = &t
		}
	}
	s.mu.Unlock()
	s.notify()
}

// Room 当前房间
func (s *Store) Room() *models.Room {
	return s.Snapshot().Room
}

// IsRunning 回合进行中
func (s *Store) IsRunning() bool {
	room := s.Room()
	return room != nil && room.IsRunning()
}

// IsIntermission 回合间歇
func (s *Store) IsIntermission() bool {
	room := s.Room()
	return room != nil && room.Status == models.RoomStatusIntermission
}

// TimeRemaining 回合剩余秒数
func (s *Store) TimeRemaining(now time.Time) int {
	room := s.Room()
	if room == nil {
		return 0
	}
	return room.TimeRemaining(now)
}

// ActiveCookies 可领取的饼干
func (s *Store) ActiveCookies(now time.Time) []models.Cookie {
	return game.ActiveCookies(s.Snapshot().Cookies, now)
}

// Leaderboard 排行榜前 limit 名
func (s *Store) Leaderboard(board game.Board, limit int) []models.Score {
	return game.Leaderboard(s.Snapshot().Scores, board, limit)
}

// Rank 玩家排名，不存在返回0
func (s *Store) Rank(playerID string, board game.Board) int {
	return game.Rank(s.Snapshot().Scores, playerID, board)
}

// ScoreOf 玩家积分
func (s *Store) ScoreOf(playerID string) (models.Score, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sc := range s.scores {
		if sc.PlayerID == playerID {
			return sc, true
		}
	}
	return models.Score{}, false
}
