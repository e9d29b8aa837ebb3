package repository

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	// 仓储实例（懒加载）
	roomOnce sync.Once
	room     RoomRepository

	cookieOnce sync.Once
	cookie     CookieRepository

	playerOnce sync.Once
	player     PlayerRepository

	scoreOnce sync.Once
	score     ScoreRepository

	nicknameOnce sync.Once
	nickname     NicknameWordRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Room 获取房间仓储
func (m *Manager) Room() RoomRepository {
	m.roomOnce.Do(func() {
		m.room = NewRoomRepository(m.db)
	})
	return m.room
}

// Cookie 获取饼干仓储
func (m *Manager) Cookie() CookieRepository {
	m.cookieOnce.Do(func() {
		m.cookie = NewCookieRepository(m.db)
	})
	return m.cookie
}

// Player 获取玩家仓储
func (m *Manager) Player() PlayerRepository {
	m.playerOnce.Do(func() {
		m.player = NewPlayerRepository(m.db)
	})
	return m.player
}

// Score 获取积分仓储
func (m *Manager) Score() ScoreRepository {
	m.scoreOnce.Do(func() {
		m.score = NewScoreRepository(m.db)
	})
	return m.score
}

// NicknameWord 获取昵称词库仓储
func (m *Manager) NicknameWord() NicknameWordRepository {
	m.nicknameOnce.Do(func() {
		m.nickname = NewNicknameWordRepository(m.db)
	})
	return m.nickname
}

// WithTransaction 在事务中执行操作，fn 收到绑定到事务的管理器
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *Manager) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewManager(tx))
	})
}
