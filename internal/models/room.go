package models

import (
	"time"
)

// 房间状态
const (
	RoomStatusIdle         = "idle"
	RoomStatusRunning      = "running"
	RoomStatusIntermission = "intermission"
)

// Room 游戏房间表，当前只有一个 main-room
type Room struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	Name            string     `gorm:"size:100;not null" json:"name"`
	Status          string     `gorm:"size:20;not null;default:'idle'" json:"status"` // idle, running, intermission
	RoundNo         int        `gorm:"not null;default:0" json:"round_no"`
	RoundStartedAt  *time.Time `json:"round_started_at"`
	RoundEndsAt     *time.Time `json:"round_ends_at"`
	SpawnRatePerSec float64    `gorm:"not null;default:2" json:"spawn_rate_per_sec"`
	TTLSeconds      int        `gorm:"column:ttl_seconds;not null;default:8" json:"ttl_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName 表名
func (Room) TableName() string {
	return "rooms"
}

// IsRunning 是否处于回合中
func (r *Room) IsRunning() bool {
	return r.Status == RoomStatusRunning
}

// TimeRemaining 回合剩余秒数，向上取整，不小于0
func (r *Room) TimeRemaining(now time.Time) int {
	if r.RoundEndsAt == nil {
		return 0
	}
	remaining := r.RoundEndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	secs := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return secs
}
