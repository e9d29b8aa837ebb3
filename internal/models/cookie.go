package models

import (
	"time"
)

// 饼干类型
const (
	CookieTypeCookie = "cookie"
	CookieTypeCat    = "cat"
)

// Cookie 掉落物表，owner 一旦写入不再变化
type Cookie struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	RoomID    string     `gorm:"size:64;not null;index:idx_cookies_room_despawn,priority:1" json:"room_id"`
	Type      string     `gorm:"size:16;not null" json:"type"` // cookie, cat
	Value     int        `gorm:"not null" json:"value"`
	XPct      float64    `gorm:"column:x_pct;not null" json:"x_pct"`
	YPct      float64    `gorm:"column:y_pct;not null;default:0" json:"y_pct"`
	SpawnedAt time.Time  `gorm:"not null" json:"spawned_at"`
	DespawnAt time.Time  `gorm:"not null;index:idx_cookies_room_despawn,priority:2" json:"despawn_at"`
	Owner     *string    `gorm:"size:36;index" json:"owner"`
	ClaimedAt *time.Time `json:"claimed_at"`
}

// TableName 表名
func (Cookie) TableName() string {
	return "cookies"
}

// IsActive 未被领取且未过期
func (c *Cookie) IsActive(now time.Time) bool {
	return c.Owner == nil && c.DespawnAt.After(now)
}
