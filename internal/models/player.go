package models

import (
	"time"
)

// Player 玩家表，按设备唯一
type Player struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID     string    `gorm:"size:64;not null;uniqueIndex:idx_players_room_device,priority:1" json:"room_id"`
	Nick       string    `gorm:"size:100;not null;uniqueIndex" json:"nick"`
	Color      string    `gorm:"size:16" json:"color"`
	DeviceID   string    `gorm:"size:128;not null;uniqueIndex:idx_players_room_device,priority:2" json:"device_id"`
	JoinedAt   time.Time `gorm:"not null" json:"joined_at"`
	LastSeenAt time.Time `gorm:"not null;index" json:"last_seen_at"`
}

// TableName 表名
func (Player) TableName() string {
	return "players"
}

// Score 玩家积分表，与玩家一对一
type Score struct {
	PlayerID    string     `gorm:"primaryKey;size:36" json:"player_id"`
	RoomID      string     `gorm:"size:64;not null;index" json:"room_id"`
	ScoreTotal  int        `gorm:"not null;default:0" json:"score_total"`
	ScoreRound  int        `gorm:"not null;default:0" json:"score_round"`
	LastClaimAt *time.Time `json:"last_claim_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// 关联
	Player *Player `gorm:"foreignKey:PlayerID;references:ID" json:"players,omitempty"`
}

// TableName 表名
func (Score) TableName() string {
	return "scores"
}

// NicknameWord 昵称词库，position 取 1/2/3
type NicknameWord struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Word     string `gorm:"size:50;not null;uniqueIndex:idx_nickname_word_position,priority:1" json:"word"`
	Position int    `gorm:"not null;uniqueIndex:idx_nickname_word_position,priority:2;index" json:"position"`
}

// TableName 表名
func (NicknameWord) TableName() string {
	return "nickname_words"
}
