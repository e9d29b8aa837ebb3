package service

import (
	"context"
	"time"

	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/models"
	"github.com/wfunc/cookie-catcher/internal/utils"
)

// ClaimService 领取仲裁服务接口
type ClaimService interface {
	Claim(ctx context.Context, cookieID, deviceID string) (*ClaimResult, error)
}

// PlayerService 玩家服务接口
type PlayerService interface {
	AssignNickname(ctx context.Context, deviceID string) (*models.Player, error)
}

// SpawnService 饼干生成服务接口
type SpawnService interface {
	// SpawnTick 定时生成，房间不在回合中时不生成
	SpawnTick(ctx context.Context) (*SpawnResult, error)
	// SpawnManual 管理员手动生成，不检查房间状态
	SpawnManual(ctx context.Context, count int) (int, error)
	// CollectClaimed 删除保留期之前被领取的饼干
	CollectClaimed(ctx context.Context) (int64, error)
}

// AdminService 管理服务接口
type AdminService interface {
	Authenticate(ctx context.Context, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (*utils.AdminClaims, error)
	Execute(ctx context.Context, req *AdminActionRequest) (*AdminActionResult, error)
}

// QueryService 只读查询服务接口
type QueryService interface {
	Room(ctx context.Context) (*RoomView, error)
	ActiveCookies(ctx context.Context) ([]models.Cookie, error)
	Leaderboard(ctx context.Context, board game.Board) ([]LeaderboardEntry, error)
	Scores(ctx context.Context) ([]models.Score, error)
	PlayerCount(ctx context.Context) (int64, error)
	PlayerRank(ctx context.Context, playerID string) (*RankView, error)
}

// ClaimStatus 领取结果分类
type ClaimStatus string

const (
	ClaimOK             ClaimStatus = "ok"
	ClaimPlayerNotFound ClaimStatus = "player_not_found"
	ClaimRateLimited    ClaimStatus = "rate_limited"
	ClaimAlreadyClaimed ClaimStatus = "already_claimed"
	ClaimExpired        ClaimStatus = "expired"
	ClaimCookieNotFound ClaimStatus = "cookie_not_found"
)

// 对外返回的失败原因
const (
	ReasonPlayerNotFound  = "Player not found"
	ReasonRateLimited     = "Rate limited"
	ReasonClaimedOrExpire = "Cookie already claimed or expired"
)

// ClaimResult 领取结果，输掉竞争不是错误
type ClaimResult struct {
	Status ClaimStatus
	Value  int
	Cookie *models.Cookie
	Score  *models.Score
}

// OK 是否领取成功
func (r *ClaimResult) OK() bool {
	return r.Status == ClaimOK
}

// Reason 对外的失败原因，已领取、过期和不存在对外不做区分
func (r *ClaimResult) Reason() string {
	switch r.Status {
	case ClaimOK:
		return ""
	case ClaimPlayerNotFound:
		return ReasonPlayerNotFound
	case ClaimRateLimited:
		return ReasonRateLimited
	default:
		return ReasonClaimedOrExpire
	}
}

// SpawnResult 定时生成结果
type SpawnResult struct {
	Running    bool
	Spawned    int
	Cleaned    int
	RoomStatus string
}

// 管理操作
const (
	ActionStartRound        = "start_round"
	ActionStopRound         = "stop_round"
	ActionStartIntermission = "start_intermission"
	ActionUpdateSpawnRate   = "update_spawn_rate"
	ActionSpawnCookies      = "spawn_cookies"
	ActionClearCookies      = "clear_cookies"
	ActionResetRoundScores  = "reset_round_scores"
	ActionResetAllScores    = "reset_all_scores"
)

// MaxManualSpawn 单次手动生成上限
const MaxManualSpawn = 100

// AdminActionRequest 管理操作请求
type AdminActionRequest struct {
	Action string   `json:"action"`
	Rate   *float64 `json:"rate,omitempty"`
	Count  *int     `json:"count,omitempty"`
}

// AdminActionResult 管理操作结果
type AdminActionResult struct {
	Success bool     `json:"success"`
	Round   *int     `json:"round,omitempty"`
	Rate    *float64 `json:"rate,omitempty"`
	Spawned *int     `json:"spawned,omitempty"`
	Cleared *int     `json:"cleared,omitempty"`
}

// RoomView 房间状态和剩余秒数
type RoomView struct {
	*models.Room
	TimeRemaining int `json:"time_remaining"`
}

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Nick     string `json:"nick"`
	Color    string `json:"color"`
	Score    int    `json:"score"`
}

// RankView 玩家的回合和总榜名次
type RankView struct {
	PlayerID   string `json:"player_id"`
	RoundRank  int    `json:"round_rank"`
	TotalRank  int    `json:"total_rank"`
	ScoreRound int    `json:"score_round"`
	ScoreTotal int    `json:"score_total"`
}

// Clock 当前时间，测试中替换
type Clock func() time.Time
