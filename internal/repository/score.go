package repository

import (
	"context"
	"time"

	"github.com/wfunc/cookie-catcher/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScoreRepository 积分仓储接口
type ScoreRepository interface {
	BaseRepository
	FindByPlayer(ctx context.Context, playerID string) (*models.Score, error)
	ApplyClaim(ctx context.Context, playerID, roomID string, value int, at time.Time) (*models.Score, error)
	ResetRound(ctx context.Context, roomID string) (int64, error)
	ResetAll(ctx context.Context, roomID string) (int64, error)
	ListWithPlayers(ctx context.Context, roomID string) ([]models.Score, error)
	Leaderboard(ctx context.Context, roomID string, column string, limit int) ([]models.Score, error)
}

// scoreRepo 积分仓储实现
type scoreRepo struct {
	*BaseRepo
}

// NewScoreRepository 创建积分仓储
func NewScoreRepository(db *gorm.DB) ScoreRepository {
	return &scoreRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// FindByPlayer 查询玩家积分，带上玩家昵称和颜色
func (r *scoreRepo) FindByPlayer(ctx context.Context, playerID string) (*models.Score, error) {
	var score models.Score
	err := r.db.WithContext(ctx).
		Preload("Player").
		Where("player_id = ?", playerID).
		First(&score).Error
	if err != nil {
		return nil, notFound(err, ErrScoreNotFound)
	}
	return &score, nil
}

// ApplyClaim 原子累加积分，行不存在时插入。
// 累加在数据库内完成，并发领取不会丢失更新。
func (r *scoreRepo) ApplyClaim(ctx context.Context, playerID, roomID string, value int, at time.Time) (*models.Score, error) {
	score := &models.Score{
		PlayerID:    playerID,
		RoomID:      roomID,
		ScoreTotal:  value,
		ScoreRound:  value,
		LastClaimAt: &at,
		UpdatedAt:   at,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "player_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"score_total":   gorm.Expr("scores.score_total + ?", value),
			"score_round":   gorm.Expr("scores.score_round + ?", value),
			"last_claim_at": at,
			"updated_at":    at,
		}),
	}).Create(score).Error
	if err != nil {
		return nil, err
	}
	return r.FindByPlayer(ctx, playerID)
}

// ResetRound 清零房间内的回合积分
func (r *scoreRepo) ResetRound(ctx context.Context, roomID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Score{}).
		Where("room_id = ?", roomID).
		Update("score_round", 0)
	return result.RowsAffected, result.Error
}

// ResetAll 清零回合积分、总积分和最近领取时间
func (r *scoreRepo) ResetAll(ctx context.Context, roomID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Score{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{
			"score_round":   0,
			"score_total":   0,
			"last_claim_at": nil,
		})
	return result.RowsAffected, result.Error
}

// ListWithPlayers 房间内全部积分
func (r *scoreRepo) ListWithPlayers(ctx context.Context, roomID string) ([]models.Score, error) {
	var scores []models.Score
	err := r.db.WithContext(ctx).
		Preload("Player").
		Where("room_id = ?", roomID).
		Find(&scores).Error
	return scores, err
}

// Leaderboard 按 column 排序取前 limit 名，0分不上榜，同分按昵称升序
func (r *scoreRepo) Leaderboard(ctx context.Context, roomID string, column string, limit int) ([]models.Score, error) {
	if column != "score_round" {
		column = "score_total"
	}
	var scores []models.Score
	err := r.db.WithContext(ctx).
		Preload("Player").
		Joins("JOIN players ON players.id = scores.player_id").
		Where("scores.room_id = ? AND scores."+column+" > 0", roomID).
		Order("scores." + column + " DESC").
		Order("players.nick ASC").
		Limit(limit).
		Find(&scores).Error
	return scores, err
}
