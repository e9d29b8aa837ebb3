package service

import (
	"context"
	"errors"

	apperrors "github.com/wfunc/cookie-catcher/internal/errors"
	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/models"
	"github.com/wfunc/cookie-catcher/internal/repository"
)

// queryService 只读查询服务实现
type queryService struct {
	repos *repository.Manager
	cfg   *Config
}

// NewQueryService 创建查询服务
func NewQueryService(repos *repository.Manager, cfg *Config) QueryService {
	return &queryService{repos: repos, cfg: cfg}
}

// Room 当前房间
func (s *queryService) Room(ctx context.Context) (*RoomView, error) {
	room, err := s.repos.Room().Get(ctx, s.cfg.Game.RoomID)
	if errors.Is(err, repository.ErrRoomNotFound) {
		return nil, apperrors.New(apperrors.ErrNotFound, s.cfg.Game.RoomID).WithPublic("Room not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return &RoomView{Room: room, TimeRemaining: room.TimeRemaining(s.cfg.Now())}, nil
}

// ActiveCookies 可领取的饼干
func (s *queryService) ActiveCookies(ctx context.Context) ([]models.Cookie, error) {
	cookies, err := s.repos.Cookie().ListActive(ctx, s.cfg.Game.RoomID, s.cfg.Now())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return cookies, nil
}

// Leaderboard 回合榜或总榜
func (s *queryService) Leaderboard(ctx context.Context, board game.Board) ([]LeaderboardEntry, error) {
	column := "score_total"
	if board == game.BoardRound {
		column = "score_round"
	}
	scores, err := s.repos.Score().Leaderboard(ctx, s.cfg.Game.RoomID, column, s.cfg.Game.LeaderboardSize)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return ToEntries(scores, board), nil
}

// Scores 房间内全部积分，带玩家昵称和颜色
func (s *queryService) Scores(ctx context.Context) ([]models.Score, error) {
	scores, err := s.repos.Score().ListWithPlayers(ctx, s.cfg.Game.RoomID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return scores, nil
}

// PlayerCount 最近活跃的玩家数
func (s *queryService) PlayerCount(ctx context.Context) (int64, error) {
	since := s.cfg.Now().Add(-s.cfg.Game.ActivePlayerWindow)
	n, err := s.repos.Player().CountActiveSince(ctx, s.cfg.Game.RoomID, since)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return n, nil
}

// PlayerRank 玩家在全部积分中的名次
func (s *queryService) PlayerRank(ctx context.Context, playerID string) (*RankView, error) {
	scores, err := s.repos.Score().ListWithPlayers(ctx, s.cfg.Game.RoomID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	view := &RankView{
		PlayerID:  playerID,
		RoundRank: game.Rank(scores, playerID, game.BoardRound),
		TotalRank: game.Rank(scores, playerID, game.BoardTotal),
	}
	if view.TotalRank == 0 {
		return nil, apperrors.New(apperrors.ErrNotFound, playerID).WithPublic("Player not found")
	}
	for _, sc := range scores {
		if sc.PlayerID == playerID {
			view.ScoreRound = sc.ScoreRound
			view.ScoreTotal = sc.ScoreTotal
			break
		}
	}
	return view, nil
}

// ToEntries 已排序的积分转为排行榜条目
func ToEntries(scores []models.Score, board game.Board) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(scores))
	for i, sc := range scores {
		e := LeaderboardEntry{Rank: i + 1, PlayerID: sc.PlayerID, Score: sc.ScoreTotal}
		if board == game.BoardRound {
			e.Score = sc.ScoreRound
		}
		if sc.Player != nil {
			e.Nick = sc.Player.Nick
			e.Color = sc.Player.Color
		}
		entries = append(entries, e)
	}
	return entries
}
