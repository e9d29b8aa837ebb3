package game

import (
	"sort"
	"time"

	"github.com/wfunc/cookie-catcher/internal/models"
)

// Board 排行榜类型
type Board string

const (
	BoardRound Board = "round"
	BoardTotal Board = "total"
)

// ParseBoard 解析排行榜类型，未知值按总榜处理
func ParseBoard(s string) Board {
	if s == string(BoardRound) {
		return BoardRound
	}
	return BoardTotal
}

func scoreOf(s *models.Score, b Board) int {
	if b == BoardRound {
		return s.ScoreRound
	}
	return s.ScoreTotal
}

func nickOf(s *models.Score) string {
	if s.Player == nil {
		return ""
	}
	return s.Player.Nick
}

// sortScores 分数降序，同分按昵称升序
func sortScores(scores []models.Score, b Board) []models.Score {
	out := make([]models.Score, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := scoreOf(&out[i], b), scoreOf(&out[j], b)
		if si != sj {
			return si > sj
		}
		return nickOf(&out[i]) < nickOf(&out[j])
	})
	return out
}

// Leaderboard 过滤0分后排序取前 limit 名
func Leaderboard(scores []models.Score, b Board, limit int) []models.Score {
	filtered := make([]models.Score, 0, len(scores))
	for _, s := range scores {
		if scoreOf(&s, b) > 0 {
			filtered = append(filtered, s)
		}
	}
	sorted := sortScores(filtered, b)
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// Rank 玩家在全部积分中的名次（从1开始），不存在时返回0
func Rank(scores []models.Score, playerID string, b Board) int {
	for i, s := range sortScores(scores, b) {
		if s.PlayerID == playerID {
			return i + 1
		}
	}
	return 0
}

// ActiveCookies 未被领取且未过期的饼干
func ActiveCookies(cookies []models.Cookie, now time.Time) []models.Cookie {
	out := make([]models.Cookie, 0, len(cookies))
	for i := range cookies {
		if cookies[i].IsActive(now) {
			out = append(out, cookies[i])
		}
	}
	return out
}
