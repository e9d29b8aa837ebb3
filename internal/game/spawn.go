package game

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/cookie-catcher/internal/models"
)

// SpawnParams 单批饼干的生成参数
type SpawnParams struct {
	RoomID           string
	Count            int
	TTL              time.Duration
	BonusProbability float64
	BonusValue       int
	BaseValue        int
}

// MaxSpawnRate 每秒生成数量上限
const MaxSpawnRate = 50

// SpawnCount 每次生成数量 max(1, round(rate))，0.5 向上取整，不超过 MaxSpawnRate
func SpawnCount(rate float64) int {
	if rate >= MaxSpawnRate {
		return MaxSpawnRate
	}
	n := int(math.Floor(rate + 0.5))
	if n < 1 {
		return 1
	}
	return n
}

// GenerateCookies 生成一批从顶部掉落的饼干，x 落在 [5,95)
func GenerateCookies(r Rand, now time.Time, p SpawnParams) []models.Cookie {
	now = now.UTC()
	despawn := now.Add(p.TTL)
	cookies := make([]models.Cookie, 0, p.Count)
	for i := 0; i < p.Count; i++ {
		c := models.Cookie{
			ID:        uuid.New().String(),
			RoomID:    p.RoomID,
			Type:      models.CookieTypeCookie,
			Value:     p.BaseValue,
			SpawnedAt: now,
			DespawnAt: despawn,
		}
		if r.Float64() < p.BonusProbability {
			c.Type = models.CookieTypeCat
			c.Value = p.BonusValue
		}
		c.XPct = r.Float64()*90 + 5
		cookies = append(cookies, c)
	}
	return cookies
}
