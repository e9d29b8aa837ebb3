package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"github.com/wfunc/cookie-catcher/internal/game"
	"github.com/wfunc/cookie-catcher/internal/models"
	"github.com/wfunc/cookie-catcher/internal/service"
)

// QueryHandler 只读查询
type QueryHandler struct {
	query     service.QueryService
	publicURL string
}

// NewQueryHandler 创建查询处理器
func NewQueryHandler(query service.QueryService, publicURL string) *QueryHandler {
	return &QueryHandler{query: query, publicURL: publicURL}
}

// Room 房间状态和回合剩余秒数
func (h *QueryHandler) Room(c *gin.Context) {
	room, err := h.query.Room(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// ActiveCookies 可领取的饼干
func (h *QueryHandler) ActiveCookies(c *gin.Context) {
	cookies, err := h.query.ActiveCookies(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if cookies == nil {
		cookies = []models.Cookie{}
	}
	c.JSON(http.StatusOK, cookies)
}

// Leaderboard ?type=round|total，默认总榜
func (h *QueryHandler) Leaderboard(c *gin.Context) {
	board := game.ParseBoard(c.Query("type"))
	entries, err := h.query.Leaderboard(c.Request.Context(), board)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": board, "entries": entries})
}

// Scores 全部积分，客户端初始化快照使用
func (h *QueryHandler) Scores(c *gin.Context) {
	scores, err := h.query.Scores(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if scores == nil {
		scores = []models.Score{}
	}
	c.JSON(http.StatusOK, scores)
}

// PlayerCount 最近一分钟内活跃的玩家数
func (h *QueryHandler) PlayerCount(c *gin.Context) {
	n, err := h.query.PlayerCount(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// PlayerRank 玩家的回合名次和总名次
func (h *QueryHandler) PlayerRank(c *gin.Context) {
	rank, err := h.query.PlayerRank(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rank)
}

// JoinQR 加入游戏的二维码
func (h *QueryHandler) JoinQR(c *gin.Context) {
	if h.publicURL == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Public URL not configured"})
		return
	}
	png, err := qrcode.Encode(h.publicURL, qrcode.Medium, 320)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, "image/png", png)
}
