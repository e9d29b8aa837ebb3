package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/cookie-catcher/internal/service"
	"go.uber.org/zap"
)

// GameHandler 玩家侧接口：领昵称、领饼干、生成饼干
type GameHandler struct {
	claim  service.ClaimService
	player service.PlayerService
	spawn  service.SpawnService
	log    *zap.Logger
}

// NewGameHandler 创建玩家侧处理器
func NewGameHandler(claim service.ClaimService, player service.PlayerService, spawn service.SpawnService, log *zap.Logger) *GameHandler {
	return &GameHandler{claim: claim, player: player, spawn: spawn, log: log}
}

// AssignNicknameRequest 领取昵称请求
type AssignNicknameRequest struct {
	DeviceID string `json:"deviceId"`
}

// ClaimCookieRequest 领取饼干请求
type ClaimCookieRequest struct {
	CookieID string `json:"cookieId"`
	DeviceID string `json:"deviceId"`
}

// ClaimCookieResponse 领取结果
type ClaimCookieResponse struct {
	OK        bool       `json:"ok"`
	Value     int        `json:"value,omitempty"`
	NewTotals *NewTotals `json:"newTotals,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// NewTotals 领取后的积分
type NewTotals struct {
	ScoreRound int `json:"score_round"`
	ScoreTotal int `json:"score_total"`
}

// AssignNickname 按设备分配昵称，同一设备重复调用返回同一玩家
func (h *GameHandler) AssignNickname(c *gin.Context) {
	var req AssignNicknameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	player, err := h.player.AssignNickname(c.Request.Context(), req.DeviceID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, player)
}

// ClaimCookie 领取饼干。竞争失败仍返回 200，仅请求错误和内部错误使用错误状态码
func (h *GameHandler) ClaimCookie(c *gin.Context) {
	var req ClaimCookieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ClaimCookieResponse{Reason: "Invalid request body"})
		return
	}

	res, err := h.claim.Claim(c.Request.Context(), req.CookieID, req.DeviceID)
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("领取失败", zap.String("cookie_id", req.CookieID), zap.Error(err))
			status = http.StatusInternalServerError
		}
		c.JSON(status, ClaimCookieResponse{Reason: msg})
		return
	}

	if !res.OK() {
		c.JSON(http.StatusOK, ClaimCookieResponse{Reason: res.Reason()})
		return
	}

	resp := ClaimCookieResponse{OK: true, Value: res.Value}
	if res.Score != nil {
		resp.NewTotals = &NewTotals{ScoreRound: res.Score.ScoreRound, ScoreTotal: res.Score.ScoreTotal}
	}
	c.JSON(http.StatusOK, resp)
}

// SpawnCookies 定时任务触发的生成，房间不在回合中时什么都不做
func (h *GameHandler) SpawnCookies(c *gin.Context) {
	res, err := h.spawn.SpawnTick(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !res.Running {
		c.JSON(http.StatusOK, gin.H{"message": "Game not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"spawned":     res.Spawned,
		"room_status": res.RoomStatus,
	})
}
