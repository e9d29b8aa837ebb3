package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/cookie-catcher/internal/middleware"
	"github.com/wfunc/cookie-catcher/internal/service"
	"go.uber.org/zap"
)

// AdminHandler 管理接口
type AdminHandler struct {
	admin service.AdminService
	log   *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(admin service.AdminService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, log: log}
}

// AdminAuthRequest 管理员登录请求
type AdminAuthRequest struct {
	Password string `json:"password"`
}

// Authenticate 校验管理员口令并签发令牌
func (h *AdminHandler) Authenticate(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"authenticated": false, "error": "Method not allowed"})
		return
	}

	var req AdminAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"authenticated": false, "error": "Invalid request body"})
		return
	}

	token, err := h.admin.Authenticate(c.Request.Context(), req.Password)
	if err != nil {
		status, msg := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("管理员登录失败", zap.Error(err))
		} else {
			h.log.Warn("管理员登录被拒绝", zap.String("ip", c.ClientIP()), zap.String("reason", msg))
		}
		c.JSON(status, gin.H{"authenticated": false, "error": msg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"authenticated": true, "token": token})
}

// Execute 执行管理操作，需要管理员令牌
func (h *AdminHandler) Execute(c *gin.Context) {
	var req service.AdminActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	res, err := h.admin.Execute(c.Request.Context(), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	sid, _ := middleware.GetSessionID(c)
	h.log.Info("管理操作", zap.String("action", req.Action), zap.String("session", sid))
	c.JSON(http.StatusOK, res)
}
