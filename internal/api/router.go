package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/wfunc/cookie-catcher/internal/config"
	"github.com/wfunc/cookie-catcher/internal/middleware"
	"github.com/wfunc/cookie-catcher/internal/realtime"
	"github.com/wfunc/cookie-catcher/internal/service"
	"github.com/wfunc/cookie-catcher/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine   *gin.Engine
	db       *gorm.DB
	cfg      *config.Config
	services *service.Services
	hub      *realtime.Hub
	log      *zap.Logger

	game  *GameHandler
	admin *AdminHandler
	query *QueryHandler
	auth  *middleware.AuthMiddleware
}

// NewRouter 创建路由器，hub 为空时不挂载 WebSocket
func NewRouter(db *gorm.DB, cfg *config.Config, services *service.Services, hub *realtime.Hub, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(cors.New(corsConfig(&cfg.CORS)))

	r := &Router{
		engine:   engine,
		db:       db,
		cfg:      cfg,
		services: services,
		hub:      hub,
		log:      log,
		game:     NewGameHandler(services.Claim, services.Player, services.Spawn, log.Named("game")),
		admin:    NewAdminHandler(services.Admin, log.Named("admin")),
		query:    NewQueryHandler(services.Query, cfg.Server.PublicURL),
		auth:     middleware.NewAuthMiddleware(services.Admin),
	}
	r.setupRoutes()
	return r
}

// corsConfig 配置中包含 * 时允许所有来源
func corsConfig(c *config.CORSConfig) cors.Config {
	cc := cors.Config{
		AllowMethods: c.AllowMethods,
		AllowHeaders: c.AllowHeaders,
		MaxAge:       12 * time.Hour,
	}
	for _, o := range c.AllowOrigins {
		if o == "*" {
			cc.AllowAllOrigins = true
			return cc
		}
	}
	cc.AllowOrigins = c.AllowOrigins
	if len(cc.AllowOrigins) == 0 {
		cc.AllowAllOrigins = true
	}
	return cc
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	// 与边缘函数同名的接口
	fn := r.engine.Group("/functions/v1")
	{
		fn.POST("/assign_nickname", r.game.AssignNickname)
		fn.POST("/claim_cookie", r.game.ClaimCookie)
		fn.POST("/spawn_cookies", r.game.SpawnCookies)
		fn.Any("/admin-auth", r.admin.Authenticate)
		fn.POST("/admin_actions", r.auth.RequireRole(utils.RoleAdmin), r.admin.Execute)
	}

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/room", r.query.Room)
		v1.GET("/cookies/active", r.query.ActiveCookies)
		v1.GET("/leaderboard", r.query.Leaderboard)
		v1.GET("/scores", r.query.Scores)
		v1.GET("/players/count", r.query.PlayerCount)
		v1.GET("/players/:id/rank", r.query.PlayerRank)
	}

	r.engine.GET("/join/qr.png", r.query.JoinQR)

	if r.hub != nil {
		path := r.cfg.WebSocket.Path
		if path == "" {
			path = "/realtime/v1/websocket"
		}
		r.engine.GET(path, r.hub.HandleWebSocket)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	sqlDB, err := r.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		r.log.Error("数据库不可用", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":   "unhealthy",
			"database": "disconnected",
		})
		return
	}

	body := gin.H{
		"status":   "healthy",
		"database": "connected",
		"time":     time.Now().UTC().Format(time.RFC3339),
	}
	if r.hub != nil {
		body["online"] = r.hub.OnlineCount()
	}
	c.JSON(http.StatusOK, body)
}

// GetEngine 获取Gin引擎
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
