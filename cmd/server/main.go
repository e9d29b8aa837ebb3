package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/cookie-catcher/internal/api"
	"github.com/wfunc/cookie-catcher/internal/config"
	"github.com/wfunc/cookie-catcher/internal/database"
	apperrors "github.com/wfunc/cookie-catcher/internal/errors"
	"github.com/wfunc/cookie-catcher/internal/logger"
	"github.com/wfunc/cookie-catcher/internal/realtime"
	"github.com/wfunc/cookie-catcher/internal/service"
	"github.com/wfunc/cookie-catcher/internal/spawner"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	hub        *realtime.Hub
	bridge     *realtime.RedisBridge
	services   *service.Services
	spawner    *spawner.Spawner
	httpServer *http.Server

	shutdownCh chan struct{}
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	printStartInfo(cfg)

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		logger.Fatal("服务器启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务器已安全关闭")
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		logger:     logger.GetLogger(),
		shutdownCh: make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("正在启动饼干游戏服务器...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
	)

	if err := s.initComponents(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "初始化组件失败")
	}
	if err := s.startServices(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrUnknown, "启动服务失败")
	}

	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.logger.Info("服务器启动成功",
		zap.String("http", s.httpServer.Addr),
		zap.String("websocket", s.cfg.WebSocket.Path),
		zap.String("room", s.cfg.Game.RoomID),
	)
	return nil
}

// initComponents 初始化组件
func (s *Server) initComponents() error {
	s.logger.Info("初始化组件...")

	if err := s.initDatabase(); err != nil {
		return err
	}
	if err := s.initRealtime(); err != nil {
		return err
	}

	services, err := service.NewServices(database.GetDB(), service.ConfigFrom(s.cfg), s.hub, s.logger.Named("service"))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrConfigLoad, "创建服务失败")
	}
	s.services = services

	if s.cfg.Game.Spawner.Enabled {
		s.spawner = spawner.New(services.Spawn, s.cfg.Game.Spawner, logger.WithModule("spawner"))
	}

	if s.cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(database.GetDB(), s.cfg, services, s.hub, logger.WithModule("api"))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("所有组件初始化完成")
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	s.logger.Info("初始化数据库...")

	if err := database.Init(&s.cfg.Database); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(&s.cfg.Game); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	if !database.IsConnected() {
		return apperrors.New(apperrors.ErrDatabaseConnect, "数据库连接检查失败")
	}

	s.logger.Info("数据库初始化完成")
	return nil
}

// initRealtime 创建 Hub，开启 Redis 时跨实例转发
func (s *Server) initRealtime() error {
	var opts []realtime.Option
	if s.cfg.Realtime.Redis.Enabled {
		bridge, err := realtime.NewRedisBridge(s.ctx, &s.cfg.Realtime.Redis, logger.WithModule("bridge"))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrWebSocketConnect, "连接实时桥接失败")
		}
		s.bridge = bridge
		opts = append(opts, realtime.WithBridge(bridge))
	}
	s.hub = realtime.NewHub(s.cfg.WebSocket, logger.WithModule("realtime"), opts...)
	return nil
}

// startServices 启动服务
func (s *Server) startServices() error {
	s.logger.Info("启动服务...")

	go s.hub.Run(s.ctx)

	if s.spawner != nil {
		if err := s.spawner.Start(); err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("HTTP服务监听", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("所有服务启动完成")
	return nil
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)

	sig := <-sigCh
	s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	close(s.shutdownCh)
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先停定时生成，避免关闭过程中继续写库
	if s.spawner != nil {
		if err := s.spawner.Stop(shutdownCtx); err != nil {
			s.logger.Warn("停止定时生成超时", zap.Error(err))
		}
	}

	s.logger.Info("停止接收新请求...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP服务关闭失败", zap.Error(err))
	}

	// 断开所有 WebSocket 连接
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-s.hub.Done()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("所有服务已正常关闭")
	case <-shutdownCtx.Done():
		s.logger.Warn("关闭超时，强制退出")
		return apperrors.New(apperrors.ErrTimeout, "关闭超时")
	}

	if err := s.closeComponents(); err != nil {
		s.logger.Error("关闭组件失败", zap.Error(err))
		return err
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return nil
}

// closeComponents 关闭组件
func (s *Server) closeComponents() error {
	s.logger.Info("关闭组件...")

	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			s.logger.Error("关闭实时桥接失败", zap.Error(err))
		}
	}
	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}

	s.logger.Info("所有组件已关闭")
	return nil
}

// reloadConfig 只有日志级别支持热更新，其余配置需要重启
func (s *Server) reloadConfig(newCfg *config.Config) {
	if newCfg.Log.Level != s.cfg.Log.Level {
		logger.SetLevel(newCfg.Log.Level)
		s.logger.Info("日志级别已更新", zap.String("level", newCfg.Log.Level))
	}
	s.cfg.Log = newCfg.Log
	s.logger.Info("配置重新加载完成")
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("饼干游戏服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("饼干游戏服务器")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  cookie-catcher-server [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  COOKIE_SERVER_PORT               HTTP端口")
	fmt.Println("  COOKIE_DATABASE_DSN              数据库连接串")
	fmt.Println("  COOKIE_REALTIME_REDIS_ENABLED    开启多实例广播")
	fmt.Println("  ADMIN_PASSWORD                   管理员口令")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  cookie-catcher-server -config=/path/to/config.yaml")
	fmt.Println("  cookie-catcher-server -version")
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                    Cookie Catcher 饼干游戏服务器")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Printf("房间: %s | 数据库: %s\n", cfg.Game.RoomID, cfg.Database.Driver)
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
