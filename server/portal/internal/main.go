package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/asklokesh/FireLater-sub004/pkg/redis"
	"github.com/asklokesh/FireLater-sub004/server/portal/internal/database"
	"github.com/asklokesh/FireLater-sub004/server/portal/internal/routers"
	"github.com/asklokesh/FireLater-sub004/server/portal/internal/service"
)

// @title           FireLater OnCall API
// @version         1.0
// @description     FireLater 值班排班与告警升级 API 文档
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.url    http://www.swagger.io/support
// @contact.email  support@swagger.io

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /fe-v1

// 服务端口与依赖默认值
const (
	serverPort   = ":8080"
	redisDBName  = "oncall"
	redisAddr    = "127.0.0.1:6379"
	sqlitePath   = "firelater.db"
	corsOrigin   = "http://localhost:3000"
	corsCacheAge = 12 * time.Hour
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 初始化数据库连接
	db, err := database.OpenSQLite(sqlitePath)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// 初始化Redis连接，解析缓存与换班锁依赖
	if err := redis.Init(redisDBName, redisAddr, ""); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	redisHandler := redis.NewRedisHandler(redisDBName)
	keyBuilder := redis.NewKeyBuilder(redis.GlobalPrefix, "")

	// 初始化升级引擎并恢复未完成的执行
	resolver := service.NewRotationResolver(db, redisHandler, keyBuilder, logger)
	notifier := service.NewLogNotifier(db, logger)
	engine := service.NewEscalationEngine(db, resolver, notifier, redisHandler, keyBuilder, service.DefaultEngineConfig(), logger)
	if err := engine.Start(); err != nil {
		logger.Fatal("failed to start escalation engine", zap.Error(err))
	}
	defer engine.Stop()

	// 初始化路由处理器
	oncallHandler := routers.NewOnCallHandler(db, redisHandler, logger)
	swapHandler := routers.NewSwapHandler(db, redisHandler, logger)
	escalationHandler := routers.NewEscalationHandler(db, engine, logger)

	// 创建 Gin 引擎
	r := gin.Default()

	// 配置 CORS 中间件
	configureCORS(r)

	// 注册路由
	api := r.Group("/fe-v1")
	api.Use(routers.TenantMiddleware())
	oncallHandler.RegisterRoutes(api)
	swapHandler.RegisterRoutes(api)
	escalationHandler.RegisterRoutes(api)

	// 启动服务器
	go func() {
		logger.Info("Starting server", zap.String("port", serverPort))
		if err := r.Run(serverPort); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	// 等待退出信号，停止引擎定时器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")
}

func configureCORS(r *gin.Engine) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOrigin},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", routers.HeaderTenantID, routers.HeaderUserID},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           corsCacheAge,
	}))
}
