package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ghibli-go/internal/config"
	"ghibli-go/internal/handlers/apiserver"
	appKafka "ghibli-go/internal/kafka"
	"ghibli-go/internal/logger"
	"ghibli-go/internal/middleware"
	appRedis "ghibli-go/internal/redis"
	"ghibli-go/internal/services"
	"ghibli-go/internal/storage"
	"ghibli-go/web"

	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"
	redisDriver "github.com/redis/go-redis/v9"
)

// recoveryLogger 把 gorilla/handlers 的 panic 日志转给 zap。
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	logger.L().Error(v...)
}

func main() {
	// 0. .env 不存在时使用环境变量和默认值
	_ = godotenv.Load()

	// 1. 加载配置
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()
	log := logger.L()
	log.Infow("配置加载成功", "app", cfg.AppName, "version", cfg.AppVersion)
	if cfg.Download.GeneratedSecret {
		log.Warn("未配置 DOWNLOAD_SECRET_KEY, 使用随机密钥; 重启后下载链接失效")
	}

	// 2. 图床
	imageHost, err := storage.NewImageHost(cfg)
	if err != nil {
		log.Fatalf("无法初始化图床: %v", err)
	}
	log.Infow("图床初始化成功", "type", cfg.ImageHost.Type)

	// 3. 风格化服务
	stylizer, err := services.NewStylizer(cfg.Stylizer, nil)
	if err != nil {
		log.Fatalf("无法初始化风格化客户端: %v", err)
	}

	// 4. (可选) Kafka 转换事件
	var publisher appKafka.EventPublisher = appKafka.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Fatalf("无法创建 Kafka 生产者: %v", err)
		}
		defer producer.Close()
		publisher = appKafka.NewEventPublisher(producer, cfg.Kafka.ConversionTopic)
		log.Infow("Kafka 生产者初始化成功", "topic", cfg.Kafka.ConversionTopic)
	}

	conversionService := services.NewConversionService(imageHost, stylizer, publisher)

	// 5. (可选) Redis 限流
	var rateLimiter middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		redisClient := redisDriver.NewClient(&redisDriver.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("无法连接到 Redis: %v", err)
		}
		rateLimiter = appRedis.NewRedisRateLimiter(redisClient, cfg.RateLimit)
		log.Infow("限流已启用", "requests", cfg.RateLimit.Requests, "window", cfg.RateLimit.Window.String())
	}

	// 6. 路由
	r := apiserver.NewRouter(apiserver.RouterOptions{
		Config:            cfg,
		ConversionService: conversionService,
		RateLimiter:       rateLimiter,
		UI:                web.Handler(),
	})

	// 7. CORS 和 panic 恢复
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.APIServer.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.APIServer.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.APIServer.CORS.AllowedHeaders),
		handlers.ExposedHeaders(cfg.APIServer.CORS.ExposedHeaders),
		handlers.MaxAge(cfg.APIServer.CORS.MaxAge),
	}
	if cfg.APIServer.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	handler := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(handlers.CORS(corsOptions...)(r))

	// 8. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handler,
		ReadTimeout:    cfg.APIServer.ReadTimeout,
		WriteTimeout:   cfg.APIServer.WriteTimeout,
		IdleTimeout:    cfg.APIServer.IdleTimeout,
		MaxHeaderBytes: cfg.APIServer.MaxHeaderBytes,
	}

	go func() {
		log.Infof("API 服务器启动于 %s", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API 服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到关闭信号，正在关闭 API 服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Errorf("API 服务器强制关闭: %v", err)
		return
	}
	log.Info("API 服务器已成功关闭")
}
