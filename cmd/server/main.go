// 司机订单分配引擎服务
// 主程序入口

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paiban/allocator/internal/config"
	"github.com/paiban/allocator/internal/database"
	"github.com/paiban/allocator/internal/handler"
	"github.com/paiban/allocator/internal/intake"
	"github.com/paiban/allocator/internal/metrics"
	"github.com/paiban/allocator/internal/middleware"
	"github.com/paiban/allocator/internal/repository"
	"github.com/paiban/allocator/pkg/classifier"
	"github.com/paiban/allocator/pkg/engine"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/scoring"
	"github.com/paiban/allocator/pkg/validator"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log)

	fmt.Printf("司机订单分配引擎 v%s\n", Version)
	fmt.Printf("Build: %s (%s)\n", BuildTime, GitCommit)
	fmt.Println()

	registry := metrics.GetRegistry()

	c := classifier.New(cfg.Allocator.TierConfig())
	v := validator.New(cfg.Allocator.ValidatorConfig(), c)
	s, err := scoring.NewScorer(cfg.Allocator.Weights)
	if err != nil {
		logger.Fatal().Err(err).Msg("评分权重无效")
	}
	e := engine.New(cfg.Allocator.EngineConfig(), c, v, s,
		engine.WithObserver(metrics.NewRecorder(registry)))

	opts := []handler.Option{
		handler.WithTimeout(cfg.Allocator.RunTimeout),
		handler.WithMaxBody(cfg.API.MaxBody),
	}

	// ========================================
	// 可选组件
	// ========================================

	var db *database.DB
	if cfg.Database.Enabled {
		db, err = database.New(&cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("连接数据库失败")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.EnsureSchema(ctx)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("初始化数据库表结构失败")
		}
		opts = append(opts, handler.WithStore(repository.NewRunRepository(db)))
	}

	if cfg.Redis.Enabled {
		client := intake.NewRedisClient(&cfg.Redis)
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr()).Msg("Redis 暂不可用，方案队列将在请求时重试")
		}
		source := intake.NewRedisSource(client, cfg.Redis.ProposalKey, cfg.Redis.ResultChannel, cfg.Allocator.MaxProposals)
		opts = append(opts, handler.WithQueue(source))
	}

	allocationHandler := handler.NewAllocationHandler(e, v, s, opts...)

	mux := http.NewServeMux()

	// ========================================
	// 系统端点
	// ========================================

	// 健康检查端点
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if db != nil {
			if err := db.Health(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"degraded","service":"allocator","database":"down"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"allocator"}`))
	})

	// 版本信息端点
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":"%s","build_time":"%s","git_commit":"%s"}`, Version, BuildTime, GitCommit)
	})

	// ========================================
	// API v1 端点
	// ========================================

	mux.HandleFunc("/api/v1/", handler.Index)
	allocationHandler.Register(mux)

	// Prometheus 指标端点
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, registry.Handler())
	}

	// ========================================
	// 中间件
	// ========================================

	// 执行顺序：recovery -> requestID -> logging -> headers -> rateLimit -> cors -> auth -> handler
	// 限流与鉴权拒绝的请求同样记录日志与指标
	h := middleware.Chain(mux,
		middleware.Recovery,
		middleware.RequestID,
		middleware.Logging(registry),
		middleware.SecurityHeaders,
		middleware.RateLimit(cfg.API.RateLimit),
		middleware.CORS(cfg.API.CORS),
		middleware.APIKeyAuth(cfg.API.APIKeys, "/health", "/version", cfg.Metrics.Path),
	)

	port := fmt.Sprintf("%d", cfg.App.Port)
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Allocator.RunTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 启动服务器（非阻塞）
	go func() {
		logger.Info().
			Str("port", port).
			Str("version", Version).
			Str("env", cfg.App.Env).
			Bool("database", cfg.Database.Enabled).
			Bool("redis", cfg.Redis.Enabled).
			Str("api_docs", fmt.Sprintf("http://localhost:%s/api/v1/", port)).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Msg("服务器启动失败")
			os.Exit(1)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Msg("服务器关闭失败")
		return
	}

	logger.Info().Msg("服务器已关闭")
}
