package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Moises833/StudyHub/internal/api"
	"github.com/Moises833/StudyHub/internal/config"
	"github.com/Moises833/StudyHub/internal/pkg/logger"
	"github.com/Moises833/StudyHub/internal/pkg/metrics"
	"github.com/Moises833/StudyHub/internal/store"
	"github.com/Moises833/StudyHub/internal/tabguard"

	"github.com/redis/go-redis/v9"
)

// main 是 API 服务的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志与指标
// 3. 获取单实例锁（检测到活跃实例则拒绝启动）
// 4. 初始化并启动 API 服务器
func main() {
	forceTakeover := flag.Bool("force-takeover", false, "接管已有实例持有的锁后启动")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	kv, err := store.NewRedisKV(rdb)
	if err != nil {
		appLogger.Error("init kv store failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	guard := tabguard.New(kv, appLogger, cfg.App.LockHeartbeat, cfg.App.LockStale)
	duplicate, err := guard.Acquire(ctx)
	if err != nil {
		appLogger.Error("acquire instance lock failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if duplicate {
		if !*forceTakeover {
			appLogger.Error("another instance is already running, use --force-takeover to take over the lock")
			os.Exit(1)
		}
		if err := guard.ForceTakeover(ctx); err != nil {
			appLogger.Error("force takeover failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		appLogger.Warn("took over the instance lock", slog.String("instance_id", guard.InstanceID()))
	}

	srv, err := api.NewServer(ctx, cfg, appLogger, guard)
	if err != nil {
		appLogger.Error("init server failed", slog.String("error", err.Error()))
		guard.Release(context.Background())
		os.Exit(1)
	}
	if cfg.App.SeedDemoData {
		if err := srv.SeedDemoData(ctx); err != nil {
			appLogger.Error("seed demo data failed", slog.String("error", err.Error()))
			guard.Release(context.Background())
			os.Exit(1)
		}
	}

	srv.StartScheduler(ctx)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: srv.Router(),
	}

	go func() {
		appLogger.Info("api server listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down api server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	guard.Release(shutdownCtx)
	if err := srv.Close(); err != nil {
		appLogger.Error("close resources failed", slog.String("error", err.Error()))
	}
}
