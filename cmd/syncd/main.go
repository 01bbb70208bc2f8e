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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/client/internal/client"
	"tempmail/client/internal/config"
	"tempmail/client/internal/logger"
	"tempmail/client/internal/notify"
	"tempmail/client/internal/optimistic"
)

// main 运行同步核心守护进程：恢复会话、维持推送通道、
// 打印收到的通知。可选启动调试服务暴露指标与健康检查。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting tempmail sync client",
		zap.String("api", cfg.API.BaseURL),
		zap.String("push", cfg.Push.URL),
		zap.String("credential_backend", cfg.Credential.Backend),
	)

	core, err := client.New(cfg, client.Options{
		Logger:   log,
		Registry: prometheus.DefaultRegisterer,
		OnLogout: func() {
			log.Info("session ended, sign in again to resume syncing")
		},
		OnMutationFailure: func(n optimistic.FailureNotice) {
			log.Warn("action failed, tap to retry",
				zap.String("action", n.Label),
				zap.String("message", n.Message))
		},
	})
	if err != nil {
		log.Fatal("failed to assemble sync core", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core.Init()
	defer core.Dispose()

	// 支持通过环境变量直接登录（无存储凭证的首次运行）
	if !core.Session.IsAuthenticated() {
		email := os.Getenv("TEMPMAIL_CLIENT_EMAIL")
		password := os.Getenv("TEMPMAIL_CLIENT_PASSWORD")
		if email != "" && password != "" {
			if err := core.Session.Login(ctx, email, password); err != nil {
				log.Error("login failed", zap.Error(err))
			}
		} else {
			log.Warn("no stored credential and no login provided, running unauthenticated")
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	// 通知消费循环
	group.Go(func() error {
		notifications, cancel := core.Notifications.Subscribe()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return nil
			case n, ok := <-notifications:
				if !ok {
					return nil
				}
				logNotification(log, n)
			}
		}
	})

	// 调试服务：/metrics 与 /healthz
	if cfg.Debug.Addr != "" {
		group.Go(func() error {
			return runDebugServer(ctx, cfg.Debug.Addr, core, log)
		})
	}

	if err := group.Wait(); err != nil {
		log.Error("sync client exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("sync client stopped")
}

// logNotification 打印一条收到的通知
func logNotification(log *zap.Logger, n notify.Notification) {
	switch n.Type {
	case notify.TypeNewEmail:
		log.Info("new email",
			zap.String("messageId", n.MessageID),
			zap.String("from", n.From),
			zap.String("subject", n.Subject),
			zap.String("folder", n.Folder))
	default:
		log.Info("mailbox updated",
			zap.String("type", string(n.Type)),
			zap.String("messageId", n.MessageID))
	}
}

// runDebugServer 运行调试 HTTP 服务直到上下文取消
func runDebugServer(ctx context.Context, addr string, core *client.Core, log *zap.Logger) error {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"authenticated": core.Session.IsAuthenticated(),
			"push":          core.Push.State().String(),
		})
	})

	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("debug server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
