package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"valinemail/internal/db"
	"valinemail/internal/handlers"
	"valinemail/internal/router"
	"valinemail/internal/services"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, the notify queue and the periodic sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log.Sugar()
	cfg := a.cfg

	// 评论保存后进入队列异步发送通知
	queue := services.NewNotifyQueue(a.notifier, cfg.Queue, log)
	if err := db.RegisterCommentHook(a.db, func(id string) { queue.Enqueue(id) }); err != nil {
		return err
	}
	queue.Start()

	// 启动后补发遗留的通知，直到清空为止
	drainer := services.NewDrainer(a.sweeper.SweepUnnotified, cfg.Sweep.Interval, cfg.Sweep.InitialDelay, log)
	drainer.Start(ctx)

	scheduler := services.NewScheduler(log)
	if err := scheduler.AddFunc(cfg.Sweep.Cron, "sweep", func(context.Context) {
		if !drainer.Trigger(ctx) {
			log.Debug("Drain already running, skipping scheduled sweep")
		}
	}); err != nil {
		return err
	}
	if cfg.SelfWakeURL != "" {
		wake := services.SelfWake(&http.Client{Timeout: 30 * time.Second}, cfg.SelfWakeURL, log)
		if err := scheduler.AddFunc(cfg.SelfWakeCron, "self-wake", wake); err != nil {
			return err
		}
	}
	scheduler.Start()

	engine := router.New(a.log, cfg.LogDev, router.Handlers{
		Mail:    handlers.NewMailHandler(a.sweeper, a.dispatcher, log),
		Comment: handlers.NewCommentHandler(a.repo, log),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP server shutdown", "error", err)
	}
	scheduler.Stop(shutdownCtx)
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Warnw("Notify queue shutdown", "error", err)
	}
	return nil
}
