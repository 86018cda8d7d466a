package main

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"valinemail/internal/config"
	"valinemail/internal/db"
	"valinemail/internal/logger"
	"valinemail/internal/services"
)

// app holds the components shared by serve and resend.
type app struct {
	cfg        config.Config
	log        *zap.Logger
	db         *gorm.DB
	repo       *db.CommentRepository
	dispatcher *services.Dispatcher
	notifier   *services.Notifier
	sweeper    *services.Sweeper
}

func newApp() (*app, error) {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogDev)
	sugar := log.Sugar()
	for _, w := range cfg.Warnings {
		sugar.Warnw("Config", "detail", w)
	}

	conn, err := db.Open(cfg.DatabaseURL, sugar)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	repo := db.NewCommentRepository(conn)

	templates, err := services.LoadTemplates(cfg.Site.TemplateDir, cfg.Site.TemplateName, sugar)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	dispatcher := services.NewDispatcher(services.DispatcherDeps{
		Sender:    services.NewMailService(cfg.SMTP, sugar),
		Templates: templates,
		// 同一篇文章下的回复经常指向同一条父评论
		Parents: db.NewCachedFinder(repo, 256, time.Minute),
		SMTP:    cfg.SMTP,
		Site:    cfg.Site,
		Logger:  sugar,
	})
	notifier := services.NewNotifier(dispatcher, repo, sugar)

	return &app{
		cfg:        cfg,
		log:        log,
		db:         conn,
		repo:       repo,
		dispatcher: dispatcher,
		notifier:   notifier,
		sweeper:    services.NewSweeper(repo, notifier, cfg.Sweep, sugar),
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.log.Sync()
}
