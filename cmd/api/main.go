package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aegis-sec/aegis/internal/api/routes"
	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/database"
	"github.com/aegis-sec/aegis/internal/geo"
	"github.com/aegis-sec/aegis/internal/logger"
	"github.com/aegis-sec/aegis/internal/server"
	"github.com/aegis-sec/aegis/internal/services"
	"github.com/aegis-sec/aegis/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	// Log to stdout and a rotated file.
	logDir := filepath.Join(filepath.Dir(cfg.DatabasePath), "logs")
	_ = os.MkdirAll(logDir, 0o755)
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "aegis.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	logger.Init(cfg.Environment == "development", io.MultiWriter(os.Stdout, rotator))

	logger.Log().Infof("starting %s %s", version.Name, version.Full())

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Log().WithError(err).Fatal("open database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Log().WithError(err).Fatal("migrate database")
	}

	var store cache.Cache
	if cfg.RedisAddr != "" {
		redis, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Log().WithError(err).Fatal("connect redis")
		}
		store = redis
	} else {
		logger.Log().Warn("no redis configured, using in-process cache")
		store = cache.NewMemory()
	}

	var resolver geo.Resolver = &geo.Static{}
	if cfg.GeoIPDBPath != "" {
		mm, err := geo.OpenMaxMind(cfg.GeoIPDBPath)
		if err != nil {
			logger.Log().WithError(err).Fatal("open geoip database")
		}
		defer mm.Close()
		resolver = mm
	} else {
		logger.Log().Warn("no geoip database configured, geo features degraded")
	}

	events := services.NewEventService(db)
	notifications := services.NewNotificationService(db)
	reputation := services.NewReputationService(db, store, events, notifications, resolver, cfg.Security)
	ratelimit := services.NewRateLimitService(db, store, events, reputation, nil, cfg.Security)
	sessions := services.NewSessionService(db, store, events, notifications, resolver, cfg.Security)

	maintenance := services.NewMaintenanceService(db, sessions, cfg.Security)
	if err := maintenance.Start(); err != nil {
		logger.Log().WithError(err).Fatal("start maintenance jobs")
	}
	defer maintenance.Stop()

	srv := server.New(routes.Deps{
		DB:            db,
		Config:        cfg,
		Events:        events,
		Notifications: notifications,
		Reputation:    reputation,
		RateLimit:     ratelimit,
		Sessions:      sessions,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log().Infof("listening on :%s", cfg.HTTPPort)
	if err := srv.Run(ctx); err != nil {
		logger.Log().WithError(err).Fatal("server error")
	}
}
