package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gateway "github.com/adonese/bloog/apigateway"
	"github.com/adonese/bloog/blog"
	"github.com/adonese/bloog/cache"
	"github.com/adonese/bloog/models"
	"github.com/adonese/bloog/notify"
	"github.com/adonese/bloog/store"
	"github.com/adonese/bloog/upgrade"
	"github.com/adonese/bloog/view"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// loadConfig reads config.yaml, merges secrets.yaml over it and returns the
// `bloog` section as JSON. Without any config file the defaults are used.
func loadConfig(path, secrets string) ([]byte, error) {
	if path == "" {
		path = firstExistingPath("./config.yaml", "../config.yaml", defaultConfigPath)
		if path == "" {
			logrusLogger.Warn("no config.yaml found, running with defaults")
			return []byte("{}"), nil
		}
	}

	configData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	configMap := map[string]interface{}{}
	if err := yaml.Unmarshal(configData, &configMap); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	if secrets == "" {
		secrets = firstExistingPath(filepath.Join(filepath.Dir(path), "secrets.yaml"))
	}
	secretsMap := map[string]interface{}{}
	if secrets != "" {
		secretsMap, err = readSecrets(secrets)
		if err != nil {
			return nil, err
		}
		logrusLogger.WithField("path", secrets).Info("loaded secrets")
	}

	merged, ok := mergeConfig(configMap, secretsMap).(map[string]interface{})
	if !ok {
		return nil, errors.New("merged config is not a map")
	}
	section := getMap(merged, "bloog")
	if section == nil {
		section = map[string]interface{}{}
	}
	payload, err := json.Marshal(section)
	if err != nil {
		return nil, fmt.Errorf("encode bloog config: %w", err)
	}
	logrusLogger.WithField("path", path).Info("loaded config")
	return payload, nil
}

// readSecrets parses a plain secrets file, or one encrypted with sops.
func readSecrets(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse secrets yaml: %w", err)
	}
	if _, encrypted := out["sops"]; !encrypted {
		return out, nil
	}
	decrypted, err := decryptSopsFile(path)
	if err != nil {
		return nil, err
	}
	out = map[string]interface{}{}
	if err := yaml.Unmarshal(decrypted, &out); err != nil {
		return nil, fmt.Errorf("parse secrets yaml: %w", err)
	}
	return out, nil
}

func parseConfig(payload []byte) (models.BloogConfig, error) {
	var cfg models.BloogConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return cfg, fmt.Errorf("error in unmarshaling config file: %w", err)
	}
	cfg.Defaults()
	return cfg, nil
}

// server holds the resources shared by the commands.
type server struct {
	cfg    models.BloogConfig
	logger *logrus.Logger
	db     *gorm.DB
	cache  cache.Cache
	store  *store.Store

	closers []func() error
}

func openServer(cfg models.BloogConfig, logger *logrus.Logger) (*server, error) {
	logger.WithField("path", cfg.DatabasePath).Info("opening database")
	db, err := store.Open(cfg.DatabasePath, cfg.IsDebug)
	if err != nil {
		return nil, fmt.Errorf("error in connecting to db: %w", err)
	}
	if err := store.Migrate(db); err != nil {
		return nil, fmt.Errorf("error in migrations: %w", err)
	}
	srv := &server{cfg: cfg, logger: logger, db: db}
	if sqlDB, err := db.DB(); err == nil {
		srv.closers = append(srv.closers, sqlDB.Close)
	}

	srv.cache = newCache(cfg, logger)
	if c, ok := srv.cache.(interface{ Close() error }); ok {
		srv.closers = append(srv.closers, c.Close)
	}
	srv.store = store.New(db, srv.cache, logger)
	return srv, nil
}

// newCache connects to Redis when it is configured and falls back to the
// in-process cache.
func newCache(cfg models.BloogConfig, logger *logrus.Logger) cache.Cache {
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err == nil {
			return rc
		}
		logger.WithError(err).Warn("redis unavailable, using the memory cache")
	}
	return cache.NewBoundedMemoryCache(time.Minute, cfg.CacheMaxEntries)
}

func (s *server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newNotifier starts the comment mail worker when notifications are on.
// The worker stops with ctx.
func newNotifier(ctx context.Context, cfg models.BloogConfig, logger *logrus.Logger) notify.Notifier {
	if !cfg.SendCommentNotification || cfg.SMTPAddr == "" || cfg.Email == "" {
		return notify.Nop{}
	}
	n := notify.NewSMTPNotifier(notify.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		To:       cfg.Email,
	}, logger)
	go n.Run(ctx)
	return n
}

// GetMainEngine builds the gin engine serving the blog.
func GetMainEngine(ctx context.Context, srv *server) (*gin.Engine, error) {
	cfg := srv.cfg
	binding.Validator = models.DefaultValidator{}

	views, err := view.New(view.ThemeDir(cfg), srv.cache, cfg.CacheDuration(), srv.logger)
	if err != nil {
		return nil, fmt.Errorf("load theme %s: %w", cfg.ThemeName(), err)
	}
	auth := &gateway.JWTAuth{Key: []byte(cfg.JWTKey)}
	if err := auth.Init(); err != nil {
		return nil, err
	}
	if cfg.JWTKey == "" {
		srv.logger.Warn("jwt_key not set, admin tokens will not survive a restart")
	}

	route := gin.New()
	if err := route.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted_proxies: %w", err)
	}
	route.Use(
		gateway.RequestID(),
		gateway.RequestLogger(srv.logger, logSampling),
		gateway.Instrumentation(),
		gateway.OptionsMiddleware,
		gin.Recovery(),
	)

	svc := &blog.Service{
		Store:    srv.store,
		Views:    views,
		Upgrader: upgrade.NewRunner(srv.store, cfg, srv.logger),
		Notifier: newNotifier(ctx, cfg, srv.logger),
		Auth:     auth,
		AdminAuth: gateway.AdminAuthConfig{
			Key:          cfg.AdminKey,
			User:         cfg.AdminUser,
			PasswordHash: cfg.AdminPasswordHash,
			Debug:        cfg.IsDebug,
		},
		Limiter:     gateway.NewRateLimiter(cfg.CommentRatePerMinute, cfg.CommentBurst),
		Logger:      srv.logger,
		BloogConfig: cfg,
	}
	svc.Register(route)
	return route, nil
}
