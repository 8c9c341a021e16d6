// Package store is the blog datastore: articles, threaded comments, authors,
// tags, years and sharded counters on gorm, fronted by a cache.Cache.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/cache"
	"github.com/adonese/bloog/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	TagsCacheKey    = "PS_Tag_ALL"
	AuthorsCacheKey = "PS_Author_ALL"

	defaultListTTL = time.Hour
)

var tracer = otel.Tracer("github.com/adonese/bloog/store")

// Store provides data access for the blog.
type Store struct {
	DB     *gorm.DB
	Cache  cache.Cache
	Logger *logrus.Logger
	// ListTTL bounds how long aggregate lists and counter totals stay cached.
	ListTTL time.Duration

	group singleflight.Group
}

func New(db *gorm.DB, c cache.Cache, logger *logrus.Logger) *Store {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{DB: db, Cache: c, Logger: logger, ListTTL: defaultListTTL}
}

// Open opens the SQLite database at path. SQL statements are logged in debug.
func Open(path string, debug bool) (*gorm.DB, error) {
	level := gormlogger.Silent
	if debug {
		level = gormlogger.Info
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

// Migrate creates or alters every table the blog uses, the legacy ones
// included so an old database can be upgraded in place.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	return db.AutoMigrate(
		&models.Author{},
		&models.Article{},
		&models.Comment{},
		&models.Tag{},
		&models.Year{},
		&models.CounterShard{},
		&models.LegacyArticle{},
		&models.LegacyComment{},
	)
}

func (s *Store) ensureDB(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.DB == nil {
		return nil, apperr.Newf(apperr.ErrUnavailable, "nil db")
	}
	return s.DB.WithContext(ctx), nil
}

// Transaction runs fn in a database transaction traced under name.
func (s *Store) Transaction(ctx context.Context, name string, fn func(tx *gorm.DB) error) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	ctx, span := tracer.Start(ctx, name)
	defer span.End()
	err = db.WithContext(ctx).Transaction(fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("bloog.error_code", apperr.Code(err)))
	}
	return err
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return apperr.Wrap(err, apperr.ErrUnavailable, "database handle")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperr.Wrap(err, apperr.ErrUnavailable, "database unreachable")
	}
	return nil
}

// dbError maps gorm errors onto apperr bases. Errors that already are
// apperr values pass through.
func dbError(err error, what string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.Wrap(err, apperr.ErrNotFound, what+" not found")
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return apperr.Wrap(err, apperr.ErrConflict, what+" already exists")
	}
	return apperr.Wrap(err, apperr.ErrDatabase, what)
}

// likePattern builds a LIKE pattern matching s anywhere, escaped with '!'.
func likePattern(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(s) + "%"
}
