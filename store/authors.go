package store

import (
	"context"
	"strings"

	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/cache"
	"github.com/adonese/bloog/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GetOrCreateAuthor returns the author with nick, creating it with an
// article count of zero when missing.
func (s *Store) GetOrCreateAuthor(ctx context.Context, nick, email, name string) (*models.Author, error) {
	var author *models.Author
	err := s.Transaction(ctx, "store.GetOrCreateAuthor", func(tx *gorm.DB) error {
		var err error
		author, err = GetOrCreateAuthorTx(tx, nick, email, name)
		return err
	})
	if err != nil {
		return nil, dbError(err, "author")
	}
	s.Cache.Delete(ctx, AuthorsCacheKey)
	return author, nil
}

// GetOrCreateAuthorTx is GetOrCreateAuthor inside a caller's transaction.
// The caller invalidates AuthorsCacheKey after commit.
func GetOrCreateAuthorTx(tx *gorm.DB, nick, email, name string) (*models.Author, error) {
	nick = strings.TrimSpace(nick)
	if nick == "" {
		return nil, apperr.Newf(apperr.ErrValidation, "author nick is required")
	}
	if name == "" {
		name = nick
	}
	var author models.Author
	err := tx.Where(models.Author{Nick: nick}).
		Attrs(models.Author{Email: email, Name: name}).
		FirstOrCreate(&author).Error
	if err != nil {
		return nil, err
	}
	return &author, nil
}

// AdjustAuthorCount adds delta to the article count of author id.
func AdjustAuthorCount(tx *gorm.DB, id uint, delta int) error {
	return tx.Model(&models.Author{}).
		Where("id = ?", id).
		UpdateColumn("article_count", gorm.Expr("article_count + ?", delta)).Error
}

func (s *Store) GetAuthor(ctx context.Context, nick string) (*models.Author, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	var author models.Author
	if err := db.Where(models.Author{Nick: nick}).First(&author).Error; err != nil {
		return nil, dbError(err, "author")
	}
	return &author, nil
}

// ListAuthors returns every author ordered by nick.
func (s *Store) ListAuthors(ctx context.Context) ([]models.Author, error) {
	var authors []models.Author
	if cache.GetJSON(ctx, s.Cache, AuthorsCacheKey, &authors) {
		return authors, nil
	}
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.Order("nick").Find(&authors).Error; err != nil {
		return nil, dbError(err, "authors")
	}
	if err := cache.SetJSON(ctx, s.Cache, AuthorsCacheKey, authors, s.ListTTL); err != nil {
		s.Logger.WithFields(logrus.Fields{"key": AuthorsCacheKey, "error": err.Error()}).Warn("cache author list")
	}
	return authors, nil
}
