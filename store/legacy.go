package store

import (
	"context"

	"github.com/adonese/bloog/models"
	"gorm.io/gorm"
)

// NextLegacyArticle returns the first version 1 article with an id above
// afterID, or nil when none are left.
func (s *Store) NextLegacyArticle(ctx context.Context, afterID uint) (*models.LegacyArticle, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.LegacyArticle
	if err := db.Where("id > ?", afterID).Order("id").Limit(1).Find(&out).Error; err != nil {
		return nil, dbError(err, "legacy articles")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// LegacyComments lists the version 1 comments of a legacy article ordered by
// thread, which puts every parent before its replies.
func LegacyComments(tx *gorm.DB, articleID uint) ([]models.LegacyComment, error) {
	var out []models.LegacyComment
	err := tx.Where("article_id = ?", articleID).Order("thread").Find(&out).Error
	return out, err
}

// DropLegacyArticle deletes a legacy article and its comments.
func DropLegacyArticle(tx *gorm.DB, id uint) error {
	if err := tx.Where("article_id = ?", id).Delete(&models.LegacyComment{}).Error; err != nil {
		return err
	}
	return tx.Delete(&models.LegacyArticle{}, id).Error
}

// CountLegacy reports how many version 1 articles remain.
func (s *Store) CountLegacy(ctx context.Context) (int64, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.Model(&models.LegacyArticle{}).Count(&n).Error; err != nil {
		return 0, dbError(err, "legacy articles")
	}
	return n, nil
}
