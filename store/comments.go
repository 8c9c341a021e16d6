package store

import (
	"context"
	"time"

	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/models"
	"gorm.io/gorm"
)

// AddComment stores c under the article at articleKey, as a reply to the
// comment numbered parentCommentID or at the root when that is zero. The
// comment id comes from the article's NextCommentID and the article's
// comment count is bumped in the same transaction.
func (s *Store) AddComment(ctx context.Context, articleKey string, parentCommentID int, c *models.Comment) error {
	if c.Published.IsZero() {
		c.Published = time.Now().UTC()
	}
	err := s.Transaction(ctx, "store.AddComment", func(tx *gorm.DB) error {
		var article models.Article
		if err := tx.Where(keyEq(articleKey)).First(&article).Error; err != nil {
			return err
		}
		parentThread := ""
		c.ParentID = nil
		if parentCommentID > 0 {
			var parent models.Comment
			err := tx.Where("article_id = ? AND comment_id = ?", article.ID, parentCommentID).First(&parent).Error
			if err != nil {
				return apperr.Wrap(err, apperr.ErrNotFound, "parent comment not found")
			}
			parentThread = parent.Thread
			c.ParentID = &parent.ID
		}
		if article.NextCommentID > models.MaxCommentID {
			return apperr.Newf(apperr.ErrConflict, "article has reached %d comments", models.MaxCommentID)
		}
		c.ID = 0
		c.ArticleID = article.ID
		c.CommentID = article.NextCommentID
		c.Thread = models.ChildThread(parentThread, c.CommentID)
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		return tx.Model(&article).UpdateColumns(map[string]any{
			"next_comment_id": gorm.Expr("next_comment_id + 1"),
			"num_comments":    gorm.Expr("num_comments + 1"),
		}).Error
	})
	return dbError(err, "article "+articleKey)
}

// Comments returns the comments of an article in thread order.
func (s *Store) Comments(ctx context.Context, articleID uint) ([]models.Comment, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Comment
	if err := db.Where("article_id = ?", articleID).Order("thread").Find(&out).Error; err != nil {
		return nil, dbError(err, "comments")
	}
	return out, nil
}

// DeleteComment removes a comment and all replies below it and returns how
// many were removed. NextCommentID is left alone so ids are never reused.
func (s *Store) DeleteComment(ctx context.Context, articleKey string, commentID int) (int, error) {
	var removed int64
	err := s.Transaction(ctx, "store.DeleteComment", func(tx *gorm.DB) error {
		var article models.Article
		if err := tx.Where(keyEq(articleKey)).First(&article).Error; err != nil {
			return err
		}
		var c models.Comment
		if err := tx.Where("article_id = ? AND comment_id = ?", article.ID, commentID).First(&c).Error; err != nil {
			return apperr.Wrap(err, apperr.ErrNotFound, "comment not found")
		}
		res := tx.Where("article_id = ? AND (thread = ? OR thread LIKE ?)", article.ID, c.Thread, c.Thread+".%").
			Delete(&models.Comment{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Model(&article).
			UpdateColumn("num_comments", gorm.Expr("MAX(num_comments - ?, 0)", removed)).Error
	})
	if err != nil {
		return 0, dbError(err, "article "+articleKey)
	}
	return int(removed), nil
}
