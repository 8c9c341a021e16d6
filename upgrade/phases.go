package upgrade

import (
	"context"
	"strconv"

	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/markup"
	"github.com/adonese/bloog/models"
	"github.com/adonese/bloog/store"
	"gorm.io/gorm"
)

// Phase1 moves one version 1 article, with its comments, to the current
// schema: the article becomes keyed by its permalink and the flat comment
// list becomes a tree with per-article comment ids. The legacy rows are
// removed in the same transaction. The cursor is the legacy article id.
func (r *Runner) Phase1(ctx context.Context, cursor string) (StepResult, error) {
	var after uint64
	if cursor != "" {
		var err error
		if after, err = strconv.ParseUint(cursor, 10, 64); err != nil {
			return StepResult{Code: Exhausted}, apperr.Wrap(err, apperr.ErrBadRequest, "invalid cursor for phase 1")
		}
	}
	legacy, err := r.Store.NextLegacyArticle(ctx, uint(after))
	if err != nil {
		return StepResult{Code: Retry}, err
	}
	if legacy == nil {
		return StepResult{Code: Exhausted}, nil
	}
	res := StepResult{Code: Retry, Title: legacy.Title}

	var article *models.Article
	err = r.Store.Transaction(ctx, "upgrade.Phase1", func(tx *gorm.DB) error {
		comments, err := store.LegacyComments(tx, legacy.ID)
		if err != nil {
			return err
		}
		article = articleFromLegacy(legacy, len(comments))
		if err := r.Store.CreateArticleTx(tx, article); err != nil {
			return err
		}
		migrated := make(map[string]*models.Comment, len(comments))
		for i, old := range comments {
			c := &models.Comment{
				ArticleID: article.ID,
				CommentID: i + 1,
				Name:      old.Name,
				Email:     old.Email,
				Homepage:  old.Homepage,
				Title:     old.Title,
				Body:      old.Body,
				Published: old.Published.UTC(),
			}
			parentThread := ""
			if parent, ok := migrated[old.ParentThread()]; ok {
				c.ParentID = &parent.ID
				parentThread = parent.Thread
			}
			c.Thread = models.ChildThread(parentThread, c.CommentID)
			if err := tx.Create(c).Error; err != nil {
				return err
			}
			migrated[old.Thread] = c
		}
		return store.DropLegacyArticle(tx, legacy.ID)
	})
	if err != nil {
		return res, err
	}
	r.Store.ArticleCreated(ctx, article)
	res.Code = Advanced
	res.Cursor = strconv.FormatUint(uint64(legacy.ID), 10)
	return res, nil
}

func articleFromLegacy(old *models.LegacyArticle, comments int) *models.Article {
	permalink := old.Permalink
	if permalink == "" {
		permalink = markup.Permalink(old.Published, old.Title)
	}
	return &models.Article{
		Key:           models.KeyFor(permalink),
		LegacyID:      old.LegacyID,
		Title:         old.Title,
		ArticleType:   old.ArticleType,
		Body:          old.Body,
		Excerpt:       old.Excerpt,
		HTML:          old.HTML,
		Published:     old.Published.UTC(),
		Updated:       old.Updated.UTC(),
		Format:        old.Format,
		AssocData:     old.AssocData,
		NumComments:   comments,
		NextCommentID: comments + 1,
		Tags:          models.NormalizedTags(old.Tags),
		AllowComments: old.AllowComments,
		EmbeddedCode:  old.EmbeddedCode,
	}
}

// Phase2 gives an author to one article that has none: the author
// configured for the blog email, created on first use. The cursor is the
// article key.
func (r *Runner) Phase2(ctx context.Context, cursor string) (StepResult, error) {
	article, err := r.Store.NextArticleAfter(ctx, cursor)
	if err != nil {
		return StepResult{Code: Retry}, err
	}
	if article == nil {
		return StepResult{Code: Exhausted}, nil
	}
	res := StepResult{Code: Advanced, Title: article.Title, Cursor: article.Key}
	if article.AuthorID != nil {
		return res, nil
	}
	info, ok := r.BloogConfig.AuthorFor(r.BloogConfig.Email)
	if !ok {
		return StepResult{Code: Exhausted}, apperr.Newf(apperr.ErrValidation, "no author configured for blog email %q", r.BloogConfig.Email)
	}
	err = r.Store.Transaction(ctx, "upgrade.Phase2", func(tx *gorm.DB) error {
		author, err := store.GetOrCreateAuthorTx(tx, info.Nick, r.BloogConfig.Email, info.Name)
		if err != nil {
			return err
		}
		if err := store.AdjustAuthorCount(tx, author.ID, 1); err != nil {
			return err
		}
		return tx.Model(article).UpdateColumn("author_id", author.ID).Error
	})
	if err != nil {
		res.Code = Retry
		return res, err
	}
	r.Store.Cache.Delete(ctx, store.AuthorsCacheKey)
	return res, nil
}
