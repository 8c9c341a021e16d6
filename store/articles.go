package store

import (
	"context"
	"strings"
	"time"

	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/models"
	"github.com/goccy/go-json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateArticle inserts a, then in the same transaction records its year,
// bumps the counters of its tags and the article count of its author.
func (s *Store) CreateArticle(ctx context.Context, a *models.Article) error {
	if a.Key == "" || a.Key == "/" {
		return apperr.Newf(apperr.ErrValidation, "article needs a permalink")
	}
	a.Tags = models.NormalizedTags(a.Tags)
	if a.Published.IsZero() {
		a.Published = time.Now().UTC()
	}
	if a.Updated.IsZero() {
		a.Updated = a.Published
	}
	a.Published, a.Updated = a.Published.UTC(), a.Updated.UTC()
	if a.NextCommentID < 1 {
		a.NextCommentID = 1
	}
	err := s.Transaction(ctx, "store.CreateArticle", func(tx *gorm.DB) error {
		return s.CreateArticleTx(tx, a)
	})
	if err != nil {
		return dbError(err, "article "+a.Key)
	}
	s.ArticleCreated(ctx, a)
	return nil
}

// CreateArticleTx is the transactional half of CreateArticle, for callers
// that write more rows alongside the article. Call ArticleCreated after the
// transaction commits.
func (s *Store) CreateArticleTx(tx *gorm.DB, a *models.Article) error {
	if err := tx.Omit(clause.Associations).Create(a).Error; err != nil {
		return err
	}
	return s.bookkeep(tx, nil, a)
}

// ArticleCreated refreshes cached totals after a committed CreateArticleTx.
func (s *Store) ArticleCreated(ctx context.Context, a *models.Article) {
	s.afterBookkeeping(ctx, nil, a)
}

// UpdateArticle saves a, which must carry the ID of an existing article, and
// moves the tag and author counts from the stored version to the new one.
func (s *Store) UpdateArticle(ctx context.Context, a *models.Article) error {
	if a.ID == 0 {
		return apperr.Newf(apperr.ErrValidation, "article id is required")
	}
	a.Tags = models.NormalizedTags(a.Tags)
	if a.Updated.IsZero() {
		a.Updated = time.Now()
	}
	a.Published, a.Updated = a.Published.UTC(), a.Updated.UTC()
	var old models.Article
	err := s.Transaction(ctx, "store.UpdateArticle", func(tx *gorm.DB) error {
		if err := tx.First(&old, a.ID).Error; err != nil {
			return err
		}
		// comment bookkeeping belongs to AddComment and DeleteComment
		a.NumComments = old.NumComments
		a.NextCommentID = old.NextCommentID
		if err := tx.Omit(clause.Associations).Save(a).Error; err != nil {
			return err
		}
		return s.bookkeep(tx, &old, a)
	})
	if err != nil {
		return dbError(err, "article "+a.Key)
	}
	s.afterBookkeeping(ctx, &old, a)
	return nil
}

// DeleteArticle removes the article under key with its comments.
func (s *Store) DeleteArticle(ctx context.Context, key string) error {
	var old models.Article
	err := s.Transaction(ctx, "store.DeleteArticle", func(tx *gorm.DB) error {
		if err := tx.Where(keyEq(key)).First(&old).Error; err != nil {
			return err
		}
		if err := tx.Where("article_id = ?", old.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&old).Error; err != nil {
			return err
		}
		return s.bookkeep(tx, &old, nil)
	})
	if err != nil {
		return dbError(err, "article "+key)
	}
	s.afterBookkeeping(ctx, &old, nil)
	return nil
}

// bookkeep brings the derived rows in line with a change from old to cur.
// Either side may be nil for a create or a delete.
func (s *Store) bookkeep(tx *gorm.DB, old, cur *models.Article) error {
	added, removed := diffTags(tagsOf(old), tagsOf(cur))
	if err := ensureTags(tx, added); err != nil {
		return err
	}
	for _, t := range added {
		if err := s.Counter(models.TagCounterName(t)).add(tx, 1); err != nil {
			return err
		}
	}
	for _, t := range removed {
		if err := s.Counter(models.TagCounterName(t)).add(tx, -1); err != nil {
			return err
		}
	}
	oldAuthor, curAuthor := authorOf(old), authorOf(cur)
	if oldAuthor != curAuthor {
		if oldAuthor != 0 {
			if err := AdjustAuthorCount(tx, oldAuthor, -1); err != nil {
				return err
			}
		}
		if curAuthor != 0 {
			if err := AdjustAuthorCount(tx, curAuthor, 1); err != nil {
				return err
			}
		}
	}
	if cur != nil {
		return ensureYearTx(tx, cur.Published.Year())
	}
	return nil
}

// afterBookkeeping updates cached totals once bookkeep has committed.
func (s *Store) afterBookkeeping(ctx context.Context, old, cur *models.Article) {
	added, removed := diffTags(tagsOf(old), tagsOf(cur))
	for _, t := range added {
		s.Counter(models.TagCounterName(t)).touch(ctx, 1)
	}
	for _, t := range removed {
		s.Counter(models.TagCounterName(t)).touch(ctx, -1)
	}
	keys := []string{TagsCacheKey}
	if authorOf(old) != authorOf(cur) {
		keys = append(keys, AuthorsCacheKey)
	}
	if cur != nil {
		keys = append(keys, models.YearsCacheKey)
	}
	s.Cache.Delete(ctx, keys...)
}

func tagsOf(a *models.Article) []string {
	if a == nil {
		return nil
	}
	return a.Tags
}

func authorOf(a *models.Article) uint {
	if a == nil || a.AuthorID == nil {
		return 0
	}
	return *a.AuthorID
}

func diffTags(old, cur []string) (added, removed []string) {
	in := func(list []string, t string) bool {
		for _, x := range list {
			if x == t {
				return true
			}
		}
		return false
	}
	for _, t := range cur {
		if !in(old, t) {
			added = append(added, t)
		}
	}
	for _, t := range old {
		if !in(cur, t) {
			removed = append(removed, t)
		}
	}
	return added, removed
}

func keyEq(key string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

// GetArticle returns the article stored under key, with its author.
func (s *Store) GetArticle(ctx context.Context, key string) (*models.Article, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	var a models.Article
	if err := db.Preload("Author").Where(keyEq(key)).First(&a).Error; err != nil {
		return nil, dbError(err, "article "+key)
	}
	return &a, nil
}

func (s *Store) GetArticleByPermalink(ctx context.Context, permalink string) (*models.Article, error) {
	return s.GetArticle(ctx, models.KeyFor(permalink))
}

// GetArticleByLegacyID finds an article by the id it had in the blog
// software it was imported from.
func (s *Store) GetArticleByLegacyID(ctx context.Context, legacyID string) (*models.Article, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	var a models.Article
	if err := db.Preload("Author").Where("legacy_id = ?", legacyID).First(&a).Error; err != nil {
		return nil, dbError(err, "article with legacy id "+legacyID)
	}
	return &a, nil
}

func (s *Store) articles(ctx context.Context, articleType string) (*gorm.DB, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Model(&models.Article{})
	if articleType != "" {
		q = q.Where("article_type = ?", articleType)
	}
	return q, nil
}

// ListArticles returns articles of articleType, newest first. An empty type
// lists everything.
func (s *Store) ListArticles(ctx context.Context, articleType string, offset, limit int) ([]models.Article, error) {
	q, err := s.articles(ctx, articleType)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	var out []models.Article
	if err := q.Preload("Author").Order("published desc").Offset(offset).Limit(limit).Find(&out).Error; err != nil {
		return nil, dbError(err, "articles")
	}
	return out, nil
}

func (s *Store) CountArticles(ctx context.Context, articleType string) (int64, error) {
	q, err := s.articles(ctx, articleType)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, dbError(err, "articles")
	}
	return n, nil
}

// ArticlesByTag returns every article carrying tag, newest first.
func (s *Store) ArticlesByTag(ctx context.Context, tag string) ([]models.Article, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	quoted, err := json.Marshal(tag)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBadRequest, "tag")
	}
	q, err := s.articles(ctx, "")
	if err != nil {
		return nil, err
	}
	var candidates []models.Article
	err = q.Preload("Author").Where("tags LIKE ? ESCAPE '!'", likePattern(string(quoted))).
		Order("published desc").
		Find(&candidates).Error
	if err != nil {
		return nil, dbError(err, "articles")
	}
	out := candidates[:0]
	for _, a := range candidates {
		if a.HasTag(tag) {
			out = append(out, a)
		}
	}
	return out, nil
}

// ArticlesByMonth returns the articles published in the given month, or in
// the whole year when month is zero, newest first.
func (s *Store) ArticlesByMonth(ctx context.Context, year, month int) ([]models.Article, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	if month > 0 {
		if month > 12 {
			return nil, apperr.Newf(apperr.ErrBadRequest, "invalid month %d", month)
		}
		start = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	}
	q, err := s.articles(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []models.Article
	err = q.Preload("Author").Where("published >= ? AND published < ?", start, end).
		Order("published desc").
		Find(&out).Error
	if err != nil {
		return nil, dbError(err, "articles")
	}
	return out, nil
}

// Search returns articles whose title, body or tags contain every term of
// query, newest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]models.Article, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return []models.Article{}, nil
	}
	q, err := s.articles(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, term := range terms {
		p := likePattern(term)
		q = q.Where("(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(body) LIKE ? ESCAPE '!' OR LOWER(tags) LIKE ? ESCAPE '!')", p, p, p)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Article
	if err := q.Preload("Author").Order("published desc").Find(&out).Error; err != nil {
		return nil, dbError(err, "articles")
	}
	return out, nil
}

// NextArticleAfter returns the article with the smallest key greater than
// key, or nil when there is none. An empty key starts from the beginning.
func (s *Store) NextArticleAfter(ctx context.Context, key string) (*models.Article, error) {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Article
	err = db.Where(clause.Gt{Column: clause.Column{Name: "key"}, Value: key}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, dbError(err, "articles")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}
