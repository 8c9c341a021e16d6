package store

import (
	"context"
	"sort"
	"strings"

	"github.com/adonese/bloog/cache"
	"github.com/adonese/bloog/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ListTags returns every tag carried by at least one article with its
// article count, ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]models.TagCount, error) {
	var tags []models.TagCount
	if cache.GetJSON(ctx, s.Cache, TagsCacheKey, &tags) {
		return tags, nil
	}
	v, err, _ := s.group.Do(TagsCacheKey, func() (any, error) {
		db, err := s.ensureDB(ctx)
		if err != nil {
			return nil, err
		}
		var rows []models.Tag
		if err := db.Order("name").Find(&rows).Error; err != nil {
			return nil, dbError(err, "tags")
		}
		list := make([]models.TagCount, 0, len(rows))
		for _, t := range rows {
			n, err := s.Counter(t.CounterName()).Count(ctx)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				list = append(list, models.TagCount{Name: t.Name, Count: n})
			}
		}
		if err := cache.SetJSON(ctx, s.Cache, TagsCacheKey, list, s.ListTTL); err != nil {
			s.Logger.WithFields(logrus.Fields{"key": TagsCacheKey, "error": err.Error()}).Warn("cache tag list")
		}
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.TagCount), nil
}

// ensureTags inserts the tags that do not exist yet.
func ensureTags(tx *gorm.DB, names []string) error {
	for _, name := range names {
		var tag models.Tag
		if err := tx.Where(models.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
			return err
		}
	}
	return nil
}

// DeleteTag removes a tag, its counter and every article's reference to it.
func (s *Store) DeleteTag(ctx context.Context, name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	articles, err := s.ArticlesByTag(ctx, name)
	if err != nil {
		return err
	}
	counter := s.Counter(models.TagCounterName(name))
	err = s.Transaction(ctx, "store.DeleteTag", func(tx *gorm.DB) error {
		res := tx.Where(models.Tag{Name: name}).Delete(&models.Tag{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		for i := range articles {
			a := &articles[i]
			kept := a.Tags[:0]
			for _, t := range a.Tags {
				if t != name {
					kept = append(kept, t)
				}
			}
			a.Tags = kept
			if err := tx.Model(a).Select("tags").Updates(a).Error; err != nil {
				return err
			}
		}
		return counter.deleteTx(tx)
	})
	if err != nil {
		return dbError(err, "tag "+name)
	}
	s.Cache.Delete(ctx, TagsCacheKey, counter.Name)
	return nil
}

// AllYears returns every year with an article, oldest first.
func (s *Store) AllYears(ctx context.Context) ([]string, error) {
	if b, ok := s.Cache.Get(ctx, models.YearsCacheKey); ok {
		return splitYears(string(b)), nil
	}
	v, err, _ := s.group.Do(models.YearsCacheKey, func() (any, error) {
		db, err := s.ensureDB(ctx)
		if err != nil {
			return nil, err
		}
		var rows []models.Year
		if err := db.Order("key").Find(&rows).Error; err != nil {
			return nil, dbError(err, "years")
		}
		years := make([]string, 0, len(rows))
		for _, y := range rows {
			years = append(years, y.Value())
		}
		sort.Strings(years)
		s.Cache.Set(ctx, models.YearsCacheKey, []byte(strings.Join(years, ",")), s.ListTTL)
		return years, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func splitYears(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// EnsureYear records year and invalidates the cached list, whether or not
// the year was new.
func (s *Store) EnsureYear(ctx context.Context, year int) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	if err := ensureYearTx(db, year); err != nil {
		return dbError(err, "year")
	}
	s.Cache.Delete(ctx, models.YearsCacheKey)
	return nil
}

func ensureYearTx(tx *gorm.DB, year int) error {
	var y models.Year
	return tx.Where(models.Year{Key: models.YearKey(year)}).FirstOrCreate(&y).Error
}
