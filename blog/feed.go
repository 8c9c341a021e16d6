package blog

import (
	"net/http"
	"strconv"
	"time"

	"github.com/adonese/bloog/markup"
	"github.com/adonese/bloog/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

const feedEntries = 10

// AtomFeed serves the latest blog entries as an Atom feed.
func (s *Service) AtomFeed(c *gin.Context) {
	articles, err := s.Store.ListArticles(c.Request.Context(), models.TypeBlogEntry, 0, feedEntries)
	if err != nil {
		s.fail(c, err)
		return
	}
	atom, err := s.feed(articles).ToAtom()
	if err != nil {
		s.fail(c, err)
		return
	}
	if ttl := s.BloogConfig.CacheDuration(); ttl > 0 {
		c.Header("Cache-Control", "public, max-age="+strconv.Itoa(int(ttl/time.Second)))
	}
	c.Data(http.StatusOK, "application/atom+xml; charset=utf-8", []byte(atom))
}

func (s *Service) feed(articles []models.Article) *feeds.Feed {
	root := s.BloogConfig.RootURL
	f := &feeds.Feed{
		Title:       s.BloogConfig.Title,
		Link:        &feeds.Link{Href: root + "/"},
		Description: s.BloogConfig.Description,
		Author:      &feeds.Author{Name: s.BloogConfig.Author, Email: s.BloogConfig.Email},
		Id:          root + "/",
	}
	for _, a := range articles {
		item := &feeds.Item{
			Title:       a.Title,
			Link:        &feeds.Link{Href: a.FullPermalink(root)},
			Id:          a.FullPermalink(root),
			Description: markup.Excerpt(a),
			Content:     a.HTML,
			Created:     a.Published,
			Updated:     a.Updated,
		}
		if a.Author != nil {
			item.Author = &feeds.Author{Name: a.Author.Name}
		}
		f.Items = append(f.Items, item)
		if a.Updated.After(f.Updated) {
			f.Updated = a.Updated
		}
	}
	if f.Updated.IsZero() {
		f.Updated = time.Now().UTC()
	}
	return f
}
