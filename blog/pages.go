package blog

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/models"
	"github.com/gin-gonic/gin"
)

const searchLimit = 50

type indexPage struct {
	Articles    []models.Article
	Page, Pages int
}

type articlePage struct {
	Article      *models.Article
	Comments     []models.Comment
	CommentsOpen bool
	ReplyTo      int
}

type archivePage struct {
	Year, Month int
	MonthName   string
	Articles    []models.Article
}

type tagPage struct {
	Tag      string
	Articles []models.Article
}

type searchPage struct {
	Articles []models.Article
}

// FrontPage lists blog entries, newest first, ArticlesPerPage at a time.
// With a legacy blog configured, ?p=<id> resolves old entry links.
func (s *Service) FrontPage(c *gin.Context) {
	if legacy := c.Query("p"); legacy != "" && s.BloogConfig.LegacyBlogSoftware != "" {
		s.legacyEntry(c, legacy)
		return
	}
	ctx := c.Request.Context()
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		s.fail(c, apperr.Newf(apperr.ErrBadRequest, "invalid page %q", c.Query("page")))
		return
	}
	total, err := s.Store.CountArticles(ctx, models.TypeBlogEntry)
	if err != nil {
		s.fail(c, err)
		return
	}
	per := s.BloogConfig.ArticlesPerPage
	pages := int((total + int64(per) - 1) / int64(per))
	if page > 1 && page > pages {
		s.fail(c, apperr.Newf(apperr.ErrNotFound, "page %d not found", page))
		return
	}
	articles, err := s.Store.ListArticles(ctx, models.TypeBlogEntry, (page-1)*per, per)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.Views.HTML(c, http.StatusOK, "index", s.page(c, "", indexPage{Articles: articles, Page: page, Pages: pages}))
}

// StaticArticles lists the pages that are not blog entries.
func (s *Service) StaticArticles(c *gin.Context) {
	articles, err := s.Store.ListArticles(c.Request.Context(), models.TypeArticle, 0, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.Views.HTML(c, http.StatusOK, "index", s.page(c, "Articles", indexPage{Articles: articles, Page: 1, Pages: 1}))
}

// ArticlePage shows one article with its comment thread.
func (s *Service) ArticlePage(c *gin.Context) {
	s.renderArticle(c, strings.Join([]string{c.Param("year"), c.Param("month"), c.Param("slug")}, "/"))
}

func (s *Service) renderArticle(c *gin.Context, permalink string) {
	ctx := c.Request.Context()
	a, err := s.Store.GetArticleByPermalink(ctx, permalink)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.showArticle(c, a)
}

func (s *Service) showArticle(c *gin.Context, a *models.Article) {
	comments, err := s.Store.Comments(c.Request.Context(), a.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	replyTo, _ := strconv.Atoi(c.Query("reply_to"))
	p := s.page(c, a.Title, articlePage{
		Article:      a,
		Comments:     comments,
		CommentsOpen: a.CommentsOpen(time.Now(), s.BloogConfig.DaysCanComment),
		ReplyTo:      replyTo,
	})
	p.Wide = a.IsBig()
	s.Views.HTML(c, http.StatusOK, "article", p)
}

// YearPage is the archive of a year. Single segment permalinks of static
// articles share the route.
func (s *Service) YearPage(c *gin.Context) {
	year, ok := parseYear(c.Param("year"))
	if !ok {
		s.renderArticle(c, c.Param("year"))
		return
	}
	s.archive(c, year, 0)
}

func (s *Service) MonthPage(c *gin.Context) {
	year, ok := parseYear(c.Param("year"))
	month, err := strconv.Atoi(c.Param("month"))
	if !ok || err != nil || month < 1 || month > 12 {
		s.renderArticle(c, c.Param("year")+"/"+c.Param("month"))
		return
	}
	s.archive(c, year, month)
}

func (s *Service) archive(c *gin.Context, year, month int) {
	articles, err := s.Store.ArticlesByMonth(c.Request.Context(), year, month)
	if err != nil {
		s.fail(c, err)
		return
	}
	data := archivePage{Year: year, Month: month, Articles: articles}
	title := strconv.Itoa(year)
	if month > 0 {
		data.MonthName = time.Month(month).String()
		title = data.MonthName + " " + title
	}
	s.Views.HTML(c, http.StatusOK, "archive", s.page(c, title, data))
}

func parseYear(s string) (int, bool) {
	if len(s) != 4 {
		return 0, false
	}
	y, err := strconv.Atoi(s)
	return y, err == nil && y > 0
}

func (s *Service) TagPage(c *gin.Context) {
	tag := strings.ToLower(c.Param("tag"))
	articles, err := s.Store.ArticlesByTag(c.Request.Context(), tag)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.Views.HTML(c, http.StatusOK, "tag", s.page(c, "Tag "+tag, tagPage{Tag: tag, Articles: articles}))
}

func (s *Service) SearchPage(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	articles, err := s.Store.Search(c.Request.Context(), q, searchLimit)
	if err != nil {
		s.fail(c, err)
		return
	}
	p := s.page(c, "Search", searchPage{Articles: articles})
	p.Query = q
	s.Views.HTML(c, http.StatusOK, "search", p)
}

// LegacyNode resolves /node/<id> links of the imported blog.
func (s *Service) LegacyNode(c *gin.Context) {
	if s.BloogConfig.LegacyBlogSoftware == "" {
		s.fail(c, apperr.Newf(apperr.ErrNotFound, "page not found"))
		return
	}
	s.legacyEntry(c, c.Param("id"))
}

// legacyEntry redirects permanently to the new permalink, or serves the
// article in place when redirects are off.
func (s *Service) legacyEntry(c *gin.Context, id string) {
	a, err := s.Store.GetArticleByLegacyID(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.BloogConfig.LegacyEntryRedirect {
		c.Redirect(http.StatusMovedPermanently, "/"+a.Permalink())
		return
	}
	s.showArticle(c, a)
}

// NotFound tries the path as a permalink before giving up.
func (s *Service) NotFound(c *gin.Context) {
	permalink := strings.Trim(c.Request.URL.Path, "/")
	if c.Request.Method != http.MethodGet || permalink == "" || strings.HasPrefix(permalink, "api/") {
		s.fail(c, apperr.Newf(apperr.ErrNotFound, "page not found"))
		return
	}
	s.renderArticle(c, permalink)
}
