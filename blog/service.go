// Package blog serves the public pages, the JSON API and the admin
// endpoints of the blog.
package blog

import (
	"net/http"
	"strings"

	gateway "github.com/adonese/bloog/apigateway"
	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/models"
	"github.com/adonese/bloog/notify"
	"github.com/adonese/bloog/store"
	"github.com/adonese/bloog/upgrade"
	"github.com/adonese/bloog/view"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var commentsPosted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "bloog",
	Name:      "comments_posted_total",
	Help:      "Comments accepted from visitors",
})

// Service holds everything the handlers need.
type Service struct {
	Store       *store.Store
	Views       *view.Renderer
	Upgrader    *upgrade.Runner
	Notifier    notify.Notifier
	Auth        *gateway.JWTAuth
	AdminAuth   gateway.AdminAuthConfig
	Limiter     *gateway.RateLimiter
	Logger      *logrus.Logger
	BloogConfig models.BloogConfig
}

// Register mounts every route of the blog on r.
func (s *Service) Register(r *gin.Engine) {
	if s.Notifier == nil {
		s.Notifier = notify.Nop{}
	}
	if s.Limiter == nil {
		s.Limiter = gateway.NewRateLimiter(s.BloogConfig.CommentRatePerMinute, s.BloogConfig.CommentBurst)
	}
	// comment routes take url-escaped permalinks as one segment
	r.UseRawPath = true
	if err := r.SetTrustedProxies(s.BloogConfig.TrustedProxies); err != nil {
		s.Logger.WithError(err).Error("invalid trusted_proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}
	r.HTMLRender = s.Views

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/feeds/atom.xml", s.AtomFeed)

	pages := r.Group("/", s.pageCache)
	{
		pages.GET("/", s.FrontPage)
		pages.GET("/articles", s.StaticArticles)
		pages.GET("/search", s.SearchPage)
		pages.GET("/tag/:tag", s.TagPage)
		pages.GET("/node/:id", s.LegacyNode)
		pages.GET("/:year", s.YearPage)
		pages.GET("/:year/:month", s.MonthPage)
		pages.GET("/:year/:month/:slug", s.ArticlePage)
	}

	limited := s.Limiter.Middleware()
	r.POST("/:year/:month/:slug/comments", limited, s.PostComment)

	api := r.Group("/api")
	{
		api.GET("/tags", s.Tags)
		api.GET("/years", s.Years)
		api.GET("/authors", s.Authors)
		api.GET("/articles/*permalink", s.ArticleJSON)
		api.POST("/comments/*permalink", limited, s.PostComment)
	}

	r.POST("/admin/login", s.Login)
	admin := r.Group("/admin", gateway.RequireAdmin(s.AdminAuth, s.Auth))
	{
		admin.POST("/articles", s.CreateArticle)
		admin.PUT("/articles/*permalink", s.UpdateArticle)
		admin.DELETE("/articles/*permalink", s.DeleteArticle)
		admin.DELETE("/comments/:article/:id", s.DeleteComment)
		admin.DELETE("/tags/:name", s.DeleteTag)
		admin.GET("/upgrade", s.Upgrade)
	}

	r.NoRoute(s.pageCache, s.NotFound)
}

// pageCache answers from the rendered page cache when it can.
func (s *Service) pageCache(c *gin.Context) {
	if s.Views.Serve(c) {
		c.Abort()
		return
	}
	c.Next()
}

// Health reports whether the datastore answers.
func (s *Service) Health(c *gin.Context) {
	if err := s.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(apperr.Status(err), apperr.Payload(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// page builds the template value with the sidebar filled in.
func (s *Service) page(c *gin.Context, title string, data any) view.Page {
	ctx := c.Request.Context()
	p := view.Page{Blog: s.BloogConfig, Title: title, Data: data}
	tags, err := s.Store.ListTags(ctx)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("sidebar tags")
	}
	years, err := s.Store.AllYears(ctx)
	if err != nil {
		s.Logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("sidebar years")
	}
	p.Tags, p.Years = tags, years
	return p
}

type errorPage struct {
	Status  int
	Message string
}

// fail answers err as JSON for API clients and as the error page for
// browsers.
func (s *Service) fail(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		s.Logger.WithFields(logrus.Fields{
			"path":       c.Request.URL.Path,
			"request_id": gateway.RequestIDFromCtx(c),
			"error":      err.Error(),
		}).Error("request failed")
	}
	if wantsJSON(c) {
		c.AbortWithStatusJSON(status, apperr.Payload(err))
		return
	}
	c.Abort()
	p := s.page(c, http.StatusText(status), errorPage{Status: status, Message: apperr.Message(err)})
	s.Views.HTML(c, status, "error", p)
}

// wantsJSON tells API clients from browsers. Comment forms post to the API
// route, so it answers them like browsers unless they ask for JSON.
func wantsJSON(c *gin.Context) bool {
	if strings.Contains(c.GetHeader("Accept"), "application/json") ||
		strings.HasPrefix(c.ContentType(), "application/json") {
		return true
	}
	path := c.Request.URL.Path
	if strings.HasPrefix(path, "/api/comments/") || path == "/admin/upgrade" {
		return false
	}
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/admin/")
}
