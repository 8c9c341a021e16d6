// Package view renders the blog pages. Every page is parsed together with
// base.html into its own template set; a theme directory may replace any of
// the embedded files.
package view

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/adonese/bloog/cache"
	"github.com/adonese/bloog/models"
	"github.com/bradfitz/iter"
	"github.com/gin-contrib/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var defaultTheme embed.FS

const baseTemplate = "base.html"

// Pages lists the templates every theme provides.
var Pages = []string{"index", "article", "tag", "archive", "search", "upgrade", "error"}

// Page is the value every template is executed with.
type Page struct {
	Blog  models.BloogConfig
	Title string
	Query string
	// Wide selects the wide layout for big articles.
	Wide  bool
	Now   time.Time
	Tags  []models.TagCount
	Years []string
	Data  any
	// Private pages are never cached by the server or by browsers.
	Private bool
}

func FuncMap() template.FuncMap {
	return template.FuncMap{
		"N": iter.N,
		"rfc3339": func(t time.Time) string {
			return t.UTC().Format(time.RFC3339)
		},
		"date": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"gravatar": models.GravatarURL,
		// left margin in pixels for a comment at depth
		"indent": func(depth int) int {
			if depth <= 1 {
				return 0
			}
			return (depth - 1) * 24
		},
		"safe": func(s string) template.HTML {
			return template.HTML(s)
		},
		"add": func(a, b int) int { return a + b },
		"sub": func(a, b int) int { return a - b },
	}
}

// ThemeDir is the directory holding the overrides of the configured theme,
// or "" when no template dir is configured.
func ThemeDir(cfg models.BloogConfig) string {
	if cfg.TemplateDir == "" {
		return ""
	}
	return filepath.Join(cfg.TemplateDir, cfg.ThemeName())
}

// Renderer holds the parsed pages and the rendered page cache. It
// satisfies gin's render.HTMLRender through the embedded Render.
type Renderer struct {
	multitemplate.Render
	Cache  cache.Cache
	TTL    time.Duration
	Logger *logrus.Logger

	generation atomic.Uint64
}

// New parses the pages from themeDir, falling back to the embedded theme
// for every file the directory does not have. Rendered pages are cached in
// c for ttl; a zero ttl disables the page cache.
func New(themeDir string, c cache.Cache, ttl time.Duration, logger *logrus.Logger) (*Renderer, error) {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	base, err := readTemplate(themeDir, baseTemplate)
	if err != nil {
		return nil, err
	}
	r := &Renderer{Render: multitemplate.New(), Cache: c, TTL: ttl, Logger: logger}
	// a shared cache may still hold pages of an earlier process
	r.generation.Store(uint64(time.Now().UnixNano()))
	for _, name := range Pages {
		src, err := readTemplate(themeDir, name+".html")
		if err != nil {
			return nil, err
		}
		tmpl, err := template.New(baseTemplate).Funcs(FuncMap()).Parse(string(base))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", baseTemplate, err)
		}
		if _, err := tmpl.Parse(string(src)); err != nil {
			return nil, fmt.Errorf("parse %s.html: %w", name, err)
		}
		r.Add(name, tmpl)
	}
	return r, nil
}

func readTemplate(themeDir, name string) ([]byte, error) {
	if themeDir != "" {
		b, err := os.ReadFile(filepath.Join(themeDir, name))
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return defaultTheme.ReadFile("templates/" + name)
}

// Invalidate drops every cached page by moving to a new generation.
func (r *Renderer) Invalidate() {
	r.generation.Add(1)
}

// CacheQueryParams are the query parameters pages read. Only these take
// part in the page cache key.
var CacheQueryParams = []string{"p", "page", "q", "reply_to"}

func (r *Renderer) cacheKey(c *gin.Context) string {
	key := "page:" + strconv.FormatUint(r.generation.Load(), 10) + ":" + c.Request.URL.EscapedPath()
	query := c.Request.URL.Query()
	kept := url.Values{}
	for _, name := range CacheQueryParams {
		if v, ok := query[name]; ok {
			kept[name] = v
		}
	}
	if len(kept) > 0 {
		key += "?" + kept.Encode()
	}
	return key
}

func (r *Renderer) cacheable(c *gin.Context) bool {
	return r.TTL > 0 && c.Request.Method == http.MethodGet
}

func (r *Renderer) cacheControl(c *gin.Context, status int, private bool) {
	switch {
	case private:
		c.Header("Cache-Control", "private, no-store")
	case status == http.StatusOK && r.TTL > 0:
		c.Header("Cache-Control", "public, max-age="+strconv.Itoa(int(r.TTL/time.Second)))
	default:
		c.Header("Cache-Control", "no-cache")
	}
}

// Serve writes the cached rendering of the request path and reports
// whether there was one.
func (r *Renderer) Serve(c *gin.Context) bool {
	if !r.cacheable(c) {
		return false
	}
	body, ok := r.Cache.Get(c.Request.Context(), r.cacheKey(c))
	if !ok {
		return false
	}
	r.cacheControl(c, http.StatusOK, false)
	c.Header("X-Page-Cache", "hit")
	c.Data(http.StatusOK, "text/html; charset=utf-8", body)
	return true
}

// HTML renders page name and caches successful public renderings.
func (r *Renderer) HTML(c *gin.Context, status int, name string, p Page) {
	tmpl, ok := r.Render[name]
	if !ok {
		r.Logger.WithFields(logrus.Fields{"template": name}).Error("unknown template")
		c.String(http.StatusInternalServerError, "unknown template %s", name)
		return
	}
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		r.Logger.WithFields(logrus.Fields{
			"template": name,
			"error":    err.Error(),
		}).Error("render page")
		c.String(http.StatusInternalServerError, "error rendering page")
		return
	}
	if status == http.StatusOK && !p.Private && r.cacheable(c) {
		r.Cache.Set(c.Request.Context(), r.cacheKey(c), buf.Bytes(), r.TTL)
	}
	r.cacheControl(c, status, p.Private)
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}
