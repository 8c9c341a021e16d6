package view

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/adonese/bloog/cache"
	"github.com/adonese/bloog/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type indexData struct {
	Articles    []models.Article
	Page, Pages int
}

type errorData struct {
	Status  int
	Message string
}

func testContext(method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	return c, w
}

func testConfig() models.BloogConfig {
	cfg := models.BloogConfig{Title: "Test Blog", Author: "Jane"}
	cfg.Defaults()
	return cfg
}

func TestNew_ParsesEveryPage(t *testing.T) {
	r, err := New("", nil, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, name := range Pages {
		if _, ok := r.Render[name]; !ok {
			t.Errorf("page %q missing", name)
		}
	}
}

func TestRenderer_Index(t *testing.T) {
	r, err := New("", nil, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c, w := testContext(http.MethodGet, "/")
	r.HTML(c, http.StatusOK, "index", Page{
		Blog:  testConfig(),
		Tags:  []models.TagCount{{Name: "go", Count: 2}},
		Years: []string{"2008"},
		Data: indexData{
			Articles: []models.Article{{
				Key:       "/2008/09/hello",
				Title:     "Hello <World>",
				HTML:      "<p>first post</p>",
				Published: time.Date(2008, 9, 3, 0, 0, 0, 0, time.UTC),
				Tags:      []string{"go"},
			}},
			Page:  1,
			Pages: 3,
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"<title>Test Blog</title>",
		`<a href="/2008/09/hello">Hello &lt;World&gt;</a>`,
		"<p>first post</p>",
		"September 3, 2008",
		`<a href="/tag/go">go</a> (2)`,
		"<strong>1</strong>",
		`<a href="?page=3">3</a>`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q without a ttl", got)
	}
}

func TestRenderer_ThemeOverride(t *testing.T) {
	dir := t.TempDir()
	custom := `{{define "content"}}<p class="custom">{{.Data.Message}}</p>{{end}}`
	if err := os.WriteFile(filepath.Join(dir, "error.html"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write theme file: %v", err)
	}
	r, err := New(dir, nil, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c, w := testContext(http.MethodGet, "/missing")
	r.HTML(c, http.StatusNotFound, "error", Page{Blog: testConfig(), Title: "Not Found", Data: errorData{Status: 404, Message: "gone"}})
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `<p class="custom">gone</p>`) {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	// the base layout still comes from the embedded theme
	if !strings.Contains(w.Body.String(), `<div id="sidebar">`) {
		t.Fatalf("base layout missing")
	}
}

func TestRenderer_BadTheme(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tag.html"), []byte(`{{define "content"}}{{.Broken`), 0o644); err != nil {
		t.Fatalf("write theme file: %v", err)
	}
	if _, err := New(dir, nil, 0, nil); err == nil {
		t.Fatalf("New accepted a broken template")
	}
}

func TestRenderer_PageCache(t *testing.T) {
	mem := cache.NewMemoryCache(0)
	r, err := New("", mem, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	page := Page{Blog: testConfig(), Title: "Not Found", Data: errorData{Status: 200, Message: "cached body"}}

	c, _ := testContext(http.MethodGet, "/x?page=2")
	if r.Serve(c) {
		t.Fatalf("served from an empty cache")
	}
	c, w := testContext(http.MethodGet, "/x?page=2")
	r.HTML(c, http.StatusOK, "error", page)
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Fatalf("Cache-Control = %q", got)
	}

	c, w = testContext(http.MethodGet, "/x?page=2")
	if !r.Serve(c) {
		t.Fatalf("rendered page was not cached")
	}
	if w.Header().Get("X-Page-Cache") != "hit" || !strings.Contains(w.Body.String(), "cached body") {
		t.Fatalf("cached response = %v %s", w.Header(), w.Body.String())
	}

	c, _ = testContext(http.MethodGet, "/x?page=3")
	if r.Serve(c) {
		t.Fatalf("query string must be part of the key")
	}

	r.Invalidate()
	c, _ = testContext(http.MethodGet, "/x?page=2")
	if r.Serve(c) {
		t.Fatalf("page served after Invalidate")
	}
}

func TestRenderer_PageCacheIgnoresUnreadParams(t *testing.T) {
	mem := cache.NewMemoryCache(0)
	r, err := New("", mem, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	page := Page{Blog: testConfig(), Title: "Search", Data: errorData{Status: 200, Message: "results"}}

	for i := 0; i < 500; i++ {
		target := "/search?q=x&junk=" + strconv.Itoa(i)
		c, _ := testContext(http.MethodGet, target)
		if r.Serve(c) {
			continue
		}
		c, _ = testContext(http.MethodGet, target)
		r.HTML(c, http.StatusOK, "error", page)
	}
	if size := mem.Stats().Size; size != 1 {
		t.Fatalf("Size = %d, want one entry for /search?q=x", size)
	}

	c, _ := testContext(http.MethodGet, "/search?utm_source=feed&q=x")
	if !r.Serve(c) {
		t.Fatalf("parameter order or unread parameters changed the key")
	}
	c, _ = testContext(http.MethodGet, "/search?q=y&junk=1")
	if r.Serve(c) {
		t.Fatalf("a different search was served from the cache")
	}
}

func TestRenderer_PrivateAndErrorsNotCached(t *testing.T) {
	mem := cache.NewMemoryCache(0)
	r, err := New("", mem, time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c, w := testContext(http.MethodGet, "/admin/upgrade")
	r.HTML(c, http.StatusOK, "upgrade", Page{Blog: testConfig(), Private: true, Data: map[string]int{"FirstPhase": 1, "SchemaVersion": 2}})
	if got := w.Header().Get("Cache-Control"); got != "private, no-store" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if !strings.Contains(w.Body.String(), "step( 1 ,") {
		t.Fatalf("upgrade page missing first phase:\n%s", w.Body.String())
	}
	c, _ = testContext(http.MethodGet, "/nope")
	r.HTML(c, http.StatusNotFound, "error", Page{Blog: testConfig(), Data: errorData{Status: 404}})
	if mem.Stats().Sets != 0 {
		t.Fatalf("cached %d pages, want none", mem.Stats().Sets)
	}
}

func TestRenderer_UnknownTemplate(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r, err := New("", nil, 0, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c, w := testContext(http.MethodGet, "/")
	r.HTML(c, http.StatusOK, "sidebar", Page{})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestFuncMap(t *testing.T) {
	fm := FuncMap()
	indent := fm["indent"].(func(int) int)
	if indent(1) != 0 || indent(3) != 48 {
		t.Fatalf("indent = %d, %d", indent(1), indent(3))
	}
	if fm["add"].(func(int, int) int)(2, 3) != 5 || fm["sub"].(func(int, int) int)(2, 3) != -1 {
		t.Fatalf("add/sub")
	}
	ts := time.Date(2008, 9, 3, 10, 4, 5, 0, time.FixedZone("X", 3600))
	if got := fm["rfc3339"].(func(time.Time) string)(ts); got != "2008-09-03T09:04:05Z" {
		t.Fatalf("rfc3339 = %q", got)
	}
	if got := fm["date"].(func(time.Time, string) string)(ts, "2006-01-02"); got != "2008-09-03" {
		t.Fatalf("date = %q", got)
	}
}

func TestThemeDir(t *testing.T) {
	cfg := testConfig()
	if ThemeDir(cfg) != "" {
		t.Fatalf("theme dir without template dir")
	}
	cfg.TemplateDir = "/srv/themes"
	cfg.Theme = []string{"dark"}
	if got := ThemeDir(cfg); got != filepath.Join("/srv/themes", "dark") {
		t.Fatalf("ThemeDir = %q", got)
	}
}
