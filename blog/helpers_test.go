package blog

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gateway "github.com/adonese/bloog/apigateway"
	"github.com/adonese/bloog/cache"
	"github.com/adonese/bloog/models"
	"github.com/adonese/bloog/notify"
	"github.com/adonese/bloog/store"
	"github.com/adonese/bloog/upgrade"
	"github.com/adonese/bloog/view"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
	binding.Validator = models.DefaultValidator{}
}

const adminKey = "admin-key"

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.CommentEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.CommentEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []notify.CommentEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.CommentEvent(nil), n.events...)
}

type testEnv struct {
	Router   *gin.Engine
	Service  *Service
	Store    *store.Store
	Notifier *recordingNotifier
}

// newTestEnv builds the service over a fresh database. opts adjust the
// blog config before anything is built from it.
func newTestEnv(t *testing.T, opts ...func(*models.BloogConfig)) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st := store.New(db, cache.NewMemoryCache(0), logger)

	cfg := models.BloogConfig{
		Title:                   "Test Blog",
		Author:                  "Jane Doe",
		Email:                   "jane@example.com",
		RootURL:                 "http://blog.example.com/",
		Authors:                 map[string]models.AuthorInfo{"jane@example.com": {Name: "Jane Doe", Nick: "jane"}},
		SendCommentNotification: true,
		LegacyBlogSoftware:      "drupal",
		LegacyEntryRedirect:     true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.Defaults()

	views, err := view.New("", cache.NewMemoryCache(0), cfg.CacheDuration(), logger)
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	notes := &recordingNotifier{}
	svc := &Service{
		Store:       st,
		Views:       views,
		Upgrader:    upgrade.NewRunner(st, cfg, logger),
		Notifier:    notes,
		Auth:        &gateway.JWTAuth{Key: []byte("test-secret")},
		AdminAuth:   gateway.AdminAuthConfig{Key: adminKey, User: "admin", PasswordHash: string(hash)},
		Limiter:     gateway.NewRateLimiter(600, 100),
		Logger:      logger,
		BloogConfig: cfg,
	}
	r := gin.New()
	svc.Register(r)
	return &testEnv{Router: r, Service: svc, Store: st, Notifier: notes}
}

// do sends a request; headers are given as name, value pairs.
func (e *testEnv) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(target, body string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, target, body, "Content-Type", "application/json")
}

func (e *testEnv) admin(method, target, body string) *httptest.ResponseRecorder {
	return e.do(method, target, body, "Content-Type", "application/json", "X-Admin-Key", adminKey)
}

func (e *testEnv) seed(t *testing.T, permalink string, published time.Time, tags ...string) *models.Article {
	t.Helper()
	a := &models.Article{
		Key:         models.KeyFor(permalink),
		Title:       "Title of " + permalink,
		ArticleType: models.TypeBlogEntry,
		Body:        "Body of " + permalink,
		HTML:        "<p>Body of " + permalink + "</p>",
		Format:      models.FormatHTML,
		Published:   published,
		Tags:        tags,
	}
	require.NoError(t, e.Store.CreateArticle(context.Background(), a))
	return a
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 12, 0, 0, 0, time.UTC)
}
