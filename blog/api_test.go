package blog

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/adonese/bloog/models"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLists(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "2008/09/hello", date(2008, 9, 3), "go", "web")
	env.seed(t, "2009/01/next", date(2009, 1, 3), "go")
	_, err := env.Store.GetOrCreateAuthor(context.Background(), "jane", "jane@example.com", "Jane Doe")
	require.NoError(t, err)

	w := env.do(http.MethodGet, "/api/tags", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"go","count":2},{"name":"web","count":1}]`, w.Body.String())

	w = env.do(http.MethodGet, "/api/years", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["2008","2009"]`, w.Body.String())

	w = env.do(http.MethodGet, "/api/authors", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"nick":"jane","email":"jane@example.com","name":"Jane Doe","article_count":0}]`, w.Body.String())
}

func TestArticleJSON(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "2008/09/hello", date(2008, 9, 3))

	w := env.do(http.MethodGet, "/api/articles/2008/09/hello", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Permalink string         `json:"permalink"`
		Article   models.Article `json:"article"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "2008/09/hello", got.Permalink)
	assert.Equal(t, "Title of 2008/09/hello", got.Article.Title)

	w = env.do(http.MethodGet, "/api/articles/2008/09/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"not_found"`)
}

func openArticle(t *testing.T, env *testEnv) *models.Article {
	t.Helper()
	return env.seed(t, "2008/09/hello", time.Now().Add(-time.Hour), "go")
}

func TestPostComment_Thread(t *testing.T) {
	env := newTestEnv(t)
	openArticle(t, env)

	w := env.postJSON("/2008/09/hello/comments", `{"name":"Ann","email":"ann@example.com","body":"<script>alert(1)</script>Hi <b>there</b>"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first models.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, 1, first.CommentID)
	assert.Equal(t, "000001", first.Thread)
	assert.Equal(t, "Hi <b>there</b>", first.Body)

	w = env.postJSON("/api/comments/2008/09/hello", `{"name":"Bob","body":"reply","reply_to":1}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reply models.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "000001.000002", reply.Thread)

	form := url.Values{"name": {"Cy"}, "body": {"from a browser"}}
	w = env.do(http.MethodPost, "/api/comments/2008/09/hello", form.Encode(), "Content-Type", "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, "/2008/09/hello#comment-3", w.Header().Get("Location"))

	w = env.do(http.MethodGet, "/2008/09/hello", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `id="comment-2" style="margin-left: 24px"`)
	assert.Contains(t, body, "Hi <b>there</b>")
	assert.NotContains(t, body, "<script>alert")
	assert.True(t, strings.Index(body, "comment-2") < strings.Index(body, "comment-3"))

	events := env.Notifier.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "http://blog.example.com/2008/09/hello", events[0].ArticleURL)
	assert.Equal(t, "Hi there", events[0].Body)

	a, err := env.Store.GetArticleByPermalink(context.Background(), "2008/09/hello")
	require.NoError(t, err)
	assert.Equal(t, 3, a.NumComments)
}

func TestPostComment_Errors(t *testing.T) {
	env := newTestEnv(t)
	openArticle(t, env)
	closed := env.seed(t, "2008/09/closed", time.Now())
	no := false
	closed.AllowComments = &no
	require.NoError(t, env.Store.UpdateArticle(context.Background(), closed))

	tests := []struct {
		name     string
		target   string
		body     string
		wantCode int
		wantErr  string
	}{
		{"closed", "/2008/09/closed/comments", `{"body":"hi"}`, http.StatusForbidden, "comments_closed"},
		{"unknown article", "/2008/09/none/comments", `{"body":"hi"}`, http.StatusNotFound, "not_found"},
		{"missing body", "/2008/09/hello/comments", `{"name":"x"}`, http.StatusBadRequest, "validation_error"},
		{"bad email", "/2008/09/hello/comments", `{"body":"hi","email":"nope"}`, http.StatusBadRequest, "validation_error"},
		{"only markup", "/2008/09/hello/comments", `{"body":"<script>x</script>"}`, http.StatusBadRequest, "validation_error"},
		{"unknown parent", "/2008/09/hello/comments", `{"body":"hi","reply_to":9}`, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.postJSON(tt.target, tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"code":"`+tt.wantErr+`"`)
		})
	}
	assert.Empty(t, env.Notifier.Events())
}

func TestPostComment_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	openArticle(t, env)
	// httptest requests come from 192.0.2.1
	for i := 0; i < 200; i++ {
		env.Service.Limiter.Allow("192.0.2.1")
	}
	w := env.postJSON("/2008/09/hello/comments", `{"body":"spam"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Empty(t, env.Notifier.Events())
}

func TestPostComment_RateLimitIgnoresForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	openArticle(t, env)
	for i := 0; i < 200; i++ {
		env.Service.Limiter.Allow("192.0.2.1")
	}
	for i := 1; i <= 5; i++ {
		w := env.do(http.MethodPost, "/2008/09/hello/comments", `{"body":"spam"}`,
			"Content-Type", "application/json", "X-Forwarded-For", "10.0.0."+strconv.Itoa(i))
		require.Equal(t, http.StatusTooManyRequests, w.Code, "forwarded for 10.0.0.%d", i)
	}
	assert.Empty(t, env.Notifier.Events())
}

func TestPostComment_TrustedProxyForwardsClient(t *testing.T) {
	env := newTestEnv(t, func(cfg *models.BloogConfig) {
		cfg.TrustedProxies = []string{"192.0.2.0/24"}
	})
	openArticle(t, env)
	for i := 0; i < 200; i++ {
		env.Service.Limiter.Allow("192.0.2.1")
	}
	w := env.do(http.MethodPost, "/2008/09/hello/comments", `{"body":"hello"}`,
		"Content-Type", "application/json", "X-Forwarded-For", "10.0.0.1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	for i := 0; i < 200; i++ {
		env.Service.Limiter.Allow("10.0.0.1")
	}
	w = env.do(http.MethodPost, "/2008/09/hello/comments", `{"body":"again"}`,
		"Content-Type", "application/json", "X-Forwarded-For", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
