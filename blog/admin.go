package blog

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	gateway "github.com/adonese/bloog/apigateway"
	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/markup"
	"github.com/adonese/bloog/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// Login exchanges the admin credentials for a bearer token.
func (s *Service) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		s.fail(c, models.ValidationError(err))
		return
	}
	if !s.AdminAuth.CheckPassword(req.Username, req.Password) {
		s.Logger.WithFields(logrus.Fields{"user": req.Username, "ip": c.ClientIP()}).Warn("admin login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "message": "wrong username or password"})
		return
	}
	token, err := s.Auth.GenerateJWT(req.Username)
	if err != nil {
		s.fail(c, apperr.Wrap(err, apperr.ErrInternal, "issue token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "username": req.Username})
}

// CreateArticle stores a new article. Without a permalink one is derived
// from the publication date and the title.
func (s *Service) CreateArticle(c *gin.Context) {
	var req models.ArticleFields
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, models.ValidationError(err))
		return
	}
	ctx := c.Request.Context()
	a := &models.Article{}
	if err := s.applyFields(ctx, a, req); err != nil {
		s.fail(c, err)
		return
	}
	permalink := req.Permalink
	if permalink == "" {
		permalink = markup.Permalink(a.Published, a.Title)
	}
	a.Key = models.KeyFor(permalink)
	if err := s.Store.CreateArticle(ctx, a); err != nil {
		s.fail(c, err)
		return
	}
	s.Views.Invalidate()
	s.Logger.WithFields(logrus.Fields{"article": a.Key, "admin": c.GetString(gateway.AdminUserKey)}).Info("article created")
	c.JSON(http.StatusCreated, gin.H{"permalink": a.Permalink(), "article": a})
}

// UpdateArticle replaces the editable fields of an article. A new
// permalink moves it.
func (s *Service) UpdateArticle(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.Store.GetArticleByPermalink(ctx, strings.Trim(c.Param("permalink"), "/"))
	if err != nil {
		s.fail(c, err)
		return
	}
	var req models.ArticleFields
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, models.ValidationError(err))
		return
	}
	if err := s.applyFields(ctx, a, req); err != nil {
		s.fail(c, err)
		return
	}
	if req.Permalink != "" {
		a.Key = models.KeyFor(req.Permalink)
	}
	a.Updated = time.Now().UTC()
	if err := s.Store.UpdateArticle(ctx, a); err != nil {
		s.fail(c, err)
		return
	}
	s.Views.Invalidate()
	s.Logger.WithFields(logrus.Fields{"article": a.Key, "admin": c.GetString(gateway.AdminUserKey)}).Info("article updated")
	c.JSON(http.StatusOK, gin.H{"permalink": a.Permalink(), "article": a})
}

// applyFields renders the body and copies req onto a.
func (s *Service) applyFields(ctx context.Context, a *models.Article, req models.ArticleFields) error {
	html, err := markup.Render(req.Format, req.Body)
	if err != nil {
		return apperr.WithFields(apperr.Wrap(err, apperr.ErrValidation, "invalid body"), map[string]any{"format": "markupformat"})
	}
	a.Title = strings.TrimSpace(req.Title)
	a.ArticleType = req.ArticleType
	a.Format = req.Format
	a.Body = req.Body
	a.HTML = html
	a.Excerpt = req.Excerpt
	a.EmbeddedCode = markup.EmbeddedCode(html)
	a.Tags = models.NormalizedTags(req.Tags)
	a.AllowComments = req.AllowComments
	if req.LegacyID != "" {
		a.LegacyID = req.LegacyID
	}
	switch {
	case req.Published != nil:
		a.Published = req.Published.UTC()
	case a.Published.IsZero():
		a.Published = time.Now().UTC()
	}
	if req.AssocData != nil {
		if err := a.SetAssociatedData(req.AssocData); err != nil {
			return apperr.Wrap(err, apperr.ErrValidation, "invalid assoc_data")
		}
	}
	return s.assignAuthor(ctx, a, req.AuthorNick)
}

// assignAuthor sets the named author, or the configured author of the blog
// when the article has none yet.
func (s *Service) assignAuthor(ctx context.Context, a *models.Article, nick string) error {
	if nick != "" {
		author, err := s.Store.GetAuthor(ctx, nick)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.WithFields(apperr.Newf(apperr.ErrValidation, "unknown author %q", nick), map[string]any{"author": "exists"})
		}
		if err != nil {
			return err
		}
		a.AuthorID, a.Author = &author.ID, author
		return nil
	}
	if a.AuthorID != nil {
		return nil
	}
	info, ok := s.BloogConfig.AuthorFor(s.BloogConfig.Email)
	if !ok {
		// the upgrade assigns authors later
		return nil
	}
	author, err := s.Store.GetOrCreateAuthor(ctx, info.Nick, s.BloogConfig.Email, info.Name)
	if err != nil {
		return err
	}
	a.AuthorID, a.Author = &author.ID, author
	return nil
}

func (s *Service) DeleteArticle(c *gin.Context) {
	permalink := strings.Trim(c.Param("permalink"), "/")
	if err := s.Store.DeleteArticle(c.Request.Context(), models.KeyFor(permalink)); err != nil {
		s.fail(c, err)
		return
	}
	s.Views.Invalidate()
	s.Logger.WithFields(logrus.Fields{"article": permalink, "admin": c.GetString(gateway.AdminUserKey)}).Info("article deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": permalink})
}

// DeleteComment removes a comment and its replies. The article is given by
// its url-escaped permalink.
func (s *Service) DeleteComment(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		s.fail(c, apperr.Newf(apperr.ErrBadRequest, "invalid comment id %q", c.Param("id")))
		return
	}
	permalink := strings.Trim(c.Param("article"), "/")
	n, err := s.Store.DeleteComment(c.Request.Context(), models.KeyFor(permalink), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.Views.Invalidate()
	s.Logger.WithFields(logrus.Fields{"article": permalink, "comment_id": id, "removed": n}).Info("comment deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Service) DeleteTag(c *gin.Context) {
	name := c.Param("name")
	if err := s.Store.DeleteTag(c.Request.Context(), name); err != nil {
		s.fail(c, err)
		return
	}
	s.Views.Invalidate()
	c.JSON(http.StatusOK, gin.H{"deleted": strings.ToLower(name)})
}

type upgradePage struct {
	FirstPhase    int
	SchemaVersion int
}

// Upgrade renders the upgrade page, or with ?phase= runs one upgrade step
// and reports the progress as JSON.
func (s *Service) Upgrade(c *gin.Context) {
	phaseParam, ok := c.GetQuery("phase")
	if !ok {
		p := s.page(c, "Upgrade", upgradePage{FirstPhase: 1, SchemaVersion: models.SchemaVersion})
		p.Private = true
		s.Views.HTML(c, http.StatusOK, "upgrade", p)
		return
	}
	phase, err := strconv.Atoi(phaseParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, apperr.Payload(apperr.Newf(apperr.ErrBadRequest, "invalid phase %q", phaseParam)))
		return
	}
	progress, err := s.Upgrader.Step(c.Request.Context(), phase, c.Query("next"))
	if err != nil {
		s.Logger.WithFields(logrus.Fields{"phase": phase, "error": err.Error()}).Error("upgrade step")
		c.JSON(apperr.Status(err), apperr.Payload(err))
		return
	}
	if progress.Done {
		s.Views.Invalidate()
		c.JSON(http.StatusOK, gin.H{"done": true, "schema_version": models.SchemaVersion})
		return
	}
	c.JSON(http.StatusOK, progress)
}
