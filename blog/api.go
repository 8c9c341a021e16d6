package blog

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adonese/bloog/apperr"
	"github.com/adonese/bloog/markup"
	"github.com/adonese/bloog/models"
	"github.com/adonese/bloog/notify"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func (s *Service) Tags(c *gin.Context) {
	tags, err := s.Store.ListTags(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

func (s *Service) Years(c *gin.Context) {
	years, err := s.Store.AllYears(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, years)
}

func (s *Service) Authors(c *gin.Context) {
	authors, err := s.Store.ListAuthors(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, authors)
}

// ArticleJSON returns an article with its comments in thread order.
func (s *Service) ArticleJSON(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.Store.GetArticleByPermalink(ctx, strings.Trim(c.Param("permalink"), "/"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if a.Comments, err = s.Store.Comments(ctx, a.ID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permalink": a.Permalink(), "article": a})
}

func commentPermalink(c *gin.Context) string {
	if p := c.Param("permalink"); p != "" {
		return strings.Trim(p, "/")
	}
	return strings.Join([]string{c.Param("year"), c.Param("month"), c.Param("slug")}, "/")
}

// PostComment adds a visitor comment, as a reply when reply_to names an
// existing comment. Browsers are sent back to the article, API clients get
// the stored comment.
func (s *Service) PostComment(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := s.Store.GetArticleByPermalink(ctx, commentPermalink(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !a.CommentsOpen(time.Now(), s.BloogConfig.DaysCanComment) {
		s.fail(c, apperr.ErrCommentsClosed)
		return
	}
	var req models.CommentFields
	if err := c.ShouldBind(&req); err != nil {
		s.fail(c, models.ValidationError(err))
		return
	}
	body := strings.TrimSpace(markup.SanitizeComment(req.Body))
	if body == "" {
		e := apperr.WithFields(apperr.ErrValidation, map[string]any{"body": "required"})
		e.Message = "comment is empty"
		s.fail(c, e)
		return
	}
	comment := models.Comment{
		Name:      strings.TrimSpace(req.Name),
		Email:     strings.TrimSpace(req.Email),
		Homepage:  strings.TrimSpace(req.Homepage),
		Title:     strings.TrimSpace(req.Title),
		Body:      body,
		Published: time.Now().UTC(),
	}
	if err := s.Store.AddComment(ctx, a.Key, req.ReplyTo, &comment); err != nil {
		s.fail(c, err)
		return
	}
	s.Views.Invalidate()
	commentsPosted.Inc()
	s.Logger.WithFields(logrus.Fields{
		"article":    a.Key,
		"comment_id": comment.CommentID,
		"thread":     comment.Thread,
	}).Info("comment posted")

	if s.BloogConfig.SendCommentNotification {
		s.Notifier.Notify(ctx, notify.CommentEvent{
			ArticleTitle: a.Title,
			ArticleURL:   a.FullPermalink(s.BloogConfig.RootURL),
			CommentID:    comment.CommentID,
			Name:         comment.Name,
			Email:        comment.Email,
			Homepage:     comment.Homepage,
			Body:         markup.StripTags(comment.Body),
			Published:    comment.Published,
		})
	}

	if wantsJSON(c) {
		c.JSON(http.StatusCreated, comment)
		return
	}
	c.Redirect(http.StatusSeeOther, "/"+a.Permalink()+"#comment-"+strconv.Itoa(comment.CommentID))
}
