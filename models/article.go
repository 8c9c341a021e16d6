package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	TypeArticle   = "article"
	TypeBlogEntry = "blog entry"

	FormatHTML     = "html"
	FormatTextile  = "textile"
	FormatMarkdown = "markdown"
	FormatText     = "text"

	rfc3339Layout = "2006-01-02T15:04:05Z"
)

var (
	ArticleTypes  = []string{TypeArticle, TypeBlogEntry}
	MarkupFormats = []string{FormatHTML, FormatTextile, FormatMarkdown, FormatText}
)

// Article is keyed by "/" + permalink. Comments hang off it through
// Comment.ArticleID.
type Article struct {
	ID          uint    `json:"-" gorm:"primarykey"`
	Key         string  `json:"-" gorm:"uniqueIndex;not null"`
	AuthorID    *uint   `json:"-" gorm:"index"`
	Author      *Author `json:"author,omitempty"`
	LegacyID    string  `json:"legacy_id,omitempty" gorm:"index"`
	Title       string  `json:"title" gorm:"not null"`
	ArticleType string  `json:"article_type" gorm:"not null;index"`
	// Body is in Format; HTML is generated from it.
	Body    string `json:"body" gorm:"not null"`
	Excerpt string `json:"excerpt,omitempty"`
	HTML    string `json:"html"`

	Published time.Time `json:"published" gorm:"index"`
	Updated   time.Time `json:"updated"`
	Format    string    `json:"format" gorm:"not null"`

	AssocData []byte `json:"-"`
	// NumComments avoids a count query when listing headlines.
	NumComments int `json:"num_comments" gorm:"not null;default:0"`
	// NextCommentID only grows, so comment ids stay unique after deletes.
	NextCommentID int      `json:"-" gorm:"not null;default:1"`
	Tags          []string `json:"tags" gorm:"serializer:json"`
	AllowComments *bool    `json:"allow_comments,omitempty"`
	// EmbeddedCode lists the languages of code blocks in the body, used to
	// pick syntax highlighting brushes.
	EmbeddedCode []string `json:"embedded_code,omitempty" gorm:"serializer:json"`

	Comments []Comment `json:"comments,omitempty" gorm:"-"`
}

// KeyFor turns a permalink into an article key.
func KeyFor(permalink string) string {
	return "/" + strings.Trim(permalink, "/")
}

func (a Article) Permalink() string {
	return strings.TrimPrefix(a.Key, "/")
}

func (a Article) FullPermalink(rootURL string) string {
	return strings.TrimSuffix(rootURL, "/") + "/" + a.Permalink()
}

func (a Article) RFC3339Published() string {
	return a.Published.UTC().Format(rfc3339Layout)
}

func (a Article) RFC3339Updated() string {
	return a.Updated.UTC().Format(rfc3339Layout)
}

// IsBig guesses whether the article needs the wide layout.
func (a Article) IsBig() bool {
	guessChars := len(a.HTML) + a.NumComments*80
	return guessChars > 2000 ||
		len(a.EmbeddedCode) > 0 ||
		strings.Contains(a.HTML, "<img") ||
		strings.Contains(a.HTML, "<code>") ||
		strings.Contains(a.HTML, "<pre>")
}

var bareAmp = regexp.MustCompile(`&(amp;)?`)

// AtomXML returns the html with bare ampersands escaped for an Atom feed.
func (a Article) AtomXML() string {
	return bareAmp.ReplaceAllStringFunc(a.HTML, func(m string) string {
		if m == "&amp;" {
			return m
		}
		return "&amp;"
	})
}

// SetAssociatedData stores per-article side data such as related links.
func (a *Article) SetAssociatedData(data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	a.AssocData = b
	return nil
}

// AssociatedData decodes the side data into dst. A missing blob leaves dst
// untouched.
func (a Article) AssociatedData(dst any) error {
	if len(a.AssocData) == 0 {
		return nil
	}
	return json.Unmarshal(a.AssocData, dst)
}

// CommentsOpen reports whether visitors may still comment at now.
func (a Article) CommentsOpen(now time.Time, daysCanComment int) bool {
	if a.AllowComments != nil {
		return *a.AllowComments
	}
	if daysCanComment <= 0 {
		return true
	}
	return now.Sub(a.Published) <= time.Duration(daysCanComment)*24*time.Hour
}

// HasTag reports whether the article carries tag.
func (a Article) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ArticleFields is the admin payload for creating or editing an article.
type ArticleFields struct {
	Title         string         `json:"title" form:"title" binding:"required,max=500"`
	Permalink     string         `json:"permalink" form:"permalink" binding:"omitempty,permalink"`
	ArticleType   string         `json:"article_type" form:"article_type" binding:"required,articletype"`
	Format        string         `json:"format" form:"format" binding:"required,markupformat"`
	Body          string         `json:"body" form:"body" binding:"required"`
	Excerpt       string         `json:"excerpt" form:"excerpt"`
	Tags          []string       `json:"tags" form:"tags"`
	AllowComments *bool          `json:"allow_comments" form:"allow_comments"`
	LegacyID      string         `json:"legacy_id" form:"legacy_id"`
	Published     *time.Time     `json:"published" form:"published" time_format:"2006-01-02T15:04:05Z07:00"`
	AuthorNick    string         `json:"author" form:"author"`
	AssocData     map[string]any `json:"assoc_data"`
}

// NormalizedTags trims, lowercases and de-duplicates tags keeping order.
func NormalizedTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		for _, part := range strings.Split(raw, ",") {
			t := strings.ToLower(strings.TrimSpace(part))
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
