package models

import "time"

// SchemaVersion is the current article/comment schema. Rows in the legacy
// tables are version 1 and are moved over by the upgrade phases.
const SchemaVersion = 2

// LegacyArticle is a version 1 article: the permalink was a plain
// property and comments pointed at the article instead of being nested.
type LegacyArticle struct {
	ID            uint      `gorm:"primarykey"`
	Permalink     string    `gorm:"index"`
	LegacyID      string
	Title         string    `gorm:"not null"`
	ArticleType   string    `gorm:"not null"`
	Body          string    `gorm:"not null"`
	Excerpt       string
	HTML          string
	Published     time.Time
	Updated       time.Time
	Format        string
	AssocData     []byte
	NumComments   int
	Tags          []string `gorm:"serializer:json"`
	AllowComments *bool
	EmbeddedCode  []string `gorm:"serializer:json"`
}

// LegacyComment is a version 1 comment. Thread is a dotted path of
// positions such as "1", "1.2", "1.2.1".
type LegacyComment struct {
	ID        uint   `gorm:"primarykey"`
	ArticleID uint   `gorm:"index;not null"`
	Thread    string `gorm:"not null"`
	Name      string
	Email     string
	Homepage  string
	Title     string
	Body      string `gorm:"not null"`
	Published time.Time
}

// ParentThread is the thread of the comment this one replies to, or "" for
// a root comment.
func (c LegacyComment) ParentThread() string {
	for i := len(c.Thread) - 1; i >= 0; i-- {
		if c.Thread[i] == '.' {
			return c.Thread[:i]
		}
	}
	return ""
}
