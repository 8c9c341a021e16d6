package models

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Comment is a reply to an article or to another comment. Thread is the
// dot-joined path of zero-padded comment ids from the root, so ordering by
// Thread yields depth-first reply order.
type Comment struct {
	ID        uint   `json:"-" gorm:"primarykey"`
	ArticleID uint   `json:"-" gorm:"index;not null"`
	ParentID  *uint  `json:"-" gorm:"index"`
	CommentID int    `json:"comment_id" gorm:"not null"`
	Thread    string `json:"thread" gorm:"index;not null"`
	Name      string `json:"name"`
	Email     string `json:"-"`
	Homepage  string `json:"homepage,omitempty"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body" gorm:"not null"`

	Published time.Time `json:"published"`
}

const threadWidth = 6

// MaxCommentID is the largest comment id a thread segment holds. Past it
// segments grow a digit and thread order no longer sorts depth first.
const MaxCommentID = 999999

// ThreadSegment renders one comment id as a thread path element.
func ThreadSegment(commentID int) string {
	return fmt.Sprintf("%0*d", threadWidth, commentID)
}

// ChildThread is the thread path of a reply with commentID under parent.
// An empty parent means a root-level comment.
func ChildThread(parent string, commentID int) string {
	if parent == "" {
		return ThreadSegment(commentID)
	}
	return parent + "." + ThreadSegment(commentID)
}

// Indentation is the nesting depth; root-level comments have depth 1.
func (c Comment) Indentation() int {
	if c.Thread == "" {
		return 1
	}
	return strings.Count(c.Thread, ".") + 1
}

// ParentCommentID returns the comment id this comment replies to, or 0.
func (c Comment) ParentCommentID() int {
	i := strings.LastIndex(c.Thread, ".")
	if i < 0 {
		return 0
	}
	parent := c.Thread[:i]
	if j := strings.LastIndex(parent, "."); j >= 0 {
		parent = parent[j+1:]
	}
	n, _ := strconv.Atoi(parent)
	return n
}

// Gravatar returns the avatar URL for the commenter's email.
func (c Comment) Gravatar(size int) string {
	return GravatarURL(c.Email, size)
}

func GravatarURL(email string, size int) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	q := url.Values{}
	q.Set("d", "identicon")
	if size > 0 {
		q.Set("s", strconv.Itoa(size))
	}
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?" + q.Encode()
}

// CommentFields is the visitor payload for posting a comment. ReplyTo is
// the comment id being answered; zero posts at the root.
type CommentFields struct {
	Name     string `json:"name" form:"name" binding:"max=100"`
	Email    string `json:"email" form:"email" binding:"omitempty,email"`
	Homepage string `json:"homepage" form:"homepage" binding:"omitempty,url"`
	Title    string `json:"title" form:"title" binding:"max=200"`
	Body     string `json:"body" form:"body" binding:"required,max=20000"`
	ReplyTo  int    `json:"reply_to" form:"reply_to" binding:"min=0"`
}
