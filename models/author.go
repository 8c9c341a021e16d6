package models

import "time"

// Author is keyed by nick. ArticleCount is denormalized so the author list
// never has to count articles.
type Author struct {
	ID           uint      `json:"-" gorm:"primarykey"`
	Nick         string    `json:"nick" gorm:"uniqueIndex;not null"`
	Email        string    `json:"email" gorm:"not null"`
	Name         string    `json:"name" gorm:"not null"`
	ArticleCount int       `json:"article_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}
