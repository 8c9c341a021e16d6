package models

import (
	"fmt"
	"strings"
	"time"
)

// Tag exists once per tag name. Its article count is kept in the counter
// named by CounterName.
type Tag struct {
	ID        uint      `json:"-" gorm:"primarykey"`
	Name      string    `json:"name" gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `json:"-"`
}

func TagCounterName(name string) string {
	return "Tag" + name
}

func (t Tag) CounterName() string {
	return TagCounterName(t.Name)
}

// TagCount is an element of the aggregate tag list.
type TagCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Year records that at least one article was published in that year.
// Key is "Y" + the four digit year.
type Year struct {
	ID  uint   `gorm:"primarykey"`
	Key string `gorm:"uniqueIndex;not null"`
}

// YearsCacheKey holds the comma-joined list of all years.
const YearsCacheKey = "PS_Year_ALL"

func YearKey(year int) string {
	return fmt.Sprintf("Y%04d", year)
}

func (y Year) Value() string {
	return strings.TrimPrefix(y.Key, "Y")
}

// CounterShard is one shard of a named aggregate counter.
type CounterShard struct {
	ID    uint   `gorm:"primarykey"`
	Name  string `gorm:"uniqueIndex:idx_counter_shard;not null"`
	Shard int    `gorm:"uniqueIndex:idx_counter_shard;not null"`
	Count int64  `gorm:"not null;default:0"`
}
