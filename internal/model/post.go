package model

import (
	"sort"
	"time"
)

type Post struct {
	ID          int64        `json:"id"`
	ChatID      int64        `json:"chatId"`
	Content     string       `json:"content"`
	CreatedBy   *UserSummary `json:"createdBy,omitempty"`
	CreatedDate time.Time    `json:"createdDate"`
	UpdatedBy   *UserSummary `json:"updatedBy,omitempty"`
	UpdatedDate *time.Time   `json:"updatedDate,omitempty"`
}

// AuthorID is 0 for posts without an author.
func (p *Post) AuthorID() int64 {
	if p.CreatedBy == nil {
		return 0
	}
	return p.CreatedBy.ID
}

type PostRequest struct {
	Content string `json:"content"`
}

// DayGroup is the posts of one calendar day, oldest first.
type DayGroup struct {
	Day   time.Time `json:"day"`
	Posts []Post    `json:"posts"`
}

// GroupByDay sorts posts by creation time and splits them by calendar day
// in loc (UTC when loc is nil).
func GroupByDay(posts []Post, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.UTC
	}
	sorted := make([]Post, len(posts))
	copy(sorted, posts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedDate.Equal(sorted[j].CreatedDate) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedDate.Before(sorted[j].CreatedDate)
	})

	var groups []DayGroup
	for _, p := range sorted {
		t := p.CreatedDate.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Posts = append(groups[n-1].Posts, p)
			continue
		}
		groups = append(groups, DayGroup{Day: day, Posts: []Post{p}})
	}
	return groups
}
