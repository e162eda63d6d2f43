package models

import "time"

// DatetimeLayout renders timestamps the way the board's JSON has always
// shown them; a " UTC" suffix is appended.
const DatetimeLayout = "2006-01-02 15:04:05"

func FormatDatetime(t time.Time) string {
	return t.UTC().Format(DatetimeLayout) + " UTC"
}

type Post struct {
	ID        int64          `json:"post_id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Email     string         `json:"email"`
	Datetime  string         `json:"datetime"`
	Image     string         `json:"image"`
	Comments  []Comment      `json:"comments"`
	Reactions map[string]int `json:"reactions"`
}

type Comment struct {
	Email    string `json:"email"`
	Content  string `json:"content"`
	Datetime string `json:"datetime"`
}

// NewPost is what an upload hands to the store.
type NewPost struct {
	Title   string
	Content string
	Image   string
	Email   string
}
