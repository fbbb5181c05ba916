package site

import (
	"errors"
	"time"
)

var (
	// ErrNotFound 没有与 slug 匹配的站点
	ErrNotFound = errors.New("site not found")
	// ErrConflict slug 已被占用
	ErrConflict = errors.New("site slug already exists")
)

// Site 已保存的生成站点，插入后除 UpdatedAt 外不可变
type Site struct {
	ID          int64     `json:"-"`
	Slug        string    `json:"url_slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	HTMLContent string    `json:"html_content"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary 列表用的站点摘要，不含 HTML
type Summary struct {
	Slug        string    `json:"url_slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary 转为列表摘要
func (s Site) Summary() Summary {
	return Summary{
		Slug:        s.Slug,
		Title:       s.Title,
		Description: s.Description,
		CreatedAt:   s.CreatedAt,
	}
}
