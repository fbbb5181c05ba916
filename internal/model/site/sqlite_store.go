package site

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// timestampLayout 定宽，created_at 按字典序即按时间排序
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore 基于 SQLite 的 Store，slug 唯一性由 websites.url_slug 的 UNIQUE 约束保证
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore 打开 dsn 并建表
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite site store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite site store: open")
	}
	// 单连接：写串行化，:memory: 库在调用间共享
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close 释放数据库句柄
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS websites (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url_slug TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			html_content TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS websites_by_created_at ON websites(created_at, id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite site store: migrate")
		}
	}
	return nil
}

// Insert 在独立事务中写入
func (s *SQLiteStore) Insert(ctx context.Context, item *Site) error {
	if item == nil || item.Slug == "" {
		return errors.New("sqlite site store: slug is required")
	}

	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite site store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO websites (url_slug, title, description, html_content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		item.Slug, item.Title, item.Description, item.HTMLContent,
		now.Format(timestampLayout), now.Format(timestampLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return errors.Wrapf(err, "sqlite site store: insert slug=%s", item.Slug)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "sqlite site store: last insert id")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite site store: commit")
	}

	item.ID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

// FindBySlug 精确匹配 slug；默认 BINARY 排序规则区分大小写
func (s *SQLiteStore) FindBySlug(ctx context.Context, slug string) (Site, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url_slug, title, description, html_content, created_at, updated_at FROM websites WHERE url_slug = ?`, slug)

	var (
		item      Site
		createdAt string
		updatedAt string
	)
	switch err := row.Scan(&item.ID, &item.Slug, &item.Title, &item.Description, &item.HTMLContent, &createdAt, &updatedAt); {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return Site{}, ErrNotFound
	default:
		return Site{}, errors.Wrapf(err, "sqlite site store: find slug=%s", slug)
	}

	var err error
	if item.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return Site{}, err
	}
	if item.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return Site{}, err
	}
	return item, nil
}

// List 按创建时间、id 升序返回摘要
func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url_slug, title, description, created_at FROM websites ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite site store: list")
	}
	defer func() { _ = rows.Close() }()

	out := make([]Summary, 0)
	for rows.Next() {
		var (
			item      Summary
			createdAt string
		)
		if err := rows.Scan(&item.Slug, &item.Title, &item.Description, &createdAt); err != nil {
			return nil, errors.Wrap(err, "sqlite site store: scan")
		}
		if item.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite site store: rows")
	}
	return out, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "sqlite site store: bad timestamp %q", raw)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
