package site

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store 以 slug 为键持久化生成的站点
type Store interface {
	// Insert 写入 s 并回填 ID 与时间戳；slug 冲突时返回 ErrConflict
	Insert(ctx context.Context, s *Site) error
	FindBySlug(ctx context.Context, slug string) (Site, error)
	// List 按创建时间升序返回元数据
	List(ctx context.Context) ([]Summary, error)
	Close() error
}

// MemoryStore 进程内 Store，用于测试和临时部署
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	items  map[string]Site
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Site),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Insert slug 不存在时添加
func (s *MemoryStore) Insert(_ context.Context, item *Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.Slug]; ok {
		return ErrConflict
	}

	s.nextID++
	now := s.now()
	item.ID = s.nextID
	item.CreatedAt = now
	item.UpdatedAt = now
	s.items[item.Slug] = *item
	return nil
}

// FindBySlug 按 slug 精确查找
func (s *MemoryStore) FindBySlug(_ context.Context, slug string) (Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[slug]
	if !ok {
		return Site{}, ErrNotFound
	}
	return item, nil
}

// List 按插入顺序返回摘要
func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	sites := make([]Site, 0, len(s.items))
	for _, item := range s.items {
		sites = append(sites, item)
	}
	s.mu.RUnlock()

	sort.Slice(sites, func(i, j int) bool { return sites[i].ID < sites[j].ID })

	out := make([]Summary, 0, len(sites))
	for _, item := range sites {
		out = append(out, item.Summary())
	}
	return out, nil
}

// Close 无操作
func (s *MemoryStore) Close() error { return nil }
