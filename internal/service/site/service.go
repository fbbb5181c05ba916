package site

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/site-forge/backend/internal/metrics"
	"github.com/zhouzirui/site-forge/backend/internal/model/site"
)

var (
	// ErrInvalidInput 必填字段为空
	ErrInvalidInput = errors.New("title, description and html_content are required")
	// ErrSlugExhausted 所有尝试的 slug 都冲突，包装 site.ErrConflict
	ErrSlugExhausted = errors.Wrap(site.ErrConflict, "no free slug after retries")
)

// DefaultSlugAttempts Create 放弃前最多尝试的 slug 数
const DefaultSlugAttempts = 5

// Options Service 配置
type Options struct {
	// PublicBaseURL 永久链接前缀，为空时返回相对路径 "/sites/<slug>"
	PublicBaseURL string
	SlugAttempts  int
	// NewSlug 替换 slug 生成器，主要用于测试
	NewSlug func() string
}

// Service 站点的创建与读取
type Service struct {
	store        site.Store
	baseURL      string
	slugAttempts int
	newSlug      func() string
}

// NewService 包装 store
func NewService(store site.Store, opts Options) *Service {
	attempts := opts.SlugAttempts
	if attempts < 1 {
		attempts = DefaultSlugAttempts
	}
	gen := opts.NewSlug
	if gen == nil {
		gen = NewSlug
	}
	return &Service{
		store:        store,
		baseURL:      strings.TrimRight(opts.PublicBaseURL, "/"),
		slugAttempts: attempts,
		newSlug:      gen,
	}
}

// Create 以新 slug 保存站点，冲突时换 slug 重试
func (s *Service) Create(ctx context.Context, title, description, html string) (site.Site, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(description) == "" || strings.TrimSpace(html) == "" {
		return site.Site{}, ErrInvalidInput
	}

	for attempt := 1; attempt <= s.slugAttempts; attempt++ {
		item := site.Site{
			Slug:        s.newSlug(),
			Title:       title,
			Description: description,
			HTMLContent: html,
		}

		err := s.store.Insert(ctx, &item)
		switch {
		case err == nil:
			metrics.SitesCreated.Inc()
			log.Info().
				Str("slug", item.Slug).
				Int("html_bytes", len(html)).
				Int("attempt", attempt).
				Msg("site saved")
			return item, nil
		case errors.Is(err, site.ErrConflict):
			metrics.SlugConflicts.Inc()
			log.Warn().Str("slug", item.Slug).Int("attempt", attempt).Msg("slug collision, regenerating")
			continue
		default:
			return site.Site{}, errors.Wrap(err, "save site")
		}
	}

	log.Error().Int("attempts", s.slugAttempts).Msg("giving up on slug generation")
	return site.Site{}, ErrSlugExhausted
}

// Get 返回 slug 对应站点，不存在时返回 site.ErrNotFound
func (s *Service) Get(ctx context.Context, slug string) (site.Site, error) {
	item, err := s.store.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, site.ErrNotFound) {
			return site.Site{}, err
		}
		return site.Site{}, errors.Wrapf(err, "load site %s", slug)
	}
	return item, nil
}

// List 返回全部站点元数据，最早的在前
func (s *Service) List(ctx context.Context) ([]site.Summary, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list sites")
	}
	return items, nil
}

// PermanentURL 站点的访问地址
func (s *Service) PermanentURL(slug string) string {
	return s.baseURL + "/sites/" + slug
}
