package site_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sitemodel "github.com/zhouzirui/site-forge/backend/internal/model/site"
	"github.com/zhouzirui/site-forge/backend/internal/service/site"
)

var slugPattern = regexp.MustCompile(`^[0-9A-Za-z]{8}$`)

func TestNewSlugShapeAndUniqueness(t *testing.T) {
	const n = 5000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		slug := site.NewSlug()
		require.Regexp(t, slugPattern, slug)
		_, dup := seen[slug]
		require.False(t, dup, "duplicate slug %q after %d draws", slug, i)
		seen[slug] = struct{}{}
	}
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	svc := site.NewService(sitemodel.NewMemoryStore(), site.Options{})
	ctx := context.Background()

	cases := []struct{ title, description, html string }{
		{"Demo", "A test site", "<html></html>"},
		{"Bakery", "Warm bread, unicode ✓ and emoji 🍞", "<!doctype html><html><body><h1>Hi</h1></body></html>"},
		{"Long", "x", "<html>" + strings.Repeat("<p>lorem ipsum</p>", 500) + "</html>"},
	}
	for _, tc := range cases {
		created, err := svc.Create(ctx, tc.title, tc.description, tc.html)
		require.NoError(t, err)
		require.Len(t, created.Slug, site.SlugLength)

		got, err := svc.Get(ctx, created.Slug)
		require.NoError(t, err)
		assert.Equal(t, tc.title, got.Title)
		assert.Equal(t, tc.description, got.Description)
		assert.Equal(t, tc.html, got.HTMLContent)
	}
}

func TestListReturnsEveryCreatedSite(t *testing.T) {
	svc := site.NewService(sitemodel.NewMemoryStore(), site.Options{})
	ctx := context.Background()

	const k = 25
	created := make([]string, 0, k)
	for i := 0; i < k; i++ {
		item, err := svc.Create(ctx, fmt.Sprintf("site %d", i), "desc", "<html></html>")
		require.NoError(t, err)
		created = append(created, item.Slug)
	}

	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, k)
	for i, item := range items {
		assert.Equal(t, created[i], item.Slug)
	}
}

func TestGetUnknownSlug(t *testing.T) {
	svc := site.NewService(sitemodel.NewMemoryStore(), site.Options{})
	_, err := svc.Get(context.Background(), "doesnotexist")
	require.ErrorIs(t, err, sitemodel.ErrNotFound)
}

func TestCreateRetriesOnSlugCollision(t *testing.T) {
	store := sitemodel.NewMemoryStore()
	slugs := []string{"taken001", "taken001", "fresh002"}
	var calls int
	svc := site.NewService(store, site.Options{NewSlug: func() string {
		s := slugs[calls]
		calls++
		return s
	}})
	ctx := context.Background()

	first, err := svc.Create(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Equal(t, "taken001", first.Slug)

	second, err := svc.Create(ctx, "d", "e", "f")
	require.NoError(t, err)
	require.Equal(t, "fresh002", second.Slug)
	require.Equal(t, 3, calls)
}

func TestCreateGivesUpAfterBoundedAttempts(t *testing.T) {
	store := sitemodel.NewMemoryStore()
	var calls int
	svc := site.NewService(store, site.Options{
		SlugAttempts: 3,
		NewSlug: func() string {
			calls++
			return "always01"
		},
	})
	ctx := context.Background()

	_, err := svc.Create(ctx, "a", "b", "c")
	require.NoError(t, err)
	calls = 0

	_, err = svc.Create(ctx, "a", "b", "c")
	require.ErrorIs(t, err, site.ErrSlugExhausted)
	require.ErrorIs(t, err, sitemodel.ErrConflict)
	require.Equal(t, 3, calls)
}

func TestCreateValidatesInput(t *testing.T) {
	svc := site.NewService(sitemodel.NewMemoryStore(), site.Options{})
	_, err := svc.Create(context.Background(), " ", "desc", "<html></html>")
	require.ErrorIs(t, err, site.ErrInvalidInput)
}

type failingStore struct{ sitemodel.Store }

func (failingStore) Insert(context.Context, *sitemodel.Site) error { return errors.New("disk full") }

func TestCreatePropagatesStoreErrors(t *testing.T) {
	svc := site.NewService(failingStore{sitemodel.NewMemoryStore()}, site.Options{})
	_, err := svc.Create(context.Background(), "a", "b", "c")
	require.Error(t, err)
	require.NotErrorIs(t, err, sitemodel.ErrConflict)
	require.Contains(t, err.Error(), "disk full")
}

func TestPermanentURL(t *testing.T) {
	relative := site.NewService(sitemodel.NewMemoryStore(), site.Options{})
	assert.Equal(t, "/sites/abc12345", relative.PermanentURL("abc12345"))

	absolute := site.NewService(sitemodel.NewMemoryStore(), site.Options{PublicBaseURL: "https://sites.example.com/"})
	assert.Equal(t, "https://sites.example.com/sites/abc12345", absolute.PermanentURL("abc12345"))
}
