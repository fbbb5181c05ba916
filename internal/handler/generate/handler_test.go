package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/site-forge/backend/internal/model/generation"
	"github.com/zhouzirui/site-forge/backend/internal/service/ai"
)

type fakeGenerator struct {
	got    generation.Request
	result generation.Result
	chunks []string
	err    error
	// failAfterChunks 为真时先推送 chunks 再返回 err
	failAfterChunks bool
}

func (f *fakeGenerator) GenerateHTML(_ context.Context, req generation.Request) (generation.Result, error) {
	f.got = req
	return f.result, f.err
}

func (f *fakeGenerator) StreamHTML(_ context.Context, req generation.Request, onChunk func(string) error) (generation.Result, error) {
	f.got = req
	if f.err != nil && !f.failAfterChunks {
		return generation.Result{}, f.err
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return generation.Result{}, err
		}
	}
	return f.result, f.err
}

func setupRouter(gen Generator) *chi.Mux {
	r := chi.NewRouter()
	New(gen).RegisterRoutes(r)
	return r
}

type upload struct {
	name, contentType string
	data              []byte
}

func multipartBody(t *testing.T, description string, uploads ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if description != "" {
		require.NoError(t, w.WriteField("description", description))
	}
	for _, u := range uploads {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="inspiration_images"; filename="`+u.name+`"`)
		h.Set("Content-Type", u.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestGenerateReturnsHTML(t *testing.T) {
	gen := &fakeGenerator{result: generation.Result{HTML: "<html>bakery</html>"}}
	body, ct := multipartBody(t, "a bakery",
		upload{"a.png", "image/png", []byte("png-bytes")},
		upload{"b.jpg", "image/jpeg", []byte("jpg-bytes")},
	)

	req := httptest.NewRequest(http.MethodPost, "/generate-website", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	setupRouter(gen).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "<html>bakery</html>", resp["html"])
	assert.NotContains(t, resp, "image_errors")

	assert.Equal(t, "a bakery", gen.got.Description)
	require.Len(t, gen.got.Images, 2)
	assert.Equal(t, "a.png", gen.got.Images[0].Filename)
	assert.Equal(t, "image/png", gen.got.Images[0].ContentType)
	assert.Equal(t, []byte("jpg-bytes"), gen.got.Images[1].Data)
}

func TestGenerateReportsImageErrors(t *testing.T) {
	gen := &fakeGenerator{result: generation.Result{
		HTML: "<html></html>",
		Analysis: generation.AnalysisReport{Items: []generation.ImageAnalysis{
			{Index: 0, Filename: "ok.png", Description: "blue"},
			{Index: 1, Filename: "bad.png", Err: errors.New("unsupported image")},
		}},
	}}
	body, ct := multipartBody(t, "x", upload{"ok.png", "image/png", []byte("1")}, upload{"bad.png", "image/png", []byte("2")})

	req := httptest.NewRequest(http.MethodPost, "/generate-website", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	setupRouter(gen).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.ImageErrors, 1)
	assert.Equal(t, 1, resp.ImageErrors[0].Index)
	assert.Equal(t, "unsupported image", resp.ImageErrors[0].Message)
}

func TestGenerateStatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		description string
		err         error
		want        int
	}{
		{name: "missing description", description: "", want: http.StatusBadRequest},
		{name: "blank description", description: "   ", want: http.StatusBadRequest},
		{name: "not configured", description: "x", err: ai.ErrNotConfigured, want: http.StatusServiceUnavailable},
		{name: "generation failure", description: "x", err: &ai.GenerationError{Op: "generate website", Err: errors.New("rate limited")}, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.description)
			req := httptest.NewRequest(http.MethodPost, "/generate-website", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			setupRouter(&fakeGenerator{err: tt.err}).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decodeDetail(t, rec))
		})
	}
}

func TestGenerateAcceptsURLEncodedForm(t *testing.T) {
	gen := &fakeGenerator{result: generation.Result{HTML: "<html></html>"}}
	req := httptest.NewRequest(http.MethodPost, "/generate-website", strings.NewReader("description=portfolio"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	setupRouter(gen).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "portfolio", gen.got.Description)
	assert.Empty(t, gen.got.Images)
}

func readEvents(t *testing.T, body string) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestStreamEmitsChunksThenDone(t *testing.T) {
	gen := &fakeGenerator{
		chunks: []string{"<html>", "</html>"},
		result: generation.Result{HTML: "<html></html>"},
	}
	body, ct := multipartBody(t, "x")
	req := httptest.NewRequest(http.MethodPost, "/generate-website/stream", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	setupRouter(gen).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, StreamEvent{Event: "chunk", Text: "<html>"}, events[0])
	assert.Equal(t, StreamEvent{Event: "chunk", Text: "</html>"}, events[1])
	assert.Equal(t, "done", events[2].Event)
}

func TestStreamErrorBeforeFirstChunkIsJSON(t *testing.T) {
	body, ct := multipartBody(t, "x")
	req := httptest.NewRequest(http.MethodPost, "/generate-website/stream", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	setupRouter(&fakeGenerator{err: ai.ErrNotConfigured}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decodeDetail(t, rec), "not configured")
}

func TestStreamErrorAfterChunksIsEvent(t *testing.T) {
	gen := &fakeGenerator{
		chunks:          []string{"<html>"},
		err:             &ai.GenerationError{Op: "stream website", Err: errors.New("connection reset")},
		failAfterChunks: true,
	}
	body, ct := multipartBody(t, "x")
	req := httptest.NewRequest(http.MethodPost, "/generate-website/stream", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	setupRouter(gen).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1].Event)
	assert.Contains(t, events[1].Detail, "connection reset")
}
