package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sitemodel "github.com/zhouzirui/site-forge/backend/internal/model/site"
	aiService "github.com/zhouzirui/site-forge/backend/internal/service/ai"
	"github.com/zhouzirui/site-forge/backend/internal/service/session"
	siteService "github.com/zhouzirui/site-forge/backend/internal/service/site"
	speechService "github.com/zhouzirui/site-forge/backend/internal/service/speech"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	registry := session.NewRegistry()
	router := NewRouter(Dependencies{
		Sites:          siteService.NewService(sitemodel.NewMemoryStore(), siteService.Options{}),
		AI:             &aiService.Service{},
		Speech:         speechService.NewService("whisper", nil, 0),
		Registry:       registry,
		AllowedOrigins: []string{"http://localhost:5173"},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, registry
}

func TestSaveAndServeThroughRouter(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.PostForm(srv.URL+"/api/websites/", url.Values{
		"title":        {"Demo"},
		"description":  {"A test site"},
		"html_content": {"<html></html>"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var saved struct {
		Slug         string `json:"url_slug"`
		PermanentURL string `json:"permanent_url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saved))
	require.Len(t, saved.Slug, 8)

	page, err := http.Get(srv.URL + saved.PermanentURL)
	require.NoError(t, err)
	defer page.Body.Close()
	body, _ := io.ReadAll(page.Body)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", page.Header.Get("Content-Type"))
	assert.Equal(t, "<html></html>", string(body))

	missing, err := http.Get(srv.URL + "/sites/doesnotexist")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestGenerateWithoutCredentials(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.PostForm(srv.URL+"/api/generate-website", url.Values{"description": {"a bakery"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["detail"], "not configured")
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, false, health["ai"])
	assert.Equal(t, false, health["speech"])
	assert.EqualValues(t, 0, health["sessions"])

	m, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer m.Body.Close()
	text, _ := io.ReadAll(m.Body)
	assert.Equal(t, http.StatusOK, m.StatusCode)
	assert.Contains(t, string(text), "siteforge_relay_sessions_active")
}

func TestRelayMountedAtWS(t *testing.T) {
	srv, registry := newTestServer(t)

	header := http.Header{}
	header.Set("Origin", "http://localhost:5173")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("audio")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply["status"])
	assert.Equal(t, 1, registry.Len())
}

func TestCORSPreflightOnAPI(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/generate-website", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}
