package site

import (
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	sitemodel "github.com/zhouzirui/site-forge/backend/internal/model/site"
	siteservice "github.com/zhouzirui/site-forge/backend/internal/service/site"
	"github.com/zhouzirui/site-forge/backend/pkg/utils"
)

const maxSaveBytes = 16 << 20

// Handler 站点保存与访问的HTTP处理器
type Handler struct {
	siteSvc *siteservice.Service
}

// New 创建站点处理器
func New(siteSvc *siteservice.Service) *Handler {
	return &Handler{siteSvc: siteSvc}
}

// RegisterRoutes 注册 /api 下的站点管理路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, p := range []string{"/websites", "/websites/"} {
		r.Post(p, h.handleSave)
		r.Get(p, h.handleList)
	}
	r.Get("/websites/{slug}", h.handleGet)
}

// RegisterPageRoutes 注册已保存页面的公开访问路由
func (h *Handler) RegisterPageRoutes(r chi.Router) {
	r.Get("/sites/{slug}", h.handleServe)
}

// SavedSite 保存成功后的响应
type SavedSite struct {
	Slug         string `json:"url_slug"`
	Title        string `json:"title"`
	PermanentURL string `json:"permanent_url"`
}

// SiteInfo 列表与详情中的站点元数据
type SiteInfo struct {
	Slug         string    `json:"url_slug"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	PermanentURL string    `json:"permanent_url"`
}

type savePayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	HTMLContent string `json:"html_content"`
}

// handleSave 保存生成的网站，接受表单或 JSON
func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSaveBytes)

	payload, err := decodeSavePayload(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.siteSvc.Create(r.Context(), payload.Title, payload.Description, payload.HTMLContent)
	if err != nil {
		if errors.Is(err, siteservice.ErrInvalidInput) {
			utils.RespondError(w, http.StatusBadRequest, "title, description and html_content are required")
			return
		}
		log.Error().Err(err).Msg("save website failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to save website")
		return
	}

	utils.RespondJSON(w, http.StatusOK, SavedSite{
		Slug:         item.Slug,
		Title:        item.Title,
		PermanentURL: h.siteSvc.PermanentURL(item.Slug),
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.siteSvc.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list websites failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to list websites")
		return
	}

	out := make([]SiteInfo, 0, len(items))
	for _, item := range items {
		out = append(out, h.info(item))
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	item, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.info(item.Summary()))
}

// handleServe 原样返回保存的 HTML
func (h *Handler) handleServe(w http.ResponseWriter, r *http.Request) {
	item, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondHTML(w, http.StatusOK, item.HTMLContent)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (sitemodel.Site, bool) {
	slug := chi.URLParam(r, "slug")
	item, err := h.siteSvc.Get(r.Context(), slug)
	switch {
	case err == nil:
		return item, true
	case errors.Is(err, sitemodel.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "Website not found")
	default:
		log.Error().Err(err).Str("slug", slug).Msg("load website failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to load website")
	}
	return sitemodel.Site{}, false
}

func (h *Handler) info(s sitemodel.Summary) SiteInfo {
	return SiteInfo{
		Slug:         s.Slug,
		Title:        s.Title,
		Description:  s.Description,
		CreatedAt:    s.CreatedAt,
		PermanentURL: h.siteSvc.PermanentURL(s.Slug),
	}
}

func decodeSavePayload(r *http.Request) (savePayload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var p savePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return savePayload{}, errors.New("invalid request body")
		}
		return p, nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxSaveBytes); err != nil {
			return savePayload{}, errors.New("invalid multipart form")
		}
	default:
		if err := r.ParseForm(); err != nil {
			return savePayload{}, errors.New("invalid form")
		}
	}
	return savePayload{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		HTMLContent: r.FormValue("html_content"),
	}, nil
}
