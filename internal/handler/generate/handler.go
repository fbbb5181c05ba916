package generate

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/site-forge/backend/internal/model/generation"
	"github.com/zhouzirui/site-forge/backend/internal/service/ai"
	"github.com/zhouzirui/site-forge/backend/pkg/utils"
)

const (
	maxRequestBytes = 64 << 20
	maxMemoryBytes  = 32 << 20

	descriptionField = "description"
	imagesField      = "inspiration_images"
)

var errMissingDescription = errors.New("description is required")

// Generator 抽象网站生成服务，便于测试替换
type Generator interface {
	GenerateHTML(ctx context.Context, req generation.Request) (generation.Result, error)
	StreamHTML(ctx context.Context, req generation.Request, onChunk func(string) error) (generation.Result, error)
}

// Handler 网站生成的HTTP处理器
type Handler struct {
	generator Generator
}

// New 创建生成处理器
func New(generator Generator) *Handler {
	return &Handler{generator: generator}
}

// RegisterRoutes 注册生成相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/generate-website", h.handleGenerate)
	r.Post("/generate-website/stream", h.handleStream)
}

// Response 同步生成结果
type Response struct {
	HTML        string                  `json:"html"`
	ImageErrors []generation.ImageError `json:"image_errors,omitempty"`
}

// StreamEvent SSE 事件
type StreamEvent struct {
	Event       string                  `json:"event"`
	Text        string                  `json:"text,omitempty"`
	Detail      string                  `json:"detail,omitempty"`
	ImageErrors []generation.ImageError `json:"image_errors,omitempty"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.generator.GenerateHTML(r.Context(), req)
	if err != nil {
		utils.RespondError(w, statusForError(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, Response{
		HTML:        result.HTML,
		ImageErrors: result.Analysis.Errors(),
	})
}

// handleStream 首个分片到达前出错时仍返回普通 JSON 错误；之后错误以 SSE error 事件结束
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req, err := parseRequest(w, r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	started := false
	start := func() {
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
	}

	result, err := h.generator.StreamHTML(r.Context(), req, func(chunk string) error {
		start()
		return utils.SendSSEChunk(w, flusher, StreamEvent{Event: "chunk", Text: chunk})
	})
	if err != nil {
		if !started {
			utils.RespondError(w, statusForError(err), err.Error())
			return
		}
		if sendErr := utils.SendSSEChunk(w, flusher, StreamEvent{Event: "error", Detail: err.Error()}); sendErr != nil {
			log.Debug().Err(sendErr).Msg("client gone before error event")
		}
		return
	}

	start()
	if err := utils.SendSSEChunk(w, flusher, StreamEvent{Event: "done", ImageErrors: result.Analysis.Errors()}); err != nil {
		log.Debug().Err(err).Msg("client gone before done event")
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseRequest 读取 multipart（或 urlencoded）表单中的描述与参考图片
func parseRequest(w http.ResponseWriter, r *http.Request) (generation.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
			return generation.Request{}, errors.Wrap(err, "invalid multipart form")
		}
		defer r.MultipartForm.RemoveAll()
	} else if err := r.ParseForm(); err != nil {
		return generation.Request{}, errors.Wrap(err, "invalid form")
	}

	description := strings.TrimSpace(r.FormValue(descriptionField))
	if description == "" {
		return generation.Request{}, errMissingDescription
	}

	req := generation.Request{Description: description}
	if r.MultipartForm == nil {
		return req, nil
	}

	for _, fh := range r.MultipartForm.File[imagesField] {
		f, err := fh.Open()
		if err != nil {
			return generation.Request{}, errors.Wrapf(err, "open %s", fh.Filename)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return generation.Request{}, errors.Wrapf(err, "read %s", fh.Filename)
		}
		req.Images = append(req.Images, generation.Image{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return req, nil
}
