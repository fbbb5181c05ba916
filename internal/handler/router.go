package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/site-forge/backend/internal/handler/generate"
	"github.com/zhouzirui/site-forge/backend/internal/handler/site"
	"github.com/zhouzirui/site-forge/backend/internal/handler/speech"
	"github.com/zhouzirui/site-forge/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/site-forge/backend/internal/middleware"
	aiService "github.com/zhouzirui/site-forge/backend/internal/service/ai"
	"github.com/zhouzirui/site-forge/backend/internal/service/session"
	siteService "github.com/zhouzirui/site-forge/backend/internal/service/site"
	speechService "github.com/zhouzirui/site-forge/backend/internal/service/speech"
	"github.com/zhouzirui/site-forge/backend/pkg/utils"
)

// Dependencies 路由所需的服务，由 main 构造后注入
type Dependencies struct {
	Sites          *siteService.Service
	AI             *aiService.Service
	Speech         *speechService.Service
	Registry       *session.Registry
	Relay          speech.RelayOptions
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	siteHandler := site.New(deps.Sites)
	generateHandler := generate.New(deps.AI)

	relayOpts := deps.Relay
	relayOpts.AllowedOrigins = deps.AllowedOrigins
	relayHandler := speech.New(deps.Speech, deps.Registry, relayOpts)

	r.Route("/api", func(api chi.Router) {
		generateHandler.RegisterRoutes(api)
		siteHandler.RegisterRoutes(api)
	})
	siteHandler.RegisterPageRoutes(r)
	relayHandler.RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": deps.Registry.Len(),
			"ai":       deps.AI.Enabled(),
			"speech":   deps.Speech.Enabled(),
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}
