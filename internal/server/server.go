package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/embedrelay/internal/infra"
	"github.com/xela07ax/embedrelay/internal/relay"
)

// Server — единый HTTP-вход: релей контента и /v1 API хост-приложения.
type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	relayHandler *relay.Handler
	apiHandler   *APIHandler
	tabsHandler  *TabsHandler
	limiter      *rate.Limiter
}

// NewServer инициализирует сервер со всеми зависимостями
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	relayH *relay.Handler,
	apiH *APIHandler,
	tabsH *TabsHandler,
) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		logger:       logger.Named("http-api"),
		cfg:          cfg,
		relayHandler: relayH,
		apiHandler:   apiH,
		tabsHandler:  tabsH,
		limiter:      rate.NewLimiter(rate.Limit(cfg.Relay.RateLimit), cfg.Relay.RateBurst),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(relay.TracingMiddleware)

	// Healthcheck для мониторинга
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 2. Релей контента (горячий путь, под rate limit) ---
	r.Group(func(r chi.Router) {
		r.Use(relay.RateLimitMiddleware(s.limiter))
		s.relayHandler.Register(r)
	})

	// --- 3. API хост-приложения ---
	r.Route("/v1", func(r chi.Router) {
		// Ингест сообщений доставленных документов
		r.Post("/messages/{tabID}", s.apiHandler.IngestMessage)

		// Активность: прием напрямую и выборка для сайдбара
		r.Route("/activities", func(r chi.Router) {
			r.Post("/", s.apiHandler.RecordActivities)
			r.Get("/", s.apiHandler.QueryActivities)
		})

		// Сессии браузинга
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.apiHandler.CreateSession)
			r.Get("/", s.apiHandler.QuerySessions)
		})

		// Вкладки и их машины режима
		r.Route("/tabs", func(r chi.Router) {
			r.Get("/", s.tabsHandler.List)
			r.Post("/", s.tabsHandler.Open)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.tabsHandler.Get)
				r.Delete("/", s.tabsHandler.Close)
				r.Post("/activate", s.tabsHandler.Activate)
				r.Post("/navigate", s.tabsHandler.Navigate)
				r.Post("/surface", s.tabsHandler.SurfaceEvent)
				r.Post("/retry", s.tabsHandler.Retry)
				r.Post("/switch-mode", s.tabsHandler.SwitchMode)
				r.Post("/dismiss-notice", s.tabsHandler.DismissNotice)
			})
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
