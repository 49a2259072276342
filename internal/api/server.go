package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/triage-core/internal/api/handler"
	"github.com/xela07ax/triage-core/internal/infra"
	"github.com/xela07ax/triage-core/internal/infra/auth"
	"go.uber.org/zap"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler    *handler.AuthHandler    // /auth/token
	analyzeHandler *handler.AnalyzeHandler // /v1/analyze, /v1/sessions
	auditHandler   *handler.AuditHandler   // /v1/audit (след)
	sourceHandler  *handler.SourceHandler  // /v1/sources (kill-switch)
}

// NewServer инициализирует HTTP-слой ядра со всеми зависимостями
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	analyzeH *handler.AnalyzeHandler,
	auditH *handler.AuditHandler,
	sourceH *handler.SourceHandler,
) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger.Named("triage-api"),
		cfg:            cfg,
		authValidator:  validator,
		authHandler:    authH,
		analyzeHandler: analyzeH,
		auditHandler:   auditH,
		sourceHandler:  sourceH,
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

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Асинхронный контур анализа: submit + poll
		r.Post("/v1/analyze", s.analyzeHandler.Analyze)
		r.Route("/v1/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.analyzeHandler.GetStatus)
			r.Get("/result", s.analyzeHandler.GetResult)
		})

		// Управление источниками сигнала (Kill-Switch)
		r.Route("/v1/sources/{id}", func(r chi.Router) {
			r.Post("/block", s.sourceHandler.Block)
			r.Post("/unblock", s.sourceHandler.Unblock)
		})

		// Аудит (Observability)
		r.Get("/v1/audit", s.auditHandler.GetEvents)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
