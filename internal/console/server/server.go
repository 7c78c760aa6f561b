package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/console/handler"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка токенов (RS256); в консоли это AuthService
	authValidator auth.TokenValidator

	authHandler         *handler.AuthHandler         // /auth/token
	confirmationHandler *handler.ConfirmationHandler // /v1/confirmations
	auditHandler        *handler.AuditHandler        // /v1/audit
	guildHandler        *handler.GuildHandler        // /v1/guilds
}

func NewConsoleServer(
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	confirmationH *handler.ConfirmationHandler,
	auditH *handler.AuditHandler,
	guildH *handler.GuildHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:              chi.NewRouter(),
		logger:              logger.Named("console-api"),
		authValidator:       validator,
		authHandler:         authH,
		confirmationHandler: confirmationH,
		auditHandler:        auditH,
		guildHandler:        guildH,
	}
	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Публичные роуты
	r.Post("/auth/token", s.authHandler.Login)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Защищенный периметр (RS256)
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeConsoleRead))
			r.Get("/v1/confirmations", s.confirmationHandler.List)
			r.Get("/v1/confirmations/{id}", s.confirmationHandler.GetDetails)
			r.Get("/v1/audit", s.auditHandler.GetLogs)
		})

		r.Route("/v1/guilds/{id}", func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeGuildAdmin))
			r.Post("/pause", s.guildHandler.Pause)
			r.Post("/resume", s.guildHandler.Resume)
			r.Post("/dry-run", s.guildHandler.SetDryRun)
			r.Post("/settings/reload", s.guildHandler.ReloadSettings)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
