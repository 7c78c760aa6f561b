package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/agent"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/infra/auth"
)

// API — HTTP-вход транспорта чата.
type API struct {
	router    *chi.Mux
	gateway   *Gateway
	validator auth.TokenValidator
	logger    *zap.Logger
}

func NewAPI(gw *Gateway, v auth.TokenValidator, logger *zap.Logger) *API {
	a := &API{
		router:    chi.NewRouter(),
		gateway:   gw,
		validator: v,
		logger:    logger.Named("engine-api"),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(RequestLogger(a.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(a.validator, a.logger))

		r.With(auth.RequireScope(domain.ScopeTurns)).Post("/v1/turns", a.runTurn)

		r.Route("/v1/confirmations/{id}", func(r chi.Router) {
			r.Use(auth.RequireScope(domain.ScopeConfirmations))
			r.Post("/confirm", a.resolve(DecisionConfirm))
			r.Post("/reject", a.resolve(DecisionReject))
		})
	})
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) runTurn(w http.ResponseWriter, r *http.Request) {
	var req agent.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := a.gateway.RunTurn(r.Context(), req)
	if errors.Is(err, ErrBadRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		// Ответ пользователю уже собран, отказ журнала видно в логах и статусе
		a.logger.Error("turn failed", zap.String("trace_id", TraceIDFrom(r.Context())), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) resolve(decision Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in ResolveInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		in.RecordID = chi.URLParam(r, "id")

		out, err := a.gateway.Resolve(r.Context(), decision, in)
		switch {
		case errors.Is(err, ErrBadRequest):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case err != nil:
			// не отдаем детали хранилища наружу
			http.Error(w, "internal error", http.StatusInternalServerError)
		default:
			writeJSON(w, http.StatusOK, out)
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
