// Package api implements the JSON event API, the Telegram Mini App facing
// counterpart to the CalDAV engine: same store, same events, a shape a
// mini-app frontend can consume directly.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	"github.com/sonroyaalmerol/calendar-server/internal/auth"
	"github.com/sonroyaalmerol/calendar-server/internal/config"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

// initDataHeader carries the raw Telegram Mini App initData string, per the
// WebApp integration convention of forwarding it unparsed from the client.
const initDataHeader = "X-Telegram-Init-Data"

// New builds the /api mux: chi middleware stack, CORS for the mini-app
// origin, Telegram-initData auth on every route, and the three resource
// groups (me, events, devices).
func New(cfg *config.Config, st store.Store, authn *auth.Chain, logger zerolog.Logger) http.Handler {
	a := newAPI(st, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://web.telegram.org", "https://*.telegram.org"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", initDataHeader},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Use(telegramAuthMiddleware(authn))

		r.Get("/me", a.handleMe)

		r.Route("/events", func(r chi.Router) {
			r.Get("/", a.handleListEvents)
			r.Post("/", a.handleCreateEvent)
			r.Get("/{id}", a.handleGetEvent)
			r.Put("/{id}", a.handleUpdateEvent)
			r.Delete("/{id}", a.handleDeleteEvent)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", a.handleListDevices)
			r.Post("/", a.handleCreateDevice)
			r.Delete("/{id}", a.handleRevokeDevice)
		})
	})

	return r
}

func telegramAuthMiddleware(authn *auth.Chain) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authn.TelegramAuthenticate(r.Context(), r.Header.Get(initDataHeader))
			if err != nil {
				respondError(w, apperr.Wrap(apperr.Unauthorized, "%v", err))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}
