package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/api"
	"github.com/sonroyaalmerol/calendar-server/internal/auth"
	"github.com/sonroyaalmerol/calendar-server/internal/caldav"
	"github.com/sonroyaalmerol/calendar-server/internal/config"
	"github.com/sonroyaalmerol/calendar-server/internal/outbox"
	"github.com/sonroyaalmerol/calendar-server/internal/ratelimit"
	"github.com/sonroyaalmerol/calendar-server/internal/router"
	"github.com/sonroyaalmerol/calendar-server/internal/store/postgres"
)

type Server struct {
	http   *http.Server
	worker *outbox.Worker
	logger zerolog.Logger
}

func NewServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	st, err := postgres.New(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}

	authn := auth.NewChain(cfg, st, logger)

	davHandlers := caldav.NewHandlers(cfg, st, logger)
	apiHandler := api.New(cfg, st, authn, logger)

	caldavLimiter := ratelimit.New(cfg.RateLimit.CalDAVBurst, time.Duration(cfg.RateLimit.CalDAVPeriod)*time.Millisecond)
	apiLimiter := ratelimit.New(cfg.RateLimit.APIBurst, time.Duration(cfg.RateLimit.APIPeriodMS)*time.Millisecond)

	mux := router.New(cfg, davHandlers, apiHandler, st, authn, logger)
	handler := withRateLimits(mux, cfg.HTTP.BasePath, caldavLimiter, apiLimiter)

	worker := outbox.New(st, logger, cfg.Worker.PollInterval, cfg.Worker.BatchSize, cfg.Worker.MaxRetries, cfg.Worker.BatchSize)
	outbox.RegisterDefaultHandlers(worker, logger)

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		worker: worker,
		logger: logger,
	}

	cleanup := func() { st.Close() }
	logger.Info().Msgf("listening on %s", cfg.HTTP.Addr)
	return srv, cleanup, nil
}

func (s *Server) Start(ctx context.Context) error {
	go s.worker.Start(ctx)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// withRateLimits picks the CalDAV or API tier by path prefix and applies
// that surface's own token-bucket limiter, per §5's two-tier requirement.
func withRateLimits(next http.Handler, basePath string, caldavLimiter, apiLimiter *ratelimit.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/"):
			apiLimiter.Middleware(next).ServeHTTP(w, r)
		case strings.HasPrefix(r.URL.Path, basePath):
			caldavLimiter.Middleware(next).ServeHTTP(w, r)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
