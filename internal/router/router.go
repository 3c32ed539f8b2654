package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/auth"
	"github.com/sonroyaalmerol/calendar-server/internal/config"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

// New wires the two coequal surfaces (CalDAV engine, JSON API) plus the
// ambient health/metrics endpoints behind one top-level mux.
func New(cfg *config.Config, dav DAVService, api http.Handler, st store.Store, authn *auth.Chain, logger zerolog.Logger) http.Handler {
	r := &Router{config: cfg, dav: dav, api: api, auth: authn, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth(st))
	mux.Handle("/metrics", promhttp.Handler())

	base := r.basePath()
	mux.HandleFunc(base, r.handleCalDAV)
	if strings.HasSuffix(base, "/") {
		mux.HandleFunc(strings.TrimSuffix(base, "/"), r.handleCalDAV)
	}

	mux.Handle("/api/", r.api)

	return mux
}

func (r *Router) basePath() string {
	base := r.config.HTTP.BasePath
	if base == "" || base[0] != '/' {
		base = "/caldav"
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

func (r *Router) handleHealth(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := st.Ping(req.Context()); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// handleCalDAV authenticates via Basic, attaches the principal, then hands
// off to the engine's own method dispatch, recording status/bytes/duration
// for access logging.
func (r *Router) handleCalDAV(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	ip := realIP(req)
	ua := req.Header.Get("User-Agent")

	if req.Method == http.MethodOptions {
		r.dav.ServeHTTP(rec, req)
		r.logAccess(req.Method, req.URL.Path, ip, ua, "", rec, start)
		return
	}

	p, err := r.auth.BasicAuthenticate(req.Context(), req.Header.Get("Authorization"))
	if err != nil || p == nil {
		r.logger.Info().
			Bool("auth_success", false).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Str("ip", ip).
			Str("user_agent", ua).
			Msg("auth attempt")
		w.Header().Set("WWW-Authenticate", `Basic realm="CalDAV"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	r.dav.ServeHTTP(rec, req)
	r.logAccess(req.Method, req.URL.Path, ip, ua, p.Handle, rec, start)
}

func (r *Router) logAccess(method, path, ip, ua, user string, rec *statusRecorder, start time.Time) {
	dur := time.Since(start)

	var logEvent *zerolog.Event
	switch method {
	case "PROPFIND", "REPORT", http.MethodGet, http.MethodHead:
		logEvent = r.logger.Debug()
	default:
		logEvent = r.logger.Info()
	}

	entry := logEvent.
		Str("method", method).
		Str("path", path).
		Int("status", statusOrDefault(rec.status)).
		Int("bytes", rec.bytes).
		Float64("duration_ms", float64(dur.Microseconds())/1000.0).
		Str("ip", ip).
		Str("user_agent", ua)
	if user != "" {
		entry = entry.Str("user", user)
	}
	entry.Msg("http request")
}
