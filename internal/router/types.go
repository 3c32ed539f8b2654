package router

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/auth"
	"github.com/sonroyaalmerol/calendar-server/internal/config"
)

// DAVService is the CalDAV engine's surface as seen by the router: one
// ServeHTTP that already does its own method switch, since CalDAV verbs
// (PROPFIND, REPORT, MKCALENDAR, PROPPATCH) aren't net/http mux verbs.
type DAVService interface {
	http.Handler
}

type Router struct {
	config *config.Config
	dav    DAVService
	api    http.Handler
	auth   *auth.Chain
	logger zerolog.Logger
}
