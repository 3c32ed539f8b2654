// Package caldav implements the RFC 4791 CalDAV surface: one collection per
// user at /caldav/{user}/, one event resource per UID at
// /caldav/{user}/{uid}.ics. There is no ACL decision to make — the owner
// always has full access, nobody else has any (single-calendar-per-user is a
// store invariant, not a permission to evaluate).
package caldav

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	"github.com/sonroyaalmerol/calendar-server/internal/auth"
	"github.com/sonroyaalmerol/calendar-server/internal/config"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

type Handlers struct {
	cfg      *config.Config
	store    store.Store
	logger   zerolog.Logger
	basePath string
}

func NewHandlers(cfg *config.Config, st store.Store, logger zerolog.Logger) *Handlers {
	return &Handlers{
		cfg:      cfg,
		store:    st,
		logger:   logger,
		basePath: strings.TrimSuffix(cfg.HTTP.BasePath, "/"),
	}
}

func (h *Handlers) userRoot(userID int64) string {
	return joinURL(h.basePath, itoa(userID)) + "/"
}

func (h *Handlers) eventHref(userID int64, uid string) string {
	return joinURL(h.basePath, itoa(userID), uid+".ics")
}

func joinURL(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// resolveUser resolves the {user} path segment to a concrete user id and
// authorizes the request's principal against it: cross-user access is 403.
func (h *Handlers) resolveUser(ctx context.Context, identifier string) (int64, error) {
	pr, ok := auth.PrincipalFrom(ctx)
	if !ok || pr == nil {
		return 0, apperr.Wrap(apperr.Unauthorized, "no principal")
	}
	userID, err := h.store.ResolveUserID(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if userID != pr.UserID {
		return 0, apperr.Wrap(apperr.Forbidden, "cross-user access")
	}
	return userID, nil
}

// splitPath parses "/{user}/" or "/{user}/{uid}.ics" (basePath already
// stripped by the router) into its user segment and optional uid.
func splitPath(p string) (userSeg, uid string, ok bool) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", "", false
	}
	parts := strings.Split(p, "/")
	switch len(parts) {
	case 1:
		return parts[0], "", true
	case 2:
		name := parts[1]
		if !strings.HasSuffix(name, ".ics") {
			return "", "", false
		}
		return parts[0], strings.TrimSuffix(name, ".ics"), true
	default:
		return "", "", false
	}
}

func writeAppError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="CalDAV"`)
	}
	http.Error(w, err.Error(), status)
}
