package caldav

import (
	"net/http"
	"strings"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
)

// ServeHTTP is the single entry point the outer router mounts at the
// engine's base path. It resolves {user} (and cross-user 403s it), then
// dispatches on method the way RFC 4791 expects: PROPFIND/REPORT work on
// both the collection and a resource, GET/PUT/DELETE only make sense on a
// resource, MKCALENDAR/PROPPATCH only on the collection.
func (h *Handlers) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.HandleOptions(w)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, h.basePath)
	userSeg, uid, ok := splitPath(rest)
	if !ok {
		writeAppError(w, apperr.Wrap(apperr.NotFound, "unknown path %q", r.URL.Path))
		return
	}

	userID, err := h.resolveUser(r.Context(), userSeg)
	if err != nil {
		writeAppError(w, err)
		return
	}

	switch r.Method {
	case "PROPFIND":
		h.HandlePropfind(w, r, userID, uid)
	case "REPORT":
		if uid != "" {
			writeAppError(w, apperr.Wrap(apperr.BadRequest, "REPORT is only valid on the calendar collection"))
			return
		}
		h.HandleReport(w, r, userID)
	case http.MethodGet, http.MethodHead:
		if uid == "" {
			writeAppError(w, apperr.Wrap(apperr.BadRequest, "GET is only valid on an event resource"))
			return
		}
		h.HandleGet(w, r, userID, uid)
	case http.MethodPut:
		if uid == "" {
			writeAppError(w, apperr.Wrap(apperr.BadRequest, "PUT is only valid on an event resource"))
			return
		}
		h.HandlePut(w, r, userID, uid)
	case http.MethodDelete:
		if uid == "" {
			writeAppError(w, apperr.Wrap(apperr.BadRequest, "DELETE is only valid on an event resource"))
			return
		}
		h.HandleDelete(w, r, userID, uid)
	case "MKCALENDAR":
		if uid != "" {
			writeAppError(w, apperr.Wrap(apperr.BadRequest, "MKCALENDAR is only valid on the calendar collection"))
			return
		}
		h.HandleMkcalendar(w, r, userID)
	case "PROPPATCH":
		if uid != "" {
			writeAppError(w, apperr.Wrap(apperr.BadRequest, "PROPPATCH is only valid on the calendar collection"))
			return
		}
		h.HandleProppatch(w, r, userID)
	default:
		w.Header().Set("Allow", "OPTIONS, PROPFIND, REPORT, GET, PUT, DELETE, MKCALENDAR, PROPPATCH")
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "unsupported method %s", r.Method))
	}
}
