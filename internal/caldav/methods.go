package caldav

import (
	"io"
	"net/http"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	"github.com/sonroyaalmerol/calendar-server/internal/config"
	davxml "github.com/sonroyaalmerol/calendar-server/internal/dav/xml"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
	"github.com/sonroyaalmerol/calendar-server/pkg/ical"
)

func encodeEvent(ev *store.Event, cfg *config.Config) ([]byte, error) {
	return ical.Encode(ev, cfg.ICS.BuildProdID())
}

func decodeEvent(body []byte) (*store.Event, error) {
	return ical.Decode(body)
}

func (h *Handlers) HandleOptions(w http.ResponseWriter) {
	w.Header().Set("DAV", "1, 2, 3, calendar-access")
	w.Header().Set("Allow", "OPTIONS, PROPFIND, REPORT, GET, PUT, DELETE, MKCALENDAR, PROPPATCH")
	w.WriteHeader(http.StatusOK)
}

// HandleGet returns the serialized VEVENT; 304 on a matching If-None-Match.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request, userID int64, uid string) {
	ev, err := h.store.GetEvent(r.Context(), userID, store.ByUID(uid))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && trimQuotes(inm) == trimQuotes(ev.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	data, err := encodeEvent(ev, h.cfg)
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.Internal, "encode event: %v", err))
		return
	}
	w.Header().Set("Content-Type", davxml.CalContentType())
	w.Header().Set("ETag", ev.ETag)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandlePut parses the body, requires the body UID to match the path uid,
// evaluates the If-None-Match/If-Match precondition, and upserts.
func (h *Handlers) HandlePut(w http.ResponseWriter, r *http.Request, userID int64, uid string) {
	if !safeSegment(uid) {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "invalid uid"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.HTTP.MaxICSBytes+1))
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "read body: %v", err))
		return
	}
	if h.cfg.HTTP.MaxICSBytes > 0 && int64(len(body)) > h.cfg.HTTP.MaxICSBytes {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "payload too large"))
		return
	}
	ev, err := decodeEvent(body)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if ev.UID != uid {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "body UID %q does not match path uid %q", ev.UID, uid))
		return
	}
	ev.UserID = userID

	pre := store.Precondition{Kind: store.Unconditional}
	switch {
	case r.Header.Get("If-None-Match") == "*":
		pre.Kind = store.IfNoneMatchAny
	case r.Header.Get("If-Match") != "":
		pre.Kind = store.IfMatch
		pre.ETag = `"` + trimQuotes(r.Header.Get("If-Match")) + `"`
	}

	result, err := h.store.PutEvent(r.Context(), userID, ev, pre)
	if err != nil {
		writeAppError(w, err)
		return
	}

	w.Header().Set("ETag", result.ETag)
	if result.Outcome == store.Created {
		w.Header().Set("Location", h.eventHref(userID, uid))
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request, userID int64, uid string) {
	pre := store.Precondition{Kind: store.Unconditional}
	if im := r.Header.Get("If-Match"); im != "" {
		pre.Kind = store.IfMatch
		pre.ETag = `"` + trimQuotes(im) + `"`
	}
	if err := h.store.DeleteEvent(r.Context(), userID, uid, pre); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMkcalendar is an idempotent create-or-noop: the user's collection
// exists implicitly once the user row exists (get_or_create_user already ran
// during auth), so this just confirms that and succeeds.
func (h *Handlers) HandleMkcalendar(w http.ResponseWriter, r *http.Request, userID int64) {
	if _, err := h.store.GetUser(r.Context(), userID); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// HandleProppatch only ever has the user's handle to change as a
// displayname; every other collection property is derived, not settable, so
// this always reports success without touching storage.
func (h *Handlers) HandleProppatch(w http.ResponseWriter, r *http.Request, userID int64) {
	resp := davxml.Response{Href: h.userRoot(userID), PropStats: []davxml.PropStat{
		{Prop: davxml.Prop{DisplayName: davxml.StrPtr("")}, Status: davxml.OK()},
	}}
	if err := davxml.Write(w, davxml.NewMultiStatus(resp)); err != nil {
		h.logger.Error().Err(err).Msg("write proppatch multistatus")
	}
}
