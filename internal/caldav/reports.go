package caldav

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	davxml "github.com/sonroyaalmerol/calendar-server/internal/dav/xml"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

// reportRoot sniffs the REPORT body's root element without fully decoding
// it, so HandleReport can dispatch to the right request type.
type reportRoot struct {
	XMLName xml.Name
}

// HandleReport dispatches calendar-query, calendar-multiget and
// sync-collection, the three REPORT types a calendar-access client issues.
// free-busy-query is not implemented: recurrence-aware availability is out
// of scope, nothing computes occurrence expansion here.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request, userID int64) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "read body: %v", err))
		return
	}

	var root reportRoot
	if err := xml.Unmarshal(body, &root); err != nil {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "malformed report: %v", err))
		return
	}

	switch root.XMLName.Local {
	case "calendar-query":
		h.handleCalendarQuery(w, r, userID, body)
	case "calendar-multiget":
		h.handleCalendarMultiget(w, r, userID, body)
	case "sync-collection":
		h.handleSyncCollection(w, r, userID, body)
	default:
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "unsupported report %q", root.XMLName.Local))
	}
}

// handleCalendarQuery evaluates only a VCALENDAR/VEVENT comp-filter with an
// optional time-range, which the store matches as an overlap with the event's
// own DTSTART–DTEND span. RRULE is opaque: a recurring event matches only if
// its own span overlaps the window, no occurrence expansion is performed.
func (h *Handlers) handleCalendarQuery(w http.ResponseWriter, r *http.Request, userID int64, body []byte) {
	var req davxml.CalendarQueryRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "malformed calendar-query: %v", err))
		return
	}

	opts := store.ListEventsOptions{Limit: 2000}
	if tr := findTimeRange(&req.Filter.CompFilter); tr != nil {
		if start, err := parseICalTime(tr.Start); err == nil {
			opts.Start = &start
		}
		if end, err := parseICalTime(tr.End); err == nil {
			opts.End = &end
		}
	}

	events, err := h.store.ListEvents(r.Context(), userID, opts)
	if err != nil {
		writeAppError(w, err)
		return
	}

	responses := make([]davxml.Response, 0, len(events))
	for _, ev := range events {
		found, notFound := h.resourceProps(userID, ev, req.Prop)
		responses = append(responses, collectionResponse(h.eventHref(userID, ev.UID), found, notFound))
	}
	if err := davxml.Write(w, davxml.NewMultiStatus(responses...)); err != nil {
		h.logger.Error().Err(err).Msg("write calendar-query multistatus")
	}
}

// findTimeRange walks the comp-filter tree looking for the first time-range,
// nil if the query has none.
func findTimeRange(cf *davxml.CompFilter) *davxml.TimeRange {
	if cf == nil {
		return nil
	}
	if cf.TimeRange != nil {
		return cf.TimeRange
	}
	return findTimeRange(cf.CompFilter)
}

func (h *Handlers) handleCalendarMultiget(w http.ResponseWriter, r *http.Request, userID int64, body []byte) {
	var req davxml.CalendarMultigetRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "malformed calendar-multiget: %v", err))
		return
	}

	responses := make([]davxml.Response, 0, len(req.Hrefs))
	for _, href := range req.Hrefs {
		_, uid, ok := splitPath(stripBase(h.basePath, href))
		if !ok || uid == "" {
			continue
		}
		ev, err := h.store.GetEvent(r.Context(), userID, store.ByUID(uid))
		if err != nil {
			responses = append(responses, davxml.Response{Href: href, PropStats: []davxml.PropStat{
				{Prop: davxml.Prop{}, Status: davxml.StatusLine(apperr.StatusOf(err))},
			}})
			continue
		}
		found, notFound := h.resourceProps(userID, ev, req.Prop)
		responses = append(responses, collectionResponse(h.eventHref(userID, ev.UID), found, notFound))
	}
	if err := davxml.Write(w, davxml.NewMultiStatus(responses...)); err != nil {
		h.logger.Error().Err(err).Msg("write calendar-multiget multistatus")
	}
}

// stripBase removes the engine's configured base path prefix from an href so
// it can be parsed the same way splitPath parses a request path.
func stripBase(basePath, href string) string {
	if basePath == "" {
		return href
	}
	if len(href) >= len(basePath) && href[:len(basePath)] == basePath {
		return href[len(basePath):]
	}
	return href
}

// handleSyncCollection answers RFC 6578: an empty sync-token means "from the
// beginning", an unrecognized one is a 403 DAV:valid-sync-token precondition
// failure, anything else returns the delta plus the next token to present.
func (h *Handlers) handleSyncCollection(w http.ResponseWriter, r *http.Request, userID int64, body []byte) {
	var req davxml.SyncCollectionRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "malformed sync-collection: %v", err))
		return
	}

	changes, err := h.store.ChangesSince(r.Context(), userID, req.SyncToken)
	if err != nil {
		if apperr.Is(err, apperr.InvalidSyncToken) {
			if werr := davxml.WriteValidSyncTokenError(w); werr != nil {
				h.logger.Error().Err(werr).Msg("write valid-sync-token error")
			}
			return
		}
		writeAppError(w, err)
		return
	}

	changed := append(append([]string{}, changes.Added...), changes.Modified...)
	responses := make([]davxml.Response, 0, len(changed)+len(changes.Deleted))
	for _, uid := range changed {
		ev, err := h.store.GetEvent(r.Context(), userID, store.ByUID(uid))
		if err != nil {
			continue
		}
		found, notFound := h.resourceProps(userID, ev, req.Prop)
		responses = append(responses, collectionResponse(h.eventHref(userID, uid), found, notFound))
	}
	for _, uid := range changes.Deleted {
		responses = append(responses, davxml.Response{
			Href: h.eventHref(userID, uid),
			PropStats: []davxml.PropStat{
				{Prop: davxml.Prop{}, Status: davxml.NotFound()},
			},
		})
	}

	ms := davxml.NewMultiStatus(responses...)
	ms.SyncToken = changes.NewToken
	if err := davxml.Write(w, ms); err != nil {
		h.logger.Error().Err(err).Msg("write sync-collection multistatus")
	}
}
