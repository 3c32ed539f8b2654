package caldav

import (
	"encoding/xml"
	"io"
	"net/http"
	"time"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	davxml "github.com/sonroyaalmerol/calendar-server/internal/dav/xml"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

// HandlePropfind dispatches PROPFIND on either the collection (uid == "") or
// a single event resource.
func (h *Handlers) HandlePropfind(w http.ResponseWriter, r *http.Request, userID int64, uid string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeAppError(w, apperr.Wrap(apperr.BadRequest, "read body: %v", err))
		return
	}
	var req davxml.PropfindRequest
	if len(body) > 0 {
		if err := xml.Unmarshal(body, &req); err != nil {
			writeAppError(w, apperr.Wrap(apperr.BadRequest, "malformed propfind: %v", err))
			return
		}
	} else {
		req.Prop = allPropsRequested()
	}

	if uid != "" {
		h.propfindResource(w, r, userID, uid, req.Prop)
		return
	}
	h.propfindCollection(w, r, userID, r.Header.Get("Depth"), req.Prop)
}

func allPropsRequested() davxml.PropfindProp {
	marker := &struct{}{}
	return davxml.PropfindProp{
		DisplayName: marker, ResourceType: marker, CalendarDescription: marker,
		GetCTag: marker, SupportedCalendarComponentSet: marker, CalendarHomeSet: marker,
		CurrentUserPrincipal: marker, Owner: marker, SupportedReportSet: marker,
		SyncToken: marker, GetETag: marker, GetContentType: marker,
		GetLastModified: marker, CalendarData: marker,
	}
}

func (h *Handlers) propfindCollection(w http.ResponseWriter, r *http.Request, userID int64, depth string, reqProp davxml.PropfindProp) {
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	found, notFound := h.collectionProps(userID, user, reqProp)
	responses := []davxml.Response{collectionResponse(h.userRoot(userID), found, notFound)}

	if depth == "1" {
		events, err := h.store.ListEvents(r.Context(), userID, store.ListEventsOptions{Limit: 500})
		if err != nil {
			writeAppError(w, err)
			return
		}
		for _, ev := range events {
			found, notFound := h.resourceProps(userID, ev, reqProp)
			responses = append(responses, collectionResponse(h.eventHref(userID, ev.UID), found, notFound))
		}
	}

	if err := davxml.Write(w, davxml.NewMultiStatus(responses...)); err != nil {
		h.logger.Error().Err(err).Msg("write propfind multistatus")
	}
}

func (h *Handlers) propfindResource(w http.ResponseWriter, r *http.Request, userID int64, uid string, reqProp davxml.PropfindProp) {
	ev, err := h.store.GetEvent(r.Context(), userID, store.ByUID(uid))
	if err != nil {
		writeAppError(w, err)
		return
	}
	found, notFound := h.resourceProps(userID, ev, reqProp)
	resp := collectionResponse(h.eventHref(userID, ev.UID), found, notFound)
	if err := davxml.Write(w, davxml.NewMultiStatus(resp)); err != nil {
		h.logger.Error().Err(err).Msg("write propfind multistatus")
	}
}

func collectionResponse(href string, found, notFound davxml.Prop) davxml.Response {
	resp := davxml.Response{Href: href, PropStats: []davxml.PropStat{
		{Prop: found, Status: davxml.OK()},
	}}
	if hasAnyProp(notFound) {
		resp.PropStats = append(resp.PropStats, davxml.PropStat{Prop: notFound, Status: davxml.NotFound()})
	}
	return resp
}

func hasAnyProp(p davxml.Prop) bool {
	return p.DisplayName != nil || p.ResourceType != nil || p.CalendarDescription != nil ||
		p.GetCTag != nil || p.SupportedCalendarComponentSet != nil || p.CalendarHomeSet != nil ||
		p.CurrentUserPrincipal != nil || p.Owner != nil || p.SupportedReportSet != nil ||
		p.SyncToken != nil || p.GetETag != nil || p.GetContentType != nil ||
		p.GetLastModified != nil || p.CalendarData != nil
}

// collectionProps builds the found/not-found property split for the user's
// calendar collection itself.
func (h *Handlers) collectionProps(userID int64, user *store.User, req davxml.PropfindProp) (found, notFound davxml.Prop) {
	principal := joinURL(h.basePath, itoa(userID))
	if req.DisplayName != nil {
		found.DisplayName = davxml.StrPtr(user.Handle)
	}
	if req.ResourceType != nil {
		found.ResourceType = davxml.CalendarResourceType()
	}
	if req.CalendarDescription != nil {
		found.CalendarDescription = davxml.StrPtr("")
	}
	if req.GetCTag != nil {
		found.GetCTag = davxml.StrPtr(user.CTag)
	}
	if req.SupportedCalendarComponentSet != nil {
		found.SupportedCalendarComponentSet = davxml.SupportedVEvent
	}
	if req.CalendarHomeSet != nil {
		found.CalendarHomeSet = &davxml.HrefProp{Href: h.userRoot(userID)}
	}
	if req.CurrentUserPrincipal != nil {
		found.CurrentUserPrincipal = &davxml.HrefProp{Href: principal}
	}
	if req.Owner != nil {
		found.Owner = &davxml.HrefProp{Href: principal}
	}
	if req.SupportedReportSet != nil {
		found.SupportedReportSet = davxml.DefaultSupportedReportSet
	}
	if req.SyncToken != nil {
		found.SyncToken = davxml.StrPtr(user.SyncToken)
	}
	if req.CalendarData != nil || req.GetETag != nil || req.GetContentType != nil || req.GetLastModified != nil {
		notFound.CalendarData = req.CalendarData
		notFound.GetETag = req.GetETag
		notFound.GetContentType = req.GetContentType
		notFound.GetLastModified = req.GetLastModified
	}
	return found, notFound
}

// resourceProps builds the found/not-found property split for one event
// resource. Unrecognized/collection-only requested properties land in a 404
// propstat per RFC 4918.
func (h *Handlers) resourceProps(userID int64, ev *store.Event, req davxml.PropfindProp) (found, notFound davxml.Prop) {
	if req.GetETag != nil {
		found.GetETag = davxml.StrPtr(ev.ETag)
	}
	if req.GetContentType != nil {
		found.GetContentType = davxml.StrPtr(davxml.CalContentType())
	}
	if req.GetLastModified != nil {
		found.GetLastModified = davxml.StrPtr(ev.UpdatedAt.UTC().Format(time.RFC1123))
	}
	if req.CalendarData != nil {
		data, err := encodeEvent(ev, h.cfg)
		if err == nil {
			found.CalendarData = davxml.StrPtr(string(data))
		} else {
			notFound.CalendarData = req.CalendarData
		}
	}
	if req.ResourceType != nil {
		found.ResourceType = &davxml.ResourceType{}
	}
	if req.DisplayName != nil {
		notFound.DisplayName = req.DisplayName
	}
	if req.CalendarDescription != nil {
		notFound.CalendarDescription = req.CalendarDescription
	}
	if req.GetCTag != nil {
		notFound.GetCTag = req.GetCTag
	}
	if req.SupportedCalendarComponentSet != nil {
		notFound.SupportedCalendarComponentSet = &davxml.SupportedCompSet{}
	}
	if req.CalendarHomeSet != nil {
		notFound.CalendarHomeSet = &davxml.HrefProp{}
	}
	if req.CurrentUserPrincipal != nil {
		notFound.CurrentUserPrincipal = &davxml.HrefProp{}
	}
	if req.Owner != nil {
		notFound.Owner = &davxml.HrefProp{}
	}
	if req.SupportedReportSet != nil {
		notFound.SupportedReportSet = &davxml.SupportedReportSet{}
	}
	if req.SyncToken != nil {
		notFound.SyncToken = davxml.StrPtr("")
	}
	return found, notFound
}
