// Package ical converts between the store's Event and RFC 5545 VCALENDAR
// bodies, built on github.com/emersion/go-ical for parsing/line-folding/CRLF
// termination (the library already folds at 75 octets and never needs a
// hand-rolled fmt.Sprintf serializer).
package ical

import (
	"bytes"
	"errors"
	"time"

	goical "github.com/emersion/go-ical"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

const dateTimeLayout = "20060102T150405Z"
const dateLayout = "20060102"

// Decode parses a VCALENDAR body containing exactly one VEVENT. Additional
// VEVENTs present for recurrence overrides are ignored; only the first is
// surfaced as the stored Event.
func Decode(data []byte) (*store.Event, error) {
	cal, err := goical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, apperr.Wrap(apperr.UnsupportedMediaType, "parse ical: %v", err)
	}

	var comp *goical.Component
	for _, child := range cal.Children {
		if child.Name == goical.CompEvent {
			comp = child
			break
		}
	}
	if comp == nil {
		return nil, apperr.Wrap(apperr.UnsupportedMediaType, "no VEVENT component")
	}

	uid := comp.Props.Get(goical.PropUID)
	if uid == nil || uid.Value == "" {
		return nil, apperr.Wrap(apperr.BadRequest, "missing UID")
	}

	dtstart := comp.Props.Get(goical.PropDateTimeStart)
	if dtstart == nil {
		return nil, apperr.Wrap(apperr.BadRequest, "missing DTSTART")
	}

	ev := &store.Event{UID: uid.Value, Status: store.StatusConfirmed}

	isAllDay := isDateValue(dtstart)
	start, err := parsePropTime(dtstart)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "bad DTSTART: %v", err)
	}

	var end time.Time
	if dtend := comp.Props.Get(goical.PropDateTimeEnd); dtend != nil {
		end, err = parsePropTime(dtend)
		if err != nil {
			return nil, apperr.Wrap(apperr.BadRequest, "bad DTEND: %v", err)
		}
	} else if dur := comp.Props.Get(goical.PropDuration); dur != nil {
		d, err := parseISODuration(dur.Value)
		if err != nil {
			return nil, apperr.Wrap(apperr.BadRequest, "bad DURATION: %v", err)
		}
		end = start.Add(d)
	} else if !isAllDay {
		return nil, apperr.Wrap(apperr.BadRequest, "DTEND or DURATION required for timed events")
	} else {
		end = start.AddDate(0, 0, 1)
	}

	ev.IsAllDay = isAllDay
	if isAllDay {
		ev.StartDate = start
		ev.EndDate = end
	} else {
		ev.Start = start
		ev.End = end
	}

	if p := comp.Props.Get(goical.PropSummary); p != nil {
		ev.Summary = p.Value
	}
	if p := comp.Props.Get(goical.PropDescription); p != nil {
		ev.Description = p.Value
	}
	if p := comp.Props.Get(goical.PropLocation); p != nil {
		ev.Location = p.Value
	}
	if p := comp.Props.Get(goical.PropStatus); p != nil && p.Value != "" {
		ev.Status = store.EventStatus(p.Value)
	}
	if p := comp.Props.Get(goical.PropRecurrenceRule); p != nil {
		ev.RRule = p.Value
	}

	for _, p := range comp.Props[goical.PropAttendee] {
		email := stripMailto(p.Value)
		if email == "" {
			continue
		}
		role := store.RoleAttendee
		status := store.AttendeeNeedsAction
		if v := p.Params.Get("ROLE"); v == "CHAIR" || v == "ORGANIZER" {
			role = store.RoleOrganizer
		}
		if v := p.Params.Get("PARTSTAT"); v != "" {
			status = store.AttendeeStatus(v)
		}
		ev.Attendees = append(ev.Attendees, store.Attendee{Email: email, Role: role, Status: status})
	}
	if p := comp.Props.Get(goical.PropOrganizer); p != nil {
		email := stripMailto(p.Value)
		if email != "" {
			ev.Attendees = append(ev.Attendees, store.Attendee{Email: email, Role: store.RoleOrganizer, Status: store.AttendeeAccepted})
		}
	}

	return ev, nil
}

// Encode serializes ev as a single-VEVENT VCALENDAR: CRLF line endings,
// VERSION:2.0, the given prodID, UTC timestamps, VALUE=DATE for all-day
// fields, and RFC 5545 escaping — all handled by go-ical's encoder, which
// folds at 75 octets itself.
func Encode(ev *store.Event, prodID string) ([]byte, error) {
	cal := &goical.Calendar{Component: &goical.Component{Name: goical.CompCalendar, Props: goical.Props{}}}
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropProductID, prodID)

	comp := &goical.Component{Name: goical.CompEvent, Props: make(goical.Props)}
	comp.Props.SetText(goical.PropUID, ev.UID)
	comp.Props.SetDateTime(goical.PropDateTimeStamp, time.Now().UTC())

	if ev.IsAllDay {
		setDateOnly(comp, goical.PropDateTimeStart, ev.StartDate)
		setDateOnly(comp, goical.PropDateTimeEnd, ev.EndDate)
	} else {
		comp.Props.SetDateTime(goical.PropDateTimeStart, ev.Start.UTC())
		comp.Props.SetDateTime(goical.PropDateTimeEnd, ev.End.UTC())
	}

	if ev.Summary != "" {
		comp.Props.SetText(goical.PropSummary, ev.Summary)
	}
	if ev.Description != "" {
		comp.Props.SetText(goical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		comp.Props.SetText(goical.PropLocation, ev.Location)
	}
	if ev.Status != "" {
		comp.Props.SetText(goical.PropStatus, string(ev.Status))
	}
	if ev.RRule != "" {
		comp.Props.SetText(goical.PropRecurrenceRule, ev.RRule)
	}
	for _, a := range ev.Attendees {
		if a.Role == store.RoleOrganizer {
			p := goical.NewProp(goical.PropOrganizer)
			p.Value = "mailto:" + a.Email
			comp.Props.Add(p)
			continue
		}
		p := goical.NewProp(goical.PropAttendee)
		p.Value = "mailto:" + a.Email
		p.Params.Set("ROLE", "REQ-PARTICIPANT")
		p.Params.Set("PARTSTAT", string(a.Status))
		comp.Props.Add(p)
	}

	cal.Children = append(cal.Children, comp)

	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode ical: %v", err)
	}
	return buf.Bytes(), nil
}

func setDateOnly(comp *goical.Component, name string, t time.Time) {
	p := goical.NewProp(name)
	p.Params.Set("VALUE", "DATE")
	p.Value = t.Format(dateLayout)
	comp.Props.Set(p)
}

func isDateValue(p *goical.Prop) bool {
	return p.Params.Get("VALUE") == "DATE" || len(p.Value) == 8
}

func parsePropTime(p *goical.Prop) (time.Time, error) {
	if isDateValue(p) {
		return time.ParseInLocation(dateLayout, p.Value, time.UTC)
	}
	v := p.Value
	if len(v) > 0 && v[len(v)-1] != 'Z' {
		return time.Time{}, errors.New("only UTC timestamps are supported")
	}
	return time.Parse(dateTimeLayout, v)
}

func stripMailto(v string) string {
	const prefix = "mailto:"
	if len(v) > len(prefix) && v[:len(prefix)] == prefix {
		return v[len(prefix):]
	}
	return v
}
