package api

import (
	"errors"
	"time"

	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

var (
	errMissingDates = errors.New("start_date and end_date are required for an all-day event")
	errMissingTimes = errors.New("start and end are required for a timed event")
	errBothSet      = errors.New("start/end and start_date/end_date are mutually exclusive")
)

// attendeeDTO mirrors store.Attendee over the wire.
type attendeeDTO struct {
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// eventDTO is the canonical JSON rendering of a store.Event: timed events
// carry start/end as RFC 3339 UTC timestamps, all-day events carry
// start_date/end_date as YYYY-MM-DD, never both.
type eventDTO struct {
	ID          string        `json:"id"`
	UID         string        `json:"uid"`
	Summary     string        `json:"summary"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	IsAllDay    bool          `json:"is_all_day"`
	Start       *time.Time    `json:"start,omitempty"`
	End         *time.Time    `json:"end,omitempty"`
	StartDate   *string       `json:"start_date,omitempty"`
	EndDate     *string       `json:"end_date,omitempty"`
	Status      string        `json:"status"`
	RRule       string        `json:"rrule,omitempty"`
	Timezone    string        `json:"timezone,omitempty"`
	Attendees   []attendeeDTO `json:"attendees,omitempty"`
	ETag        string        `json:"etag"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

const dateOnly = "2006-01-02"

func toEventDTO(ev *store.Event) eventDTO {
	dto := eventDTO{
		ID:          ev.ID,
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		IsAllDay:    ev.IsAllDay,
		Status:      string(ev.Status),
		RRule:       ev.RRule,
		Timezone:    ev.Timezone,
		ETag:        ev.ETag,
		CreatedAt:   ev.CreatedAt.UTC(),
		UpdatedAt:   ev.UpdatedAt.UTC(),
	}
	if ev.IsAllDay {
		sd, ed := ev.StartDate.UTC().Format(dateOnly), ev.EndDate.UTC().Format(dateOnly)
		dto.StartDate, dto.EndDate = &sd, &ed
	} else {
		start, end := ev.Start.UTC(), ev.End.UTC()
		dto.Start, dto.End = &start, &end
	}
	for _, a := range ev.Attendees {
		dto.Attendees = append(dto.Attendees, attendeeDTO{
			Email: a.Email, Role: string(a.Role), Status: string(a.Status),
		})
	}
	return dto
}

// eventRequest is shared by create and update. An update overwrites the full
// event, so it has the same required fields as a create ("leave unchanged"
// is not modeled).
type eventRequest struct {
	Summary     string        `json:"summary" validate:"required"`
	Description string        `json:"description"`
	Location    string        `json:"location"`
	IsAllDay    bool          `json:"is_all_day"`
	Start       *time.Time    `json:"start"`
	End         *time.Time    `json:"end"`
	StartDate   *string       `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate     *string       `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Status      string        `json:"status"`
	RRule       string        `json:"rrule"`
	Timezone    string        `json:"timezone"`
	Attendees   []attendeeDTO `json:"attendees"`
}

func (req *eventRequest) toEvent(uid string, tz string) (*store.Event, error) {
	ev := &store.Event{
		UID:         uid,
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		IsAllDay:    req.IsAllDay,
		Status:      store.StatusConfirmed,
		RRule:       req.RRule,
		Timezone:    req.Timezone,
	}
	if req.Status != "" {
		ev.Status = store.EventStatus(req.Status)
	}
	if ev.Timezone == "" {
		ev.Timezone = tz
	}

	if (req.Start != nil || req.End != nil) && (req.StartDate != nil || req.EndDate != nil) {
		return nil, errBothSet
	}

	switch {
	case req.IsAllDay:
		if req.StartDate == nil || req.EndDate == nil {
			return nil, errMissingDates
		}
		sd, err := time.Parse(dateOnly, *req.StartDate)
		if err != nil {
			return nil, err
		}
		ed, err := time.Parse(dateOnly, *req.EndDate)
		if err != nil {
			return nil, err
		}
		ev.StartDate, ev.EndDate = sd, ed
	default:
		if req.Start == nil || req.End == nil {
			return nil, errMissingTimes
		}
		ev.Start, ev.End = *req.Start, *req.End
	}

	for _, a := range req.Attendees {
		ev.Attendees = append(ev.Attendees, store.Attendee{
			Email:  a.Email,
			Role:   store.AttendeeRole(a.Role),
			Status: store.AttendeeStatus(a.Status),
		})
	}
	return ev, nil
}

// meResponse is the read-side mirror of get_or_create_user.
type meResponse struct {
	ID        int64  `json:"id"`
	Handle    string `json:"handle"`
	Timezone  string `json:"timezone"`
	SyncToken string `json:"sync_token"`
	CTag      string `json:"ctag"`
}

func toMeResponse(u *store.User) meResponse {
	return meResponse{ID: u.ID, Handle: u.Handle, Timezone: u.Timezone, SyncToken: u.SyncToken, CTag: u.CTag}
}

// deviceResponse never carries a hash or plaintext except immediately after
// creation, per the DevicePassword lifecycle note.
type deviceResponse struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	Plaintext   string     `json:"password,omitempty"`
}

func toDeviceResponse(dp *store.DevicePassword) deviceResponse {
	return deviceResponse{
		ID: dp.ID, DisplayName: dp.DisplayName, CreatedAt: dp.CreatedAt.UTC(), LastUsedAt: dp.LastUsedAt,
	}
}

type createDeviceRequest struct {
	DisplayName string `json:"display_name" validate:"required"`
}
