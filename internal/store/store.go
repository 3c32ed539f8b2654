// Package store defines the persistence contract shared by the CalDAV engine
// and the JSON API: users, their events, device-password credentials, and the
// transactional outbox. internal/store/postgres is the sole implementation.
package store

import (
	"context"
	"time"
)

type EventStatus string

const (
	StatusConfirmed EventStatus = "CONFIRMED"
	StatusTentative EventStatus = "TENTATIVE"
	StatusCancelled EventStatus = "CANCELLED"
)

type AttendeeRole string

const (
	RoleOrganizer AttendeeRole = "ORGANIZER"
	RoleAttendee  AttendeeRole = "ATTENDEE"
)

type AttendeeStatus string

const (
	AttendeeNeedsAction AttendeeStatus = "NEEDS-ACTION"
	AttendeeAccepted    AttendeeStatus = "ACCEPTED"
	AttendeeDeclined    AttendeeStatus = "DECLINED"
	AttendeeTentative   AttendeeStatus = "TENTATIVE"
)

// User is one calendar principal. One user <-> one CalDAV collection.
type User struct {
	ID        int64
	Handle    string
	Timezone  string
	SyncToken string
	CTag      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attendee is one participant on an Event, keyed by (event, email).
type Attendee struct {
	Email  string
	UserID *int64
	Role   AttendeeRole
	Status AttendeeStatus
}

// Event is one VEVENT, owned by exactly one user.
type Event struct {
	ID          string
	UserID      int64
	UID         string
	Summary     string
	Description string
	Location    string

	// Exactly one of (Start,End) or (StartDate,EndDate) is set, per IsAllDay.
	IsAllDay  bool
	Start     time.Time
	End       time.Time
	StartDate time.Time
	EndDate   time.Time

	Status    EventStatus
	RRule     string
	Timezone  string
	Attendees []Attendee

	Version   int64
	ETag      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventSelector names one event either by its stable iCalendar UID or by its
// surrogate store id. Exactly one field should be set.
type EventSelector struct {
	UID string
	ID  string
}

func ByUID(uid string) EventSelector { return EventSelector{UID: uid} }
func ByID(id string) EventSelector   { return EventSelector{ID: id} }

// ListEventsOptions bounds a list_events call. Start/End select events whose
// range overlaps the window, not events fully contained by it.
type ListEventsOptions struct {
	Start  *time.Time
	End    *time.Time
	Limit  int
	Offset int
}

// PreconditionKind is one of the three put_event/delete_event dispositions.
type PreconditionKind int

const (
	Unconditional PreconditionKind = iota
	IfNoneMatchAny
	IfMatch
)

type Precondition struct {
	Kind PreconditionKind
	ETag string
}

// PutOutcome reports whether put_event created a new resource or replaced one.
type PutOutcome int

const (
	Created PutOutcome = iota
	Updated
)

type PutResult struct {
	Outcome PutOutcome
	ETag    string
}

// ChangeSet is the delta changes_since returns: uids added/modified since the
// caller's token, uids of resources deleted since then, and the new token to
// present on the next call.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
	NewToken string
}

type DevicePassword struct {
	ID          string
	UserID      int64
	DisplayName string
	Hash        string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxCompleted  OutboxStatus = "completed"
	OutboxFailed     OutboxStatus = "failed"
)

type OutboxMessage struct {
	ID           string
	MessageType  string
	Payload      []byte
	Status       OutboxStatus
	RetryCount   int
	ScheduledAt  time.Time
	ProcessedAt  *time.Time
	ErrorMessage string
	CreatedAt    time.Time
}

// Store is the persistence contract. Every mutating method that touches an
// Event also bumps the owning user's sync_token/ctag and enqueues an outbox
// row, all inside the same transaction.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()

	// ResolveUserID resolves a CalDAV/Basic-auth username to a user id: a
	// numeric identifier is tried first, then a case-insensitive handle
	// lookup.
	ResolveUserID(ctx context.Context, identifier string) (int64, error)

	GetOrCreateUser(ctx context.Context, userID int64, handle, tz string) (*User, error)
	GetUser(ctx context.Context, userID int64) (*User, error)

	ListEvents(ctx context.Context, userID int64, opts ListEventsOptions) ([]*Event, error)
	GetEvent(ctx context.Context, userID int64, sel EventSelector) (*Event, error)
	PutEvent(ctx context.Context, userID int64, ev *Event, pre Precondition) (*PutResult, error)
	DeleteEvent(ctx context.Context, userID int64, uid string, pre Precondition) error

	// ChangesSince returns an error of kind apperr.InvalidSyncToken when token
	// is non-empty and unrecognized.
	ChangesSince(ctx context.Context, userID int64, token string) (*ChangeSet, error)

	VerifyDevicePassword(ctx context.Context, userID int64, plaintext string) (bool, error)
	ListDevicePasswords(ctx context.Context, userID int64) ([]*DevicePassword, error)
	CreateDevicePassword(ctx context.Context, userID int64, displayName string) (dp *DevicePassword, plaintext string, err error)
	RevokeDevicePassword(ctx context.Context, userID int64, id string) error

	DequeueOutboxBatch(ctx context.Context, limit int) ([]*OutboxMessage, error)
	CompleteOutboxMessage(ctx context.Context, id string) error
	RetryOutboxMessage(ctx context.Context, id string, errMsg string, nextAttempt time.Time, maxRetries int) error
}
