// Package storetest provides an in-memory store.Store fake for exercising
// internal/api and internal/outbox without a real Postgres instance.
package storetest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

type Fake struct {
	mu        sync.Mutex
	users     map[int64]*store.User
	events    map[int64]map[string]*store.Event // userID -> uid -> event
	devices   map[int64]map[string]*store.DevicePassword
	outbox    []*store.OutboxMessage
	nextToken map[int64]int
}

func New() *Fake {
	return &Fake{
		users:     make(map[int64]*store.User),
		events:    make(map[int64]map[string]*store.Event),
		devices:   make(map[int64]map[string]*store.DevicePassword),
		nextToken: make(map[int64]int),
	}
}

func (f *Fake) EnsureSchema(context.Context) error { return nil }
func (f *Fake) Ping(context.Context) error         { return nil }
func (f *Fake) Close()                             {}

func (f *Fake) ResolveUserID(_ context.Context, identifier string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		if _, ok := f.users[id]; ok {
			return id, nil
		}
	}
	for _, u := range f.users {
		if u.Handle == identifier {
			return u.ID, nil
		}
	}
	return 0, apperr.Wrap(apperr.NotFound, "unknown user %q", identifier)
}

func (f *Fake) GetOrCreateUser(_ context.Context, userID int64, handle, tz string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	u := &store.User{ID: userID, Handle: handle, Timezone: tz, SyncToken: "0", CTag: "0", CreatedAt: time.Unix(0, 0), UpdatedAt: time.Unix(0, 0)}
	f.users[userID] = u
	f.events[userID] = make(map[string]*store.Event)
	f.devices[userID] = make(map[string]*store.DevicePassword)
	return u, nil
}

func (f *Fake) GetUser(_ context.Context, userID int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, apperr.Wrap(apperr.NotFound, "user %d", userID)
	}
	return u, nil
}

func (f *Fake) bump(userID int64) string {
	f.nextToken[userID]++
	tok := strconv.Itoa(f.nextToken[userID])
	if u, ok := f.users[userID]; ok {
		u.SyncToken, u.CTag = tok, tok
	}
	return tok
}

func (f *Fake) ListEvents(_ context.Context, userID int64, opts store.ListEventsOptions) ([]*store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Event
	for _, ev := range f.events[userID] {
		if opts.Start != nil && overlapsEnd(ev).Before(*opts.Start) {
			continue
		}
		if opts.End != nil && overlapsStart(ev).After(*opts.End) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	if opts.Offset > 0 && opts.Offset < len(out) {
		out = out[opts.Offset:]
	} else if opts.Offset >= len(out) {
		out = nil
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func overlapsStart(ev *store.Event) time.Time {
	if ev.IsAllDay {
		return ev.StartDate
	}
	return ev.Start
}

func overlapsEnd(ev *store.Event) time.Time {
	if ev.IsAllDay {
		return ev.EndDate
	}
	return ev.End
}

func (f *Fake) GetEvent(_ context.Context, userID int64, sel store.EventSelector) (*store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userEvents := f.events[userID]
	if sel.UID != "" {
		if ev, ok := userEvents[sel.UID]; ok {
			return ev, nil
		}
		return nil, apperr.Wrap(apperr.NotFound, "uid %q", sel.UID)
	}
	for _, ev := range userEvents {
		if ev.ID == sel.ID {
			return ev, nil
		}
	}
	return nil, apperr.Wrap(apperr.NotFound, "id %q", sel.ID)
}

func (f *Fake) PutEvent(_ context.Context, userID int64, ev *store.Event, pre store.Precondition) (*store.PutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userEvents := f.events[userID]
	if userEvents == nil {
		userEvents = make(map[string]*store.Event)
		f.events[userID] = userEvents
	}
	existing, exists := userEvents[ev.UID]

	switch pre.Kind {
	case store.IfNoneMatchAny:
		if exists {
			return nil, apperr.Wrap(apperr.PreconditionFailed, "resource exists")
		}
	case store.IfMatch:
		if !exists || existing.ETag != pre.ETag {
			return nil, apperr.Wrap(apperr.PreconditionFailed, "etag mismatch")
		}
	}

	if ev.ID == "" {
		if exists {
			ev.ID = existing.ID
		} else {
			ev.ID = uuid.NewString()
		}
	}
	ev.UserID = userID
	if exists {
		ev.Version = existing.Version + 1
		ev.CreatedAt = existing.CreatedAt
	} else {
		ev.Version = 1
		ev.CreatedAt = time.Now()
	}
	ev.UpdatedAt = time.Now()
	ev.ETag = store.ComputeETag(ev)
	userEvents[ev.UID] = ev

	f.bump(userID)
	f.outbox = append(f.outbox, &store.OutboxMessage{
		ID: uuid.NewString(), MessageType: "event.updated", Status: store.OutboxPending, CreatedAt: time.Now(),
	})

	outcome := store.Updated
	if !exists {
		outcome = store.Created
	}
	return &store.PutResult{Outcome: outcome, ETag: ev.ETag}, nil
}

func (f *Fake) DeleteEvent(_ context.Context, userID int64, uid string, pre store.Precondition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	userEvents := f.events[userID]
	existing, ok := userEvents[uid]
	if !ok {
		return apperr.Wrap(apperr.NotFound, "uid %q", uid)
	}
	if pre.Kind == store.IfMatch && existing.ETag != pre.ETag {
		return apperr.Wrap(apperr.PreconditionFailed, "etag mismatch")
	}
	delete(userEvents, uid)
	f.bump(userID)
	return nil
}

func (f *Fake) ChangesSince(_ context.Context, userID int64, token string) (*store.ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.nextToken[userID]
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 || n > cur {
			return nil, apperr.Wrap(apperr.InvalidSyncToken, "token %q", token)
		}
	}
	var added []string
	for uid := range f.events[userID] {
		added = append(added, uid)
	}
	sort.Strings(added)
	return &store.ChangeSet{Added: added, NewToken: strconv.Itoa(cur)}, nil
}

func (f *Fake) VerifyDevicePassword(_ context.Context, userID int64, plaintext string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, dp := range f.devices[userID] {
		if dp.Hash == plaintext {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) ListDevicePasswords(_ context.Context, userID int64) ([]*store.DevicePassword, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.DevicePassword
	for _, dp := range f.devices[userID] {
		out = append(out, dp)
	}
	return out, nil
}

func (f *Fake) CreateDevicePassword(_ context.Context, userID int64, displayName string) (*store.DevicePassword, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plaintext := uuid.NewString()
	dp := &store.DevicePassword{ID: uuid.NewString(), UserID: userID, DisplayName: displayName, Hash: plaintext, CreatedAt: time.Now()}
	if f.devices[userID] == nil {
		f.devices[userID] = make(map[string]*store.DevicePassword)
	}
	f.devices[userID][dp.ID] = dp
	return dp, plaintext, nil
}

func (f *Fake) RevokeDevicePassword(_ context.Context, userID int64, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[userID][id]; !ok {
		return apperr.Wrap(apperr.NotFound, "device %q", id)
	}
	delete(f.devices[userID], id)
	return nil
}

func (f *Fake) DequeueOutboxBatch(_ context.Context, limit int) ([]*store.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.OutboxMessage
	for _, m := range f.outbox {
		if m.Status != store.OutboxPending {
			continue
		}
		m.Status = store.OutboxProcessing
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) CompleteOutboxMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.outbox {
		if m.ID == id {
			m.Status = store.OutboxCompleted
			return nil
		}
	}
	return apperr.Wrap(apperr.NotFound, "message %q", id)
}

func (f *Fake) RetryOutboxMessage(_ context.Context, id, errMsg string, nextAttempt time.Time, maxRetries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.outbox {
		if m.ID == id {
			m.RetryCount++
			m.ErrorMessage = errMsg
			m.ScheduledAt = nextAttempt
			if m.RetryCount > maxRetries {
				m.Status = store.OutboxFailed
			} else {
				m.Status = store.OutboxPending
			}
			return nil
		}
	}
	return apperr.Wrap(apperr.NotFound, "message %q", id)
}

// EnqueuePending seeds a pending outbox row directly, for worker tests that
// need to control exactly what's dequeued.
func (f *Fake) EnqueuePending(messageType string, payload []byte) *store.OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &store.OutboxMessage{
		ID: uuid.NewString(), MessageType: messageType, Payload: payload,
		Status: store.OutboxPending, CreatedAt: time.Now(),
	}
	f.outbox = append(f.outbox, m)
	return m
}

// OutboxStatus returns the current status of a seeded message, for test
// assertions after a worker tick.
func (f *Fake) OutboxStatus(id string) store.OutboxStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.outbox {
		if m.ID == id {
			return m.Status
		}
	}
	return ""
}

var _ store.Store = (*Fake)(nil)
