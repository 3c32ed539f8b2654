// Package postgres is the sole Store implementation, backed by pgxpool and
// raw SQL (no ORM).
package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/calendar-server/internal/apperr"
	"github.com/sonroyaalmerol/calendar-server/internal/store"
)

type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func New(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// EnsureSchema creates every table/type/index this system needs if absent.
// Idempotent, run once at process start; there is no migration framework.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`DO $$ BEGIN
			CREATE TYPE event_status AS ENUM ('CONFIRMED','TENTATIVE','CANCELLED');
		EXCEPTION WHEN duplicate_object THEN null; END $$;`,
		`DO $$ BEGIN
			CREATE TYPE attendee_role AS ENUM ('ORGANIZER','ATTENDEE');
		EXCEPTION WHEN duplicate_object THEN null; END $$;`,
		`DO $$ BEGIN
			CREATE TYPE attendee_status AS ENUM ('NEEDS-ACTION','ACCEPTED','DECLINED','TENTATIVE');
		EXCEPTION WHEN duplicate_object THEN null; END $$;`,
		`DO $$ BEGIN
			CREATE TYPE outbox_status AS ENUM ('pending','processing','completed','failed');
		EXCEPTION WHEN duplicate_object THEN null; END $$;`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id bigint PRIMARY KEY,
			handle text,
			timezone text NOT NULL DEFAULT 'UTC',
			sync_seq bigint NOT NULL DEFAULT 0,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS users_handle_lower_idx ON users (lower(handle)) WHERE handle IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS events (
			id uuid PRIMARY KEY,
			user_id bigint NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			uid text NOT NULL,
			summary text NOT NULL DEFAULT '',
			description text NOT NULL DEFAULT '',
			location text NOT NULL DEFAULT '',
			is_all_day boolean NOT NULL DEFAULT false,
			start_at timestamptz,
			end_at timestamptz,
			start_date date,
			end_date date,
			status event_status NOT NULL DEFAULT 'CONFIRMED',
			rrule text NOT NULL DEFAULT '',
			timezone text NOT NULL DEFAULT 'UTC',
			version bigint NOT NULL DEFAULT 1,
			etag text NOT NULL,
			changed_seq bigint NOT NULL DEFAULT 0,
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now(),
			UNIQUE(user_id, uid),
			CHECK (
				(is_all_day AND start_date IS NOT NULL AND end_date IS NOT NULL AND start_at IS NULL AND end_at IS NULL)
				OR
				(NOT is_all_day AND start_at IS NOT NULL AND end_at IS NOT NULL AND start_date IS NULL AND end_date IS NULL)
			)
		)`,
		`CREATE TABLE IF NOT EXISTS attendees (
			event_id uuid NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			email text NOT NULL,
			user_id bigint,
			role attendee_role NOT NULL DEFAULT 'ATTENDEE',
			status attendee_status NOT NULL DEFAULT 'NEEDS-ACTION',
			PRIMARY KEY (event_id, email)
		)`,
		`CREATE TABLE IF NOT EXISTS tombstones (
			user_id bigint NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			uid text NOT NULL,
			deleted_at timestamptz NOT NULL DEFAULT now(),
			token_at_delete bigint NOT NULL,
			PRIMARY KEY (user_id, uid)
		)`,
		`CREATE TABLE IF NOT EXISTS device_passwords (
			id uuid PRIMARY KEY,
			user_id bigint NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			display_name text NOT NULL,
			hash text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now(),
			last_used_at timestamptz
		)`,
		`CREATE TABLE IF NOT EXISTS outbox_messages (
			id uuid PRIMARY KEY,
			message_type text NOT NULL,
			payload jsonb NOT NULL,
			status outbox_status NOT NULL DEFAULT 'pending',
			retry_count int NOT NULL DEFAULT 0,
			scheduled_at timestamptz NOT NULL DEFAULT now(),
			processed_at timestamptz,
			error_message text,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox_messages (status, scheduled_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS outbox_failed_idx ON outbox_messages (status, created_at) WHERE status = 'failed'`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func syncToken(seq int64) string { return "seq:" + itoa(seq) }

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

func parseSyncToken(tok string) (int64, bool) {
	if !strings.HasPrefix(tok, "seq:") {
		return 0, false
	}
	v := strings.TrimPrefix(tok, "seq:")
	if v == "" {
		return 0, false
	}
	var n int64
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

// ResolveUserID tries a numeric identifier first, then a case-insensitive
// handle lookup — mirrors the Basic-auth username resolution in internal/auth.
func (s *Store) ResolveUserID(ctx context.Context, identifier string) (int64, error) {
	if n, ok := parseInt64(identifier); ok {
		return n, nil
	}
	row := s.pool.QueryRow(ctx, `SELECT user_id FROM users WHERE lower(handle) = lower($1)`, identifier)
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.Wrap(apperr.NotFound, "user %q", identifier)
		}
		return 0, err
	}
	return id, nil
}

func parseInt64(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

func (s *Store) GetOrCreateUser(ctx context.Context, userID int64, handle, tz string) (*store.User, error) {
	if tz == "" {
		tz = "UTC"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (user_id, handle, timezone)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (user_id) DO UPDATE SET
			handle = COALESCE(NULLIF(EXCLUDED.handle, ''), users.handle),
			timezone = CASE WHEN EXCLUDED.timezone <> '' THEN EXCLUDED.timezone ELSE users.timezone END,
			updated_at = now()
		RETURNING user_id, coalesce(handle, ''), timezone, sync_seq, created_at, updated_at
	`, userID, handle, tz)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, coalesce(handle, ''), timezone, sync_seq, created_at, updated_at
		FROM users WHERE user_id = $1
	`, userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.NotFound, "user %d", userID)
		}
		return nil, err
	}
	return u, nil
}

func scanUser(row pgx.Row) (*store.User, error) {
	var u store.User
	var seq int64
	if err := row.Scan(&u.ID, &u.Handle, &u.Timezone, &seq, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.SyncToken = syncToken(seq)
	u.CTag = syncToken(seq)
	return &u, nil
}

func (s *Store) ListEvents(ctx context.Context, userID int64, opts store.ListEventsOptions) ([]*store.Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	q := strings.Builder{}
	q.WriteString(eventSelectCols + ` FROM events WHERE user_id = $1`)
	args := []any{userID}
	if opts.Start != nil {
		args = append(args, *opts.Start)
		q.WriteString(` AND (coalesce(end_at, end_date::timestamptz) >= $` + itoa(int64(len(args))))
		q.WriteString(`)`)
	}
	if opts.End != nil {
		args = append(args, *opts.End)
		q.WriteString(` AND (coalesce(start_at, start_date::timestamptz) <= $` + itoa(int64(len(args))))
		q.WriteString(`)`)
	}
	q.WriteString(` ORDER BY coalesce(start_at, start_date::timestamptz) ASC`)
	args = append(args, limit)
	q.WriteString(` LIMIT $` + itoa(int64(len(args))))
	args = append(args, opts.Offset)
	q.WriteString(` OFFSET $` + itoa(int64(len(args))))

	rows, err := s.pool.Query(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

const eventSelectCols = `SELECT id, user_id, uid, summary, description, location, is_all_day,
	start_at, end_at, start_date, end_date, status, rrule, timezone, version, etag, created_at, updated_at`

func scanEvent(row pgx.Row) (*store.Event, error) {
	var ev store.Event
	var startAt, endAt *time.Time
	var startDate, endDate *time.Time
	if err := row.Scan(&ev.ID, &ev.UserID, &ev.UID, &ev.Summary, &ev.Description, &ev.Location, &ev.IsAllDay,
		&startAt, &endAt, &startDate, &endDate, &ev.Status, &ev.RRule, &ev.Timezone, &ev.Version, &ev.ETag,
		&ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return nil, err
	}
	if startAt != nil {
		ev.Start = *startAt
	}
	if endAt != nil {
		ev.End = *endAt
	}
	if startDate != nil {
		ev.StartDate = *startDate
	}
	if endDate != nil {
		ev.EndDate = *endDate
	}
	return &ev, nil
}

func (s *Store) GetEvent(ctx context.Context, userID int64, sel store.EventSelector) (*store.Event, error) {
	var row pgx.Row
	if sel.UID != "" {
		row = s.pool.QueryRow(ctx, eventSelectCols+` FROM events WHERE user_id = $1 AND uid = $2`, userID, sel.UID)
	} else {
		row = s.pool.QueryRow(ctx, eventSelectCols+` FROM events WHERE user_id = $1 AND id = $2`, userID, sel.ID)
	}
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.NotFound, "event")
		}
		return nil, err
	}
	return ev, nil
}

// PutEvent upserts ev under the precondition pre, bumping the owning user's
// sync counter and enqueueing an event.created/event.updated outbox row, all
// in one transaction. The user row is locked with SELECT ... FOR UPDATE
// before the counter bump so concurrent writers to the same user serialize
// deterministically.
func (s *Store) PutEvent(ctx context.Context, userID int64, ev *store.Event, pre store.Precondition) (*store.PutResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT sync_seq FROM users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.NotFound, "user %d", userID)
		}
		return nil, err
	}

	existing, err := s.getEventTx(ctx, tx, userID, ev.UID)
	if err != nil && !apperr.Is(err, apperr.NotFound) {
		return nil, err
	}

	switch pre.Kind {
	case store.IfNoneMatchAny:
		if existing != nil {
			return nil, apperr.Wrap(apperr.AlreadyExists, "uid %q", ev.UID)
		}
	case store.IfMatch:
		if existing == nil {
			return nil, apperr.Wrap(apperr.NotFound, "uid %q", ev.UID)
		}
		if existing.ETag != pre.ETag {
			return nil, apperr.Wrap(apperr.PreconditionFailed, "etag mismatch for %q", ev.UID)
		}
	}

	outcome := store.Created
	if existing != nil {
		outcome = store.Updated
		ev.ID = existing.ID
		ev.Version = existing.Version + 1
	} else {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		ev.Version = 1
	}
	ev.ETag = store.ComputeETag(ev)

	var startAt, endAt, startDate, endDate any
	if ev.IsAllDay {
		startDate, endDate = ev.StartDate, ev.EndDate
	} else {
		startAt, endAt = ev.Start, ev.End
	}

	newSeq := seq + 1

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, user_id, uid, summary, description, location, is_all_day,
			start_at, end_at, start_date, end_date, status, rrule, timezone, version, etag, changed_seq)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (user_id, uid) DO UPDATE SET
			summary = EXCLUDED.summary, description = EXCLUDED.description, location = EXCLUDED.location,
			is_all_day = EXCLUDED.is_all_day, start_at = EXCLUDED.start_at, end_at = EXCLUDED.end_at,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date, status = EXCLUDED.status,
			rrule = EXCLUDED.rrule, timezone = EXCLUDED.timezone, version = EXCLUDED.version,
			etag = EXCLUDED.etag, changed_seq = EXCLUDED.changed_seq, updated_at = now()
	`, ev.ID, userID, ev.UID, ev.Summary, ev.Description, ev.Location, ev.IsAllDay,
		startAt, endAt, startDate, endDate, ev.Status, ev.RRule, ev.Timezone, ev.Version, ev.ETag, newSeq)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM tombstones WHERE user_id = $1 AND uid = $2`, userID, ev.UID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET sync_seq = $1, updated_at = now() WHERE user_id = $2`, newSeq, userID); err != nil {
		return nil, err
	}

	msgType := "event.created"
	if outcome == store.Updated {
		msgType = "event.updated"
	}
	if err := enqueueOutboxTx(ctx, tx, msgType, eventOutboxPayload(userID, ev.UID)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &store.PutResult{Outcome: outcome, ETag: ev.ETag}, nil
}

func (s *Store) getEventTx(ctx context.Context, tx pgx.Tx, userID int64, uid string) (*store.Event, error) {
	row := tx.QueryRow(ctx, eventSelectCols+` FROM events WHERE user_id = $1 AND uid = $2`, userID, uid)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.NotFound, "uid %q", uid)
		}
		return nil, err
	}
	return ev, nil
}

func (s *Store) DeleteEvent(ctx context.Context, userID int64, uid string, pre store.Precondition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT sync_seq FROM users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Wrap(apperr.NotFound, "user %d", userID)
		}
		return err
	}

	existing, err := s.getEventTx(ctx, tx, userID, uid)
	if err != nil {
		return err
	}
	if pre.Kind == store.IfMatch && existing.ETag != pre.ETag {
		return apperr.Wrap(apperr.PreconditionFailed, "etag mismatch for %q", uid)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM events WHERE user_id = $1 AND uid = $2`, userID, uid); err != nil {
		return err
	}

	newSeq := seq + 1
	if _, err := tx.Exec(ctx, `
		INSERT INTO tombstones (user_id, uid, token_at_delete) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, uid) DO UPDATE SET deleted_at = now(), token_at_delete = EXCLUDED.token_at_delete
	`, userID, uid, newSeq); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET sync_seq = $1, updated_at = now() WHERE user_id = $2`, newSeq, userID); err != nil {
		return err
	}
	if err := enqueueOutboxTx(ctx, tx, "event.deleted", eventOutboxPayload(userID, uid)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) ChangesSince(ctx context.Context, userID int64, token string) (*store.ChangeSet, error) {
	var curSeq int64
	if err := s.pool.QueryRow(ctx, `SELECT sync_seq FROM users WHERE user_id = $1`, userID).Scan(&curSeq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.NotFound, "user %d", userID)
		}
		return nil, err
	}

	sinceSeq := int64(0)
	if token != "" {
		n, ok := parseSyncToken(token)
		if !ok || n < 0 || n > curSeq {
			return nil, apperr.Wrap(apperr.InvalidSyncToken, "token %q", token)
		}
		sinceSeq = n
	}

	out := &store.ChangeSet{NewToken: syncToken(curSeq)}
	if sinceSeq == curSeq {
		return out, nil
	}

	// Every event row whose changed_seq was stamped strictly after sinceSeq has
	// changed; its version tells the two cases apart: version 1 is reported
	// as "added", anything later as "modified".
	modRows, err := s.pool.Query(ctx, `SELECT uid, version FROM events WHERE user_id = $1 AND changed_seq > $2`, userID, sinceSeq)
	if err != nil {
		return nil, err
	}
	defer modRows.Close()
	for modRows.Next() {
		var uid string
		var version int64
		if err := modRows.Scan(&uid, &version); err != nil {
			return nil, err
		}
		if version == 1 {
			out.Added = append(out.Added, uid)
		} else {
			out.Modified = append(out.Modified, uid)
		}
	}
	if err := modRows.Err(); err != nil {
		return nil, err
	}

	delRows, err := s.pool.Query(ctx, `
		SELECT uid FROM tombstones WHERE user_id = $1 AND token_at_delete > $2
	`, userID, sinceSeq)
	if err != nil {
		return nil, err
	}
	defer delRows.Close()
	for delRows.Next() {
		var uid string
		if err := delRows.Scan(&uid); err != nil {
			return nil, err
		}
		out.Deleted = append(out.Deleted, uid)
	}
	return out, delRows.Err()
}
