package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// emailIndex is the unique index enforcing case-insensitive email uniqueness.
const emailIndex = "users_email_lower_idx"

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// View runs fn inside a READ ONLY transaction at REPEATABLE READ, giving it
// one consistent snapshot.
func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, true, fn)
}

// Update runs fn inside a SERIALIZABLE transaction.
//
// ─────────────────────────────────────────────────────────────────────────────
// RACE CONDITION EXPLAINED
// ─────────────────────────────────────────────────────────────────────────────
//
// The admission check and the seat check are both read-then-write:
//
//	tx A: SELECT COUNT(*) FROM users WHERE is_internal  → 1 (max 2)
//	tx B: SELECT COUNT(*) FROM users WHERE is_internal  → 1 (max 2)
//	tx A: INSERT INTO users …                           → count 2
//	tx B: INSERT INTO users …                           → count 3. OVER CAPACITY.
//
// Two layers prevent this:
//
//  1. GetAdmissionConfig and ListSessionsForTimeslot take SELECT … FOR UPDATE
//     row locks (the single admission row, and the timeslot's link rows), so
//     concurrent registrations queue behind each other instead of reading the
//     same stale counts.
//  2. The transaction is SERIALIZABLE, so any interleaving the locks do not
//     cover is aborted by PostgreSQL with SQLSTATE 40001. That surfaces as
//     ErrWriteConflict and the caller retries the whole unit of work.
//
// ─────────────────────────────────────────────────────────────────────────────
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, false, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts pgx.TxOptions, readOnly bool, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return classify("begin transaction", err)
	}
	// Ensure the transaction is always resolved, even when ctx has expired.
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(&pgTx{tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// classify maps driver errors onto the package's sentinel errors, keeping the
// original error in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w: %w", op, ErrWriteConflict, err)
		case "23505": // unique_violation
			if pgErr.ConstraintName == emailIndex {
				return ErrAlreadyRegistered
			}
			return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
		case "25006": // read_only_sql_transaction
			return fmt.Errorf("%s: %w", op, ErrReadOnly)
		case "57014", "57P01", "57P03": // query_canceled, admin_shutdown, cannot_connect_now
			return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
		}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// missingReference turns a foreign key violation on insert into ErrNotFound.
func missingReference(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, pgErr.Detail)
	}
	return classify(op, err)
}

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

// forUpdate appends a row-locking clause outside read-only transactions.
func (t *pgTx) forUpdate(query string) string {
	if t.readOnly {
		return query
	}
	return query + " FOR UPDATE"
}

func (t *pgTx) ListTimeslotsOrdered(ctx context.Context) ([]model.Timeslot, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, sort_order, starts_at, ends_at
		 FROM timeslots
		 ORDER BY sort_order ASC, id ASC`,
	)
	if err != nil {
		return nil, classify("list timeslots", err)
	}
	defer rows.Close()

	var slots []model.Timeslot
	for rows.Next() {
		var ts model.Timeslot
		if err := rows.Scan(&ts.ID, &ts.Order, &ts.Start, &ts.End); err != nil {
			return nil, classify("scan timeslot", err)
		}
		slots = append(slots, ts)
	}
	return slots, classify("list timeslots", rows.Err())
}

func (t *pgTx) ListSessionsForTimeslot(ctx context.Context, timeslotID int64) ([]model.SessionAvailability, error) {
	// Lock the timeslot's link rows first so that seat counts read below
	// cannot change until this transaction ends.
	if !t.readOnly {
		_, err := t.tx.Exec(ctx,
			`SELECT 1 FROM session_timeslots
			 WHERE timeslot_id = $1
			 ORDER BY session_id
			 FOR UPDATE`,
			timeslotID,
		)
		if err != nil {
			return nil, classify("lock timeslot seats", err)
		}
	}

	rows, err := t.tx.Query(ctx,
		`SELECT s.id, s.name, s.track_id, s.room_id, s.capacity, r.capacity,
		        ARRAY(SELECT x.timeslot_id FROM session_timeslots x
		              WHERE x.session_id = s.id ORDER BY x.timeslot_id),
		        (SELECT COUNT(*) FROM placements p
		         WHERE p.session_id = s.id AND p.timeslot_id = st.timeslot_id)
		 FROM session_timeslots st
		 JOIN sessions s ON s.id = st.session_id
		 JOIN rooms r ON r.id = s.room_id
		 WHERE st.timeslot_id = $1
		 ORDER BY s.id ASC`,
		timeslotID,
	)
	if err != nil {
		return nil, classify("list sessions for timeslot", err)
	}
	defer rows.Close()

	var out []model.SessionAvailability
	for rows.Next() {
		var (
			sa       model.SessionAvailability
			roomCap  int
			takenCnt int64
		)
		if err := rows.Scan(&sa.ID, &sa.Name, &sa.TrackID, &sa.RoomID, &sa.Capacity, &roomCap, &sa.TimeslotIDs, &takenCnt); err != nil {
			return nil, classify("scan session", err)
		}
		sa.TimeslotID = timeslotID
		sa.EffectiveCapacity = model.EffectiveCapacity(sa.Capacity, roomCap)
		sa.Taken = int(takenCnt)
		out = append(out, sa)
	}
	return out, classify("list sessions for timeslot", rows.Err())
}

func (t *pgTx) ListTracks(ctx context.Context) ([]model.Track, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name FROM tracks ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, classify("list tracks", err)
	}
	return collect(rows, "list tracks", func(r pgx.Rows) (model.Track, error) {
		var tr model.Track
		err := r.Scan(&tr.ID, &tr.Name)
		return tr, err
	})
}

func (t *pgTx) ListRooms(ctx context.Context) ([]model.Room, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name, capacity FROM rooms ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, classify("list rooms", err)
	}
	return collect(rows, "list rooms", func(r pgx.Rows) (model.Room, error) {
		var rm model.Room
		err := r.Scan(&rm.ID, &rm.Name, &rm.Capacity)
		return rm, err
	})
}

func (t *pgTx) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT s.id, s.name, s.track_id, s.room_id, s.capacity,
		        ARRAY(SELECT x.timeslot_id FROM session_timeslots x
		              WHERE x.session_id = s.id ORDER BY x.timeslot_id)
		 FROM sessions s
		 ORDER BY s.id ASC`,
	)
	if err != nil {
		return nil, classify("list sessions", err)
	}
	return collect(rows, "list sessions", func(r pgx.Rows) (model.Session, error) {
		var s model.Session
		err := r.Scan(&s.ID, &s.Name, &s.TrackID, &s.RoomID, &s.Capacity, &s.TimeslotIDs)
		return s, err
	})
}

func collect[T any](rows pgx.Rows, op string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, v)
	}
	return out, classify(op, rows.Err())
}

func (t *pgTx) CountRegisteredInternalUsers(ctx context.Context) (int, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE is_internal`).Scan(&n)
	if err != nil {
		return 0, classify("count internal users", err)
	}
	return int(n), nil
}

func (t *pgTx) GetAdmissionConfig(ctx context.Context) (model.AdmissionConfig, error) {
	var cfg model.AdmissionConfig
	err := t.tx.QueryRow(ctx,
		t.forUpdate(`SELECT max_users, manual_lock FROM admission_state WHERE id = 1`),
	).Scan(&cfg.MaxUsers, &cfg.ManualLock)
	if err != nil {
		return model.AdmissionConfig{}, classify("get admission config", err)
	}
	return cfg, nil
}

func (t *pgTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := t.tx.QueryRow(ctx,
		`SELECT id, email, name, organisation, department, is_internal, created_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.Organisation, &u.Department, &u.IsInternal, &u.CreatedAt)
	if err != nil {
		return nil, classify("get user", err)
	}
	return &u, nil
}

func (t *pgTx) ListPlacements(ctx context.Context, userID string) ([]model.Placement, error) {
	if _, err := t.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx,
		`SELECT p.timeslot_id, p.session_id
		 FROM placements p
		 JOIN timeslots ts ON ts.id = p.timeslot_id
		 WHERE p.user_id = $1
		 ORDER BY ts.sort_order ASC, ts.id ASC`,
		userID,
	)
	if err != nil {
		return nil, classify("list placements", err)
	}
	return collect(rows, "list placements", func(r pgx.Rows) (model.Placement, error) {
		var p model.Placement
		err := r.Scan(&p.TimeslotID, &p.SessionID)
		return p, err
	})
}

func (t *pgTx) CreateUser(ctx context.Context, user *model.User) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO users (id, email, name, organisation, department, is_internal, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.Name, user.Organisation, user.Department, user.IsInternal, user.CreatedAt,
	)
	return classify("insert user", err)
}

func (t *pgTx) InsertPlacement(ctx context.Context, userID string, p model.Placement) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO placements (user_id, timeslot_id, session_id)
		 VALUES ($1, $2, $3)`,
		userID, p.TimeslotID, p.SessionID,
	)
	if err != nil {
		return missingReference("insert placement", err)
	}
	return nil
}

func (t *pgTx) SetAdmissionConfig(ctx context.Context, cfg model.AdmissionConfig) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO admission_state (id, max_users, manual_lock)
		 VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET max_users = EXCLUDED.max_users, manual_lock = EXCLUDED.manual_lock`,
		cfg.MaxUsers, cfg.ManualLock,
	)
	return classify("set admission config", err)
}

func (t *pgTx) CreateTrack(ctx context.Context, track *model.Track) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO tracks (name) VALUES ($1) RETURNING id`,
		track.Name,
	).Scan(&track.ID)
	return classify("insert track", err)
}

func (t *pgTx) CreateRoom(ctx context.Context, room *model.Room) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO rooms (name, capacity) VALUES ($1, $2) RETURNING id`,
		room.Name, room.Capacity,
	).Scan(&room.ID)
	return classify("insert room", err)
}

func (t *pgTx) CreateTimeslot(ctx context.Context, slot *model.Timeslot) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO timeslots (sort_order, starts_at, ends_at) VALUES ($1, $2, $3) RETURNING id`,
		slot.Order, slot.Start, slot.End,
	).Scan(&slot.ID)
	return classify("insert timeslot", err)
}

func (t *pgTx) CreateSession(ctx context.Context, session *model.Session) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO sessions (name, track_id, room_id, capacity) VALUES ($1, $2, $3, $4) RETURNING id`,
		session.Name, session.TrackID, session.RoomID, session.Capacity,
	).Scan(&session.ID)
	if err != nil {
		return missingReference("insert session", err)
	}
	for _, slotID := range session.TimeslotIDs {
		if err := t.LinkSessionTimeslot(ctx, session.ID, slotID); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LinkSessionTimeslot(ctx context.Context, sessionID, timeslotID int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO session_timeslots (session_id, timeslot_id) VALUES ($1, $2)`,
		sessionID, timeslotID,
	)
	if err != nil {
		return missingReference("link session timeslot", err)
	}
	return nil
}

func (t *pgTx) deleteByID(ctx context.Context, op, query string, id int64) error {
	tag, err := t.tx.Exec(ctx, query, id)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteTrack(ctx context.Context, id int64) error {
	return t.deleteByID(ctx, "delete track", `DELETE FROM tracks WHERE id = $1`, id)
}

func (t *pgTx) DeleteRoom(ctx context.Context, id int64) error {
	return t.deleteByID(ctx, "delete room", `DELETE FROM rooms WHERE id = $1`, id)
}

func (t *pgTx) DeleteTimeslot(ctx context.Context, id int64) error {
	return t.deleteByID(ctx, "delete timeslot", `DELETE FROM timeslots WHERE id = $1`, id)
}

// DeleteSession removes a session and its timeslot links. Placements
// reference the links, so a session with attendees fails with ErrConflict.
func (t *pgTx) DeleteSession(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM session_timeslots WHERE session_id = $1`, id); err != nil {
		return classify("delete session links", err)
	}
	return t.deleteByID(ctx, "delete session", `DELETE FROM sessions WHERE id = $1`, id)
}
