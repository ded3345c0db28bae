// Package repository implements the catalog and registration store.
//
// Two implementations share the Store contract: PostgresStore, which uses
// pgx directly (no ORM), and MemoryStore, an in-process store with the same
// transactional semantics. All mutations happen inside Store.Update so that a
// failed unit of work leaves no partial writes behind.
package repository

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would break referential consistency,
// such as deleting a track that sessions still reference.
var ErrConflict = errors.New("conflict")

// ErrAlreadyRegistered is returned when an email address (compared
// case-insensitively) is already in use.
var ErrAlreadyRegistered = errors.New("email already registered")

// ErrWriteConflict is returned when a transaction lost a race against a
// concurrent one and was aborted by the store. The unit of work may be retried.
var ErrWriteConflict = errors.New("concurrent write conflict")

// ErrUnavailable is returned when the store could not be reached or did not
// answer before the caller's deadline.
var ErrUnavailable = errors.New("store unavailable")

// ErrReadOnly is returned when a write is attempted inside Store.View.
var ErrReadOnly = errors.New("read-only transaction")

// CatalogReader reads the event catalog. Results are fully hydrated; callers
// never need follow-up queries to resolve sessions, rooms or timeslots.
type CatalogReader interface {
	// ListTimeslotsOrdered returns all timeslots by ascending Order, ties by ID.
	ListTimeslotsOrdered(ctx context.Context) ([]model.Timeslot, error)
	// ListSessionsForTimeslot returns every session linked to the timeslot with
	// its effective capacity and the seats already taken in that timeslot,
	// ordered by session ID. Inside Store.Update the rows are locked until the
	// transaction ends.
	ListSessionsForTimeslot(ctx context.Context, timeslotID int64) ([]model.SessionAvailability, error)
	ListTracks(ctx context.Context) ([]model.Track, error)
	ListRooms(ctx context.Context) ([]model.Room, error)
	ListSessions(ctx context.Context) ([]model.Session, error)
}

// AdmissionReader reads the site admission state.
type AdmissionReader interface {
	CountRegisteredInternalUsers(ctx context.Context) (int, error)
	// GetAdmissionConfig returns the admission settings. Inside Store.Update the
	// settings row stays locked until the transaction ends, serialising every
	// registration that consults it.
	GetAdmissionConfig(ctx context.Context) (model.AdmissionConfig, error)
}

// Tx is the unit-of-work handle passed to Store.View and Store.Update.
type Tx interface {
	CatalogReader
	AdmissionReader

	GetUser(ctx context.Context, id string) (*model.User, error)
	ListPlacements(ctx context.Context, userID string) ([]model.Placement, error)

	CreateUser(ctx context.Context, user *model.User) error
	InsertPlacement(ctx context.Context, userID string, p model.Placement) error
	SetAdmissionConfig(ctx context.Context, cfg model.AdmissionConfig) error

	CreateTrack(ctx context.Context, track *model.Track) error
	CreateRoom(ctx context.Context, room *model.Room) error
	CreateTimeslot(ctx context.Context, slot *model.Timeslot) error
	// CreateSession inserts the session and links it to session.TimeslotIDs.
	CreateSession(ctx context.Context, session *model.Session) error
	LinkSessionTimeslot(ctx context.Context, sessionID, timeslotID int64) error
	DeleteTrack(ctx context.Context, id int64) error
	DeleteRoom(ctx context.Context, id int64) error
	DeleteTimeslot(ctx context.Context, id int64) error
	DeleteSession(ctx context.Context, id int64) error
}

// Store runs units of work against the catalog.
type Store interface {
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Update runs fn in a single transaction. Changes are committed only when
	// fn returns nil; otherwise none of them are observable.
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// AdmissionState reads the admission settings and the internal user count.
func AdmissionState(ctx context.Context, r AdmissionReader) (model.AdmissionState, error) {
	cfg, err := r.GetAdmissionConfig(ctx)
	if err != nil {
		return model.AdmissionState{}, err
	}
	count, err := r.CountRegisteredInternalUsers(ctx)
	if err != nil {
		return model.AdmissionState{}, err
	}
	return model.AdmissionState{AdmissionConfig: cfg, RegisteredInternal: count}, nil
}

// Overview lists the ordered timeslots with their sessions.
func Overview(ctx context.Context, r CatalogReader) ([]model.TimeslotOverview, error) {
	slots, err := r.ListTimeslotsOrdered(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.TimeslotOverview, 0, len(slots))
	for _, slot := range slots {
		sessions, err := r.ListSessionsForTimeslot(ctx, slot.ID)
		if err != nil {
			return nil, err
		}
		if sessions == nil {
			sessions = []model.SessionAvailability{}
		}
		out = append(out, model.TimeslotOverview{Timeslot: slot, Sessions: sessions})
	}
	return out, nil
}
