package repository

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

type linkKey struct {
	sessionID  int64
	timeslotID int64
}

type seatKey struct {
	userID     string
	timeslotID int64
}

// memState is one version of the store. Update works on a clone and swaps it
// in on success.
type memState struct {
	nextID     int64
	tracks     map[int64]model.Track
	rooms      map[int64]model.Room
	timeslots  map[int64]model.Timeslot
	sessions   map[int64]model.Session
	links      map[linkKey]struct{}
	users      map[string]model.User
	emails     map[string]string
	placements map[seatKey]int64
	admission  model.AdmissionConfig
}

func newMemState() *memState {
	return &memState{
		tracks:     make(map[int64]model.Track),
		rooms:      make(map[int64]model.Room),
		timeslots:  make(map[int64]model.Timeslot),
		sessions:   make(map[int64]model.Session),
		links:      make(map[linkKey]struct{}),
		users:      make(map[string]model.User),
		emails:     make(map[string]string),
		placements: make(map[seatKey]int64),
	}
}

func (s *memState) clone() *memState {
	return &memState{
		nextID:     s.nextID,
		tracks:     maps.Clone(s.tracks),
		rooms:      maps.Clone(s.rooms),
		timeslots:  maps.Clone(s.timeslots),
		sessions:   maps.Clone(s.sessions),
		links:      maps.Clone(s.links),
		users:      maps.Clone(s.users),
		emails:     maps.Clone(s.emails),
		placements: maps.Clone(s.placements),
		admission:  s.admission,
	}
}

// MemoryStore is an in-process Store. Update holds an exclusive lock for the
// whole unit of work, so concurrent registrations are fully serialised.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore returns an empty store with the given admission settings.
func NewMemoryStore(admission model.AdmissionConfig) *MemoryStore {
	st := newMemState()
	st.admission = admission
	return &MemoryStore{state: st}
}

// View runs fn against the current state.
func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{st: s.state, readOnly: true})
}

// Update runs fn against a private copy of the state and publishes the copy
// only when fn succeeds.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.state = work
	return nil
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

type memTx struct {
	st       *memState
	readOnly bool
}

func (t *memTx) write(ctx context.Context) error {
	if t.readOnly {
		return ErrReadOnly
	}
	return ctxErr(ctx)
}

func (t *memTx) id() int64 {
	t.st.nextID++
	return t.st.nextID
}

func (t *memTx) ListTimeslotsOrdered(ctx context.Context) ([]model.Timeslot, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(t.st.timeslots))
	slices.SortFunc(out, func(a, b model.Timeslot) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *memTx) ListSessionsForTimeslot(ctx context.Context, timeslotID int64) ([]model.SessionAvailability, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []model.SessionAvailability
	for key := range t.st.links {
		if key.timeslotID != timeslotID {
			continue
		}
		sess := t.hydrate(t.st.sessions[key.sessionID])
		room := t.st.rooms[sess.RoomID]
		taken := 0
		for seat, sessionID := range t.st.placements {
			if seat.timeslotID == timeslotID && sessionID == sess.ID {
				taken++
			}
		}
		out = append(out, model.SessionAvailability{
			Session:           sess,
			TimeslotID:        timeslotID,
			EffectiveCapacity: model.EffectiveCapacity(sess.Capacity, room.Capacity),
			Taken:             taken,
		})
	}
	slices.SortFunc(out, func(a, b model.SessionAvailability) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) hydrate(sess model.Session) model.Session {
	sess.TimeslotIDs = nil
	for key := range t.st.links {
		if key.sessionID == sess.ID {
			sess.TimeslotIDs = append(sess.TimeslotIDs, key.timeslotID)
		}
	}
	slices.Sort(sess.TimeslotIDs)
	return sess
}

func (t *memTx) ListTracks(ctx context.Context) ([]model.Track, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(t.st.tracks))
	slices.SortFunc(out, func(a, b model.Track) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (t *memTx) ListRooms(ctx context.Context) ([]model.Room, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(t.st.rooms))
	slices.SortFunc(out, func(a, b model.Room) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (t *memTx) ListSessions(ctx context.Context) ([]model.Session, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(t.st.sessions))
	for _, sess := range t.st.sessions {
		out = append(out, t.hydrate(sess))
	}
	slices.SortFunc(out, func(a, b model.Session) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) CountRegisteredInternalUsers(ctx context.Context) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	n := 0
	for _, u := range t.st.users {
		if u.IsInternal {
			n++
		}
	}
	return n, nil
}

func (t *memTx) GetAdmissionConfig(ctx context.Context) (model.AdmissionConfig, error) {
	if err := ctxErr(ctx); err != nil {
		return model.AdmissionConfig{}, err
	}
	return t.st.admission, nil
}

func (t *memTx) GetUser(ctx context.Context, id string) (*model.User, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	u, ok := t.st.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memTx) ListPlacements(ctx context.Context, userID string) ([]model.Placement, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if _, ok := t.st.users[userID]; !ok {
		return nil, ErrNotFound
	}
	var out []model.Placement
	for seat, sessionID := range t.st.placements {
		if seat.userID == userID {
			out = append(out, model.Placement{TimeslotID: seat.timeslotID, SessionID: sessionID})
		}
	}
	order := func(id int64) int { return t.st.timeslots[id].Order }
	slices.SortFunc(out, func(a, b model.Placement) int {
		if d := order(a.TimeslotID) - order(b.TimeslotID); d != 0 {
			return d
		}
		return cmp.Compare(a.TimeslotID, b.TimeslotID)
	})
	return out, nil
}

func (t *memTx) CreateUser(ctx context.Context, user *model.User) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.st.users[user.ID]; ok {
		return fmt.Errorf("insert user %s: %w", user.ID, ErrConflict)
	}
	lower := strings.ToLower(user.Email)
	if _, ok := t.st.emails[lower]; ok {
		return ErrAlreadyRegistered
	}
	t.st.users[user.ID] = *user
	t.st.emails[lower] = user.ID
	return nil
}

func (t *memTx) InsertPlacement(ctx context.Context, userID string, p model.Placement) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.st.users[userID]; !ok {
		return fmt.Errorf("insert placement: user %s: %w", userID, ErrNotFound)
	}
	if _, ok := t.st.links[linkKey{p.SessionID, p.TimeslotID}]; !ok {
		return fmt.Errorf("insert placement: session %d in timeslot %d: %w", p.SessionID, p.TimeslotID, ErrNotFound)
	}
	seat := seatKey{userID, p.TimeslotID}
	if _, ok := t.st.placements[seat]; ok {
		return fmt.Errorf("insert placement: timeslot %d already placed: %w", p.TimeslotID, ErrConflict)
	}
	t.st.placements[seat] = p.SessionID
	return nil
}

func (t *memTx) SetAdmissionConfig(ctx context.Context, cfg model.AdmissionConfig) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	t.st.admission = cfg
	return nil
}

func (t *memTx) CreateTrack(ctx context.Context, track *model.Track) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	track.ID = t.id()
	t.st.tracks[track.ID] = *track
	return nil
}

func (t *memTx) CreateRoom(ctx context.Context, room *model.Room) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	room.ID = t.id()
	t.st.rooms[room.ID] = *room
	return nil
}

func (t *memTx) CreateTimeslot(ctx context.Context, slot *model.Timeslot) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if err := slot.Validate(); err != nil {
		return err
	}
	slot.ID = t.id()
	t.st.timeslots[slot.ID] = *slot
	return nil
}

func (t *memTx) CreateSession(ctx context.Context, session *model.Session) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.st.tracks[session.TrackID]; !ok {
		return fmt.Errorf("insert session: track %d: %w", session.TrackID, ErrNotFound)
	}
	if _, ok := t.st.rooms[session.RoomID]; !ok {
		return fmt.Errorf("insert session: room %d: %w", session.RoomID, ErrNotFound)
	}
	session.ID = t.id()
	stored := *session
	stored.TimeslotIDs = nil
	t.st.sessions[session.ID] = stored
	for _, slotID := range session.TimeslotIDs {
		if err := t.LinkSessionTimeslot(ctx, session.ID, slotID); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) LinkSessionTimeslot(ctx context.Context, sessionID, timeslotID int64) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.st.sessions[sessionID]; !ok {
		return fmt.Errorf("link session: session %d: %w", sessionID, ErrNotFound)
	}
	if _, ok := t.st.timeslots[timeslotID]; !ok {
		return fmt.Errorf("link session: timeslot %d: %w", timeslotID, ErrNotFound)
	}
	key := linkKey{sessionID, timeslotID}
	if _, ok := t.st.links[key]; ok {
		return fmt.Errorf("link session %d to timeslot %d: %w", sessionID, timeslotID, ErrConflict)
	}
	t.st.links[key] = struct{}{}
	return nil
}

func (t *memTx) DeleteTrack(ctx context.Context, id int64) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.st.tracks[id]; !ok {
		return ErrNotFound
	}
	for _, sess := range t.st.sessions {
		if sess.TrackID == id {
			return fmt.Errorf("delete track %d: referenced by session %d: %w", id, sess.ID, ErrConflict)
		}
	}
	delete(t.st.tracks, id)
	return nil
}

func (t *memTx) DeleteRoom(ctx context.Context, id int64) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.st.rooms[id]; !ok {
		return ErrNotFound
	}
	for _, sess := range t.st.sessions {
		if sess.RoomID == id {
			return fmt.Errorf("delete room %d: referenced by session %d: %w", id, sess.ID, ErrConflict)
		}
	}
	delete(t.st.rooms, id)
	return nil
}

func (t *memTx) DeleteTimeslot(ctx context.Context, id int64) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.st.timeslots[id]; !ok {
		return ErrNotFound
	}
	for key := range t.st.links {
		if key.timeslotID == id {
			return fmt.Errorf("delete timeslot %d: occupied by session %d: %w", id, key.sessionID, ErrConflict)
		}
	}
	delete(t.st.timeslots, id)
	return nil
}

// DeleteSession removes a session and its timeslot links. Sessions with
// placements cannot be deleted.
func (t *memTx) DeleteSession(ctx context.Context, id int64) error {
	if err := t.write(ctx); err != nil {
		return err
	}
	if _, ok := t.st.sessions[id]; !ok {
		return ErrNotFound
	}
	for _, sessionID := range t.st.placements {
		if sessionID == id {
			return fmt.Errorf("delete session %d: has placements: %w", id, ErrConflict)
		}
	}
	for key := range t.st.links {
		if key.sessionID == id {
			delete(t.st.links, key)
		}
	}
	delete(t.st.sessions, id)
	return nil
}
