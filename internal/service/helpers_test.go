package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/techday-registration/internal/cache"
	"github.com/Shivanand-hulikatti/techday-registration/internal/logging"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
	"github.com/Shivanand-hulikatti/techday-registration/internal/queue"
	"github.com/Shivanand-hulikatti/techday-registration/internal/repository"
)

var testDepartments = []string{"D&S", "ICT", "R&I", "T&B", "VRT"}

var day = time.Date(2026, 11, 5, 9, 0, 0, 0, time.UTC)

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

type testEnv struct {
	store    *repository.MemoryStore
	gate     *AdmissionGate
	assigner *SlotAssigner
	svc      *RegistrationService
	events   *recordingPublisher
}

func newTestEnv(t testingT, maxUsers int, policy SlotPolicy, opts ...Option) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore(model.AdmissionConfig{MaxUsers: maxUsers})
	return newTestEnvWithStore(t, store, store, policy, opts...)
}

// newTestEnvWithStore wires the services against backing, which may wrap mem.
func newTestEnvWithStore(t testingT, mem *repository.MemoryStore, backing repository.Store, policy SlotPolicy, opts ...Option) *testEnv {
	t.Helper()
	logger := logging.Discard()
	gate := NewAdmissionGate(backing, cache.NewMemory(time.Minute, logger), time.Second, logger)
	assigner := NewSlotAssigner(policy, logger)
	events := &recordingPublisher{}
	all := append([]Option{WithPublisher(events), WithLogger(logger), WithRetry(3, 0)}, opts...)
	svc := NewRegistrationService(backing, gate, assigner, NewValidator("rdw.nl", "RDW", testDepartments), all...)
	return &testEnv{store: mem, gate: gate, assigner: assigner, svc: svc, events: events}
}

// catalog is the set of IDs created by seed.
type catalog struct {
	slots    []int64
	sessions map[string]int64
}

type sessionSpec struct {
	name     string
	capacity int
	roomCap  int
	slots    []int
}

// seed creates len(slotCount) consecutive timeslots and one room per
// session, then links each session to the given timeslot indexes.
func seed(t testingT, store repository.Store, slotCount int, sessions ...sessionSpec) catalog {
	t.Helper()
	out := catalog{sessions: make(map[string]int64)}
	err := store.Update(context.Background(), func(tx repository.Tx) error {
		track := model.Track{Name: "Main"}
		if err := tx.CreateTrack(context.Background(), &track); err != nil {
			return err
		}
		for i := range slotCount {
			start := day.Add(time.Duration(i) * time.Hour)
			slot := model.Timeslot{Order: i + 1, Start: start, End: start.Add(45 * time.Minute)}
			if err := tx.CreateTimeslot(context.Background(), &slot); err != nil {
				return err
			}
			out.slots = append(out.slots, slot.ID)
		}
		for _, spec := range sessions {
			room := model.Room{Name: spec.name + " room", Capacity: spec.roomCap}
			if err := tx.CreateRoom(context.Background(), &room); err != nil {
				return err
			}
			sess := model.Session{Name: spec.name, TrackID: track.ID, RoomID: room.ID, Capacity: spec.capacity}
			for _, idx := range spec.slots {
				sess.TimeslotIDs = append(sess.TimeslotIDs, out.slots[idx])
			}
			if err := tx.CreateSession(context.Background(), &sess); err != nil {
				return err
			}
			out.sessions[spec.name] = sess.ID
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func internalCandidate(name string) model.Candidate {
	return model.Candidate{Email: name + "@rdw.nl", Name: name, Department: "ICT", IsInternal: true}
}

func externalCandidate(name string) model.Candidate {
	return model.Candidate{Email: name + "@example.com", Name: name, Organisation: "Example BV"}
}

func userCount(t testingT, store repository.Store) int {
	t.Helper()
	var n int
	require.NoError(t, store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		n, err = tx.CountRegisteredInternalUsers(context.Background())
		return err
	}))
	return n
}

type recordingPublisher struct {
	count atomic.Int32
	fail  error
}

func (p *recordingPublisher) PublishRegistrationCommitted(context.Context, queue.RegistrationCommittedEvent) error {
	p.count.Add(1)
	return p.fail
}

// conflictingStore runs every Update against the wrapped store but aborts
// the first n of them with a write conflict after fn has run, the way a
// serialization failure surfaces at commit.
type conflictingStore struct {
	repository.Store
	remaining atomic.Int32
	updates   atomic.Int32
}

func (s *conflictingStore) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.updates.Add(1)
	return s.Store.Update(ctx, func(tx repository.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if s.remaining.Add(-1) >= 0 {
			return repository.ErrWriteConflict
		}
		return nil
	})
}

// stallingStore never answers before the caller's deadline.
type stallingStore struct {
	repository.Store
}

func (s stallingStore) Update(ctx context.Context, fn func(tx repository.Tx) error) error {
	<-ctx.Done()
	return repository.ErrUnavailable
}
