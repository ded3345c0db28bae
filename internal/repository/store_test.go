package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

var day = time.Date(2026, 11, 5, 9, 0, 0, 0, time.UTC)

var errAbort = errors.New("abort")

// fixture is a small catalog: two timeslots, two sessions in a shared room,
// one of which spans both timeslots.
type fixture struct {
	track         model.Track
	room          model.Room
	first, second model.Timeslot
	talk, lab     model.Session
}

func seedFixture(t *testing.T, store Store) fixture {
	t.Helper()
	ctx := context.Background()
	var f fixture
	require.NoError(t, store.Update(ctx, func(tx Tx) error {
		f.track = model.Track{Name: "Data"}
		f.room = model.Room{Name: "Aula", Capacity: 3}
		f.second = model.Timeslot{Order: 2, Start: day.Add(time.Hour), End: day.Add(2 * time.Hour)}
		f.first = model.Timeslot{Order: 1, Start: day, End: day.Add(time.Hour)}
		require.NoError(t, tx.CreateTrack(ctx, &f.track))
		require.NoError(t, tx.CreateRoom(ctx, &f.room))
		require.NoError(t, tx.CreateTimeslot(ctx, &f.second))
		require.NoError(t, tx.CreateTimeslot(ctx, &f.first))
		f.talk = model.Session{Name: "Talk", TrackID: f.track.ID, RoomID: f.room.ID, TimeslotIDs: []int64{f.first.ID}}
		f.lab = model.Session{Name: "Lab", TrackID: f.track.ID, RoomID: f.room.ID, Capacity: 1, TimeslotIDs: []int64{f.first.ID, f.second.ID}}
		require.NoError(t, tx.CreateSession(ctx, &f.talk))
		require.NoError(t, tx.CreateSession(ctx, &f.lab))
		return nil
	}))
	return f
}

func newUser(id, email string, isInternal bool) *model.User {
	return &model.User{ID: id, Email: email, Name: "Test", Organisation: "RDW", IsInternal: isInternal, CreatedAt: day}
}

const (
	userA = "0b7c1f58-5a2e-4a55-8d1e-1a2b3c4d5e01"
	userB = "0b7c1f58-5a2e-4a55-8d1e-1a2b3c4d5e02"
	userC = "0b7c1f58-5a2e-4a55-8d1e-1a2b3c4d5e03"
)

// runStoreContract checks the behaviour every Store implementation shares.
// store must be empty with admission {MaxUsers: 10}.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	f := seedFixture(t, store)

	t.Run("catalog reads", func(t *testing.T) {
		require.NoError(t, store.View(ctx, func(tx Tx) error {
			slots, err := tx.ListTimeslotsOrdered(ctx)
			require.NoError(t, err)
			require.Len(t, slots, 2)
			assert.Equal(t, f.first.ID, slots[0].ID)
			assert.Equal(t, f.second.ID, slots[1].ID)
			assert.True(t, slots[0].Start.Equal(day))

			sessions, err := tx.ListSessionsForTimeslot(ctx, f.first.ID)
			require.NoError(t, err)
			require.Len(t, sessions, 2)
			assert.Equal(t, f.talk.ID, sessions[0].ID)
			assert.Equal(t, 3, sessions[0].EffectiveCapacity)
			assert.Equal(t, 1, sessions[1].EffectiveCapacity)
			assert.ElementsMatch(t, []int64{f.first.ID, f.second.ID}, sessions[1].TimeslotIDs)

			all, err := tx.ListSessions(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
			tracks, err := tx.ListTracks(ctx)
			require.NoError(t, err)
			assert.Len(t, tracks, 1)
			rooms, err := tx.ListRooms(ctx)
			require.NoError(t, err)
			assert.Len(t, rooms, 1)
			return nil
		}))
	})

	t.Run("view is read-only", func(t *testing.T) {
		err := store.View(ctx, func(tx Tx) error {
			return tx.CreateTrack(ctx, &model.Track{Name: "nope"})
		})
		assert.ErrorIs(t, err, ErrReadOnly)
	})

	t.Run("placements and counts", func(t *testing.T) {
		require.NoError(t, store.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.CreateUser(ctx, newUser(userA, "a@rdw.nl", true)))
			require.NoError(t, tx.CreateUser(ctx, newUser(userB, "b@example.com", false)))
			require.NoError(t, tx.InsertPlacement(ctx, userA, model.Placement{TimeslotID: f.first.ID, SessionID: f.lab.ID}))
			return tx.InsertPlacement(ctx, userA, model.Placement{TimeslotID: f.second.ID, SessionID: f.lab.ID})
		}))

		require.NoError(t, store.View(ctx, func(tx Tx) error {
			n, err := tx.CountRegisteredInternalUsers(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			sessions, err := tx.ListSessionsForTimeslot(ctx, f.first.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, sessions[0].Taken)
			assert.Equal(t, 1, sessions[1].Taken)
			assert.True(t, sessions[1].IsFull())

			placements, err := tx.ListPlacements(ctx, userA)
			require.NoError(t, err)
			assert.Equal(t, []model.Placement{
				{TimeslotID: f.first.ID, SessionID: f.lab.ID},
				{TimeslotID: f.second.ID, SessionID: f.lab.ID},
			}, placements)

			u, err := tx.GetUser(ctx, userA)
			require.NoError(t, err)
			assert.Equal(t, "a@rdw.nl", u.Email)
			assert.True(t, u.IsInternal)
			return nil
		}))
	})

	t.Run("email is unique case-insensitively", func(t *testing.T) {
		err := store.Update(ctx, func(tx Tx) error {
			return tx.CreateUser(ctx, newUser(userC, "A@RDW.NL", true))
		})
		assert.ErrorIs(t, err, ErrAlreadyRegistered)
	})

	t.Run("one placement per timeslot", func(t *testing.T) {
		err := store.Update(ctx, func(tx Tx) error {
			return tx.InsertPlacement(ctx, userA, model.Placement{TimeslotID: f.first.ID, SessionID: f.talk.ID})
		})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("placement needs a link", func(t *testing.T) {
		err := store.Update(ctx, func(tx Tx) error {
			return tx.InsertPlacement(ctx, userB, model.Placement{TimeslotID: f.second.ID, SessionID: f.talk.ID})
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("failed update rolls back", func(t *testing.T) {
		err := store.Update(ctx, func(tx Tx) error {
			require.NoError(t, tx.CreateUser(ctx, newUser(userC, "c@rdw.nl", true)))
			require.NoError(t, tx.InsertPlacement(ctx, userC, model.Placement{TimeslotID: f.first.ID, SessionID: f.talk.ID}))
			require.NoError(t, tx.SetAdmissionConfig(ctx, model.AdmissionConfig{MaxUsers: 1, ManualLock: true}))
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		require.NoError(t, store.View(ctx, func(tx Tx) error {
			_, err := tx.GetUser(ctx, userC)
			assert.ErrorIs(t, err, ErrNotFound)
			state, err := AdmissionState(ctx, tx)
			require.NoError(t, err)
			assert.Equal(t, model.AdmissionState{AdmissionConfig: model.AdmissionConfig{MaxUsers: 10}, RegisteredInternal: 1}, state)
			sessions, err := tx.ListSessionsForTimeslot(ctx, f.first.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, sessions[0].Taken)
			return nil
		}))
	})

	t.Run("referenced rows cannot be deleted", func(t *testing.T) {
		for name, del := range map[string]func(tx Tx) error{
			"track":    func(tx Tx) error { return tx.DeleteTrack(ctx, f.track.ID) },
			"room":     func(tx Tx) error { return tx.DeleteRoom(ctx, f.room.ID) },
			"timeslot": func(tx Tx) error { return tx.DeleteTimeslot(ctx, f.first.ID) },
			"session":  func(tx Tx) error { return tx.DeleteSession(ctx, f.lab.ID) },
		} {
			err := store.Update(ctx, del)
			assert.ErrorIs(t, err, ErrConflict, name)
		}
	})

	t.Run("unreferenced session can be deleted", func(t *testing.T) {
		require.NoError(t, store.Update(ctx, func(tx Tx) error {
			return tx.DeleteSession(ctx, f.talk.ID)
		}))
		err := store.Update(ctx, func(tx Tx) error {
			return tx.DeleteSession(ctx, f.talk.ID)
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("admission config", func(t *testing.T) {
		require.NoError(t, store.Update(ctx, func(tx Tx) error {
			return tx.SetAdmissionConfig(ctx, model.AdmissionConfig{MaxUsers: 1, ManualLock: true})
		}))
		require.NoError(t, store.View(ctx, func(tx Tx) error {
			cfg, err := tx.GetAdmissionConfig(ctx)
			require.NoError(t, err)
			assert.Equal(t, model.AdmissionConfig{MaxUsers: 1, ManualLock: true}, cfg)
			return nil
		}))
	})

	t.Run("overview", func(t *testing.T) {
		require.NoError(t, store.View(ctx, func(tx Tx) error {
			overview, err := Overview(ctx, tx)
			require.NoError(t, err)
			require.Len(t, overview, 2)
			assert.Len(t, overview[0].Sessions, 1)
			assert.Len(t, overview[1].Sessions, 1)
			return nil
		}))
	})

	t.Run("expired context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := store.Update(cctx, func(tx Tx) error { return nil })
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}
