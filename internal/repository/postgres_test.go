package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/techday-registration/internal/config"
	"github.com/Shivanand-hulikatti/techday-registration/internal/database"
	"github.com/Shivanand-hulikatti/techday-registration/internal/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"serialization", &pgconn.PgError{Code: "40001"}, ErrWriteConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrWriteConflict},
		{"duplicate email", &pgconn.PgError{Code: "23505", ConstraintName: emailIndex}, ErrAlreadyRegistered},
		{"other duplicate", &pgconn.PgError{Code: "23505", ConstraintName: "placements_pkey"}, ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, ErrConflict},
		{"read only", &pgconn.PgError{Code: "25006"}, ErrReadOnly},
		{"canceled query", &pgconn.PgError{Code: "57014"}, ErrUnavailable},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), ErrUnavailable},
		{"canceled", context.Canceled, ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classify("op", tc.err), tc.want)
		})
	}

	assert.NoError(t, classify("op", nil))

	plain := errors.New("boom")
	err := classify("op", plain)
	assert.ErrorIs(t, err, plain)
	assert.EqualError(t, err, "op: boom")
}

func TestMissingReference(t *testing.T) {
	err := missingReference("insert placement", &pgconn.PgError{Code: "23503", Detail: "Key (session_id, timeslot_id)=(1, 2) is not present"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "is not present")

	assert.ErrorIs(t, missingReference("insert placement", &pgconn.PgError{Code: "40001"}), ErrWriteConflict)
}

// testPostgres connects to TECHDAY_TEST_DATABASE_URL, migrates it and
// empties every table. The test is skipped when the variable is unset.
func testPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TECHDAY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TECHDAY_TEST_DATABASE_URL not set")
	}

	parsed, err := pgconn.ParseConfig(url)
	require.NoError(t, err)
	cfg := config.Defaults().DB
	cfg.Host = parsed.Host
	cfg.Port = int(parsed.Port)
	cfg.User = parsed.User
	cfg.Password = parsed.Password
	cfg.Name = parsed.Database
	if parsed.TLSConfig == nil {
		cfg.SSLMode = "disable"
	}

	_, err = database.MigrateUp(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE placements, users, session_timeslots, sessions, timeslots, rooms, tracks RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE admission_state SET max_users = 10, manual_lock = FALSE WHERE id = 1`)
	require.NoError(t, err)
	return pool
}

func TestPostgresStore_Contract(t *testing.T) {
	pool := testPostgres(t)
	runStoreContract(t, NewPostgresStore(pool))
}

// TestPostgresStore_ConcurrentSeatChecks runs many transactions that each
// read the remaining seats and take one. Row locks and SERIALIZABLE
// isolation must keep the session from being overbooked; losers see
// ErrWriteConflict.
func TestPostgresStore_ConcurrentSeatChecks(t *testing.T) {
	pool := testPostgres(t)
	store := NewPostgresStore(pool)
	f := seedFixture(t, store)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		placed    int
		conflicts int
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("0b7c1f58-5a2e-4a55-8d1e-00000000%04d", i)
			err := store.Update(ctx, func(tx Tx) error {
				sessions, err := tx.ListSessionsForTimeslot(ctx, f.second.ID)
				if err != nil {
					return err
				}
				if sessions[0].IsFull() {
					return errAbort
				}
				if err := tx.CreateUser(ctx, newUser(id, fmt.Sprintf("u%d@rdw.nl", i), true)); err != nil {
					return err
				}
				return tx.InsertPlacement(ctx, id, model.Placement{TimeslotID: f.second.ID, SessionID: sessions[0].ID})
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case errors.Is(err, ErrWriteConflict), errors.Is(err, errAbort):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, placed, "lab has a single seat")
	assert.Equal(t, workers-1, conflicts)
}

func TestPostgresStore_Timeout(t *testing.T) {
	pool := testPostgres(t)
	store := NewPostgresStore(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := store.View(ctx, func(tx Tx) error {
		_, err := tx.(*pgTx).tx.Exec(ctx, `SELECT pg_sleep(1)`)
		return classify("sleep", err)
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}
