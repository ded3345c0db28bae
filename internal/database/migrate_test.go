package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file in migrations: %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestRegistrationSchemaConstraints(t *testing.T) {
	body, err := fs.ReadFile(migrationFiles, "migrations/000002_registrations.up.sql")
	require.NoError(t, err)
	sql := string(body)

	// The store relies on these names and keys for its error mapping.
	assert.Contains(t, sql, "users_email_lower_idx")
	assert.Contains(t, sql, "PRIMARY KEY (user_id, timeslot_id)")
	assert.Contains(t, sql, "REFERENCES session_timeslots (session_id, timeslot_id)")
}
