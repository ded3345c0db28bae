package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/techday-registration/internal/handler"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		useMemory = false
		cfgFile = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAdmissionSetMax_Memory(t *testing.T) {
	out, err := execute(t, "admission", "set-max", "3", "--memory")
	require.NoError(t, err)
	assert.Contains(t, out, "admission:   open")
	assert.Contains(t, out, "registered:  0 / 3 internal users")
}

func TestAdmissionLock_Memory(t *testing.T) {
	out, err := execute(t, "admission", "lock", "--memory")
	require.NoError(t, err)
	assert.Contains(t, out, "admission:   closed")
	assert.Contains(t, out, "manual lock: true")
}

func TestSeed_Memory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tracks:
  - key: main
    name: Main
rooms:
  - key: aula
    name: Aula
    capacity: 10
timeslots:
  - key: t1
    order: 1
    start: 2026-11-05T09:00:00Z
    end: 2026-11-05T10:00:00Z
sessions:
  - name: Opening
    track: main
    room: aula
    timeslots: [t1]
`), 0o644))

	out, err := execute(t, "seed", path, "--memory")
	require.NoError(t, err)
	assert.Contains(t, out, `"sessions": 1`)
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	out, err := execute(t, "token", "ops")
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (any, error) {
		return []byte("cli-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, handler.RoleAdmin, claims["role"])
	assert.Equal(t, "ops", claims["sub"])
}

func TestToken_RequiresSecret(t *testing.T) {
	_, err := execute(t, "token", "ops")
	assert.ErrorContains(t, err, "jwt.secret")
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("REGISTRATION_SLOT_POLICY", "random")
	_, err := execute(t, "admission", "status", "--memory")
	assert.ErrorContains(t, err, "registration.slot_policy")
}
