package store

import (
	"database/sql"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActualMinutesRoundsUp(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, actualMinutes(start, start))
	assert.Equal(t, 0, actualMinutes(start, start.Add(-time.Minute)))
	assert.Equal(t, 1, actualMinutes(start, start.Add(time.Second)))
	assert.Equal(t, 2, actualMinutes(start, start.Add(2*time.Minute)))
	assert.Equal(t, 3, actualMinutes(start, start.Add(2*time.Minute+time.Millisecond)))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Nil(t, nullIfEmpty("   "))
	assert.Equal(t, "x", nullIfEmpty("x"))
}

func TestTimePtr(t *testing.T) {
	assert.Nil(t, timePtr(sql.NullTime{}))
	now := time.Now()
	p := timePtr(sql.NullTime{Time: now, Valid: true})
	require.NotNil(t, p)
	assert.True(t, p.Equal(now))
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	body, err := migrationFS.ReadFile(names[0])
	require.NoError(t, err)
	for _, table := range []string{"stores", "drones", "orders", "routes", "route_stops", "route_orders", "route_positions", "flight_logs"} {
		assert.True(t, strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
}
