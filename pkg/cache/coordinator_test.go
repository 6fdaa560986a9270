package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultease/consultease/pkg/models"
)

func TestFacultyRoundTrip(t *testing.T) {
	t.Parallel()

	c := New()
	_, found := c.GetFaculty(7)
	require.False(t, found)

	c.SetFaculty(models.Faculty{ID: 7, Name: "Dr. Reyes", Present: true})

	got, found := c.GetFaculty(7)
	require.True(t, found)
	assert.Equal(t, "Dr. Reyes", got.Name)
	assert.True(t, got.Present)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestInvalidateFacultyDropsRowAndLists(t *testing.T) {
	t.Parallel()

	c := New()
	c.SetFaculty(models.Faculty{ID: 1, Name: "A"})
	c.SetFaculty(models.Faculty{ID: 2, Name: "B"})
	c.SetFacultyList(FacultyListKey("all"), []models.Faculty{{ID: 1}, {ID: 2}})
	c.SetFacultyList(FacultyListKey("dept=cs"), []models.Faculty{{ID: 1}})

	c.InvalidateFaculty(1)

	_, found := c.GetFaculty(1)
	assert.False(t, found, "invalidated row must be gone")
	_, found = c.GetFaculty(2)
	assert.True(t, found, "unrelated row survives")
	_, found = c.GetFacultyList(FacultyListKey("all"))
	assert.False(t, found, "list views derived from the row must be gone")
	_, found = c.GetFacultyList(FacultyListKey("dept=cs"))
	assert.False(t, found)

	assert.Equal(t, int64(1), c.Stats().Invalidations)
}

func TestInvalidateFacultyListsKeepsRows(t *testing.T) {
	t.Parallel()

	c := New()
	c.SetFaculty(models.Faculty{ID: 3})
	c.SetFacultyList(FacultyListKey("all"), []models.Faculty{{ID: 3}})

	c.InvalidateFacultyLists()

	_, found := c.GetFaculty(3)
	assert.True(t, found)
	_, found = c.GetFacultyList(FacultyListKey("all"))
	assert.False(t, found)
}

func TestListReturnsCopy(t *testing.T) {
	t.Parallel()

	c := New()
	original := []models.Faculty{{ID: 9, Name: "before"}}
	c.SetFacultyList(FacultyListKey("all"), original)

	// Mutating the caller's slice after storing must not leak into the cache.
	original[0].Name = "mutated"

	got, found := c.GetFacultyList(FacultyListKey("all"))
	require.True(t, found)
	assert.Equal(t, "before", got[0].Name)

	// Mutating the returned slice must not poison later readers either.
	got[0].Name = "poisoned"
	again, found := c.GetFacultyList(FacultyListKey("all"))
	require.True(t, found)
	assert.Equal(t, "before", again[0].Name)
}

func TestQueryTTLExpires(t *testing.T) {
	t.Parallel()

	c := NewWithTTL(20*time.Millisecond, ConfigTTL)
	c.SetFaculty(models.Faculty{ID: 5})

	_, found := c.GetFaculty(5)
	require.True(t, found)

	time.Sleep(60 * time.Millisecond)

	_, found = c.GetFaculty(5)
	assert.False(t, found)
}

func TestConfigSnapshots(t *testing.T) {
	t.Parallel()

	c := New()
	_, found := c.GetConfig("mqtt")
	require.False(t, found)

	c.SetConfig("mqtt", map[string]string{"broker": "tcp://localhost:1883"})

	value, found := c.GetConfig("mqtt")
	require.True(t, found)
	assert.Equal(t, "tcp://localhost:1883", value.(map[string]string)["broker"])
}

func TestInvalidateAll(t *testing.T) {
	t.Parallel()

	c := New()
	c.SetFaculty(models.Faculty{ID: 4})
	c.SetConfig("system", "snapshot")

	c.InvalidateAll()

	_, found := c.GetFaculty(4)
	assert.False(t, found)
	_, found = c.GetConfig("system")
	assert.False(t, found)
}
