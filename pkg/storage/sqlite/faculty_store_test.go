package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/consultease/consultease/pkg/errors"
	"github.com/consultease/consultease/pkg/models"
	"github.com/consultease/consultease/pkg/storage"
)

func TestFacultyCreateAndGet(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	fac := seedFaculty(t, store, "Dr. Reyes", "AA:BB:CC:DD:EE:10")
	assert.Positive(t, fac.ID)
	assert.Equal(t, int64(1), fac.Version)
	assert.False(t, fac.Present)
	assert.Equal(t, models.NTPPending, fac.NTPSyncStatus)
	assert.Nil(t, fac.LastSeen)
	assert.False(t, fac.CreatedAt.IsZero())

	byMAC, err := store.Faculty().GetByBeaconMAC(ctx, "AA:BB:CC:DD:EE:10")
	require.NoError(t, err)
	assert.Equal(t, fac.ID, byMAC.ID)

	_, err = store.Faculty().Get(ctx, 9999)
	assert.True(t, cerrors.IsNotFound(err))

	_, err = store.Faculty().Create(ctx, models.Faculty{
		Name: "Dr. Clone", BeaconMAC: "AA:BB:CC:DD:EE:10",
	})
	assert.True(t, cerrors.IsConflict(err), "duplicate beacon MAC must conflict")
}

func TestFacultyCreateAlwaysAvailable(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	fac, err := store.Faculty().Create(t.Context(), models.Faculty{
		Name: "Dr. Open Door", BeaconMAC: "AA:BB:CC:DD:EE:11", AlwaysAvailable: true,
	})
	require.NoError(t, err)
	assert.True(t, fac.Present, "always-available faculty start present")
}

func TestFacultyList(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	seedFaculty(t, store, "Dr. Reyes", "AA:BB:CC:DD:EE:12")
	fac2, err := store.Faculty().Create(ctx, models.Faculty{
		Name: "Dr. Santos", Department: "Mathematics", BeaconMAC: "AA:BB:CC:DD:EE:13",
	})
	require.NoError(t, err)

	all, err := store.Faculty().List(ctx, storage.FacultyFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Dr. Reyes", all[0].Name, "list is ordered by name")

	math, err := store.Faculty().List(ctx, storage.FacultyFilter{Department: "Mathematics"})
	require.NoError(t, err)
	require.Len(t, math, 1)
	assert.Equal(t, fac2.ID, math[0].ID)

	present := true
	none, err := store.Faculty().List(ctx, storage.FacultyFilter{Present: &present})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFacultyUpdate(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	fac := seedFaculty(t, store, "Dr. Reyes", "AA:BB:CC:DD:EE:14")

	fac.Name = "Dr. Maria Reyes"
	fac.Email = "mreyes@example.edu"
	updated, err := store.Faculty().Update(ctx, fac)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Maria Reyes", updated.Name)
	assert.Equal(t, "mreyes@example.edu", updated.Email)
	assert.Equal(t, fac.Version+1, updated.Version, "identity updates bump the version")

	missing := updated
	missing.ID = 4242
	_, err = store.Faculty().Update(ctx, missing)
	assert.True(t, cerrors.IsNotFound(err))
}

func TestFacultyApplyPresence(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	fac := seedFaculty(t, store, "Dr. Reyes", "AA:BB:CC:DD:EE:15")
	now := time.Now()

	grace := true
	synced := models.NTPSynced
	got, err := store.Faculty().ApplyPresence(ctx, storage.PresenceUpdate{
		FacultyID:       fac.ID,
		ExpectedVersion: fac.Version,
		Present:         true,
		LastSeen:        now,
		InGracePeriod:   &grace,
		NTPSyncStatus:   &synced,
	})
	require.NoError(t, err)
	assert.True(t, got.Present)
	assert.Equal(t, fac.Version+1, got.Version)
	assert.True(t, got.InGracePeriod)
	assert.Equal(t, models.NTPSynced, got.NTPSyncStatus)
	require.NotNil(t, got.LastSeen)
	assert.WithinDuration(t, now, *got.LastSeen, time.Second)

	// A stale expected version reports a conflict and changes nothing.
	_, err = store.Faculty().ApplyPresence(ctx, storage.PresenceUpdate{
		FacultyID:       fac.ID,
		ExpectedVersion: fac.Version,
		Present:         false,
		LastSeen:        now,
	})
	assert.True(t, cerrors.IsConflict(err))

	unchanged, err := store.Faculty().Get(ctx, fac.ID)
	require.NoError(t, err)
	assert.True(t, unchanged.Present)
	assert.Equal(t, got.Version, unchanged.Version)

	_, err = store.Faculty().ApplyPresence(ctx, storage.PresenceUpdate{
		FacultyID: 4242, ExpectedVersion: 1, Present: true, LastSeen: now,
	})
	assert.True(t, cerrors.IsNotFound(err))
}

func TestFacultyApplyPresenceReconcilesMAC(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	fac := seedFaculty(t, store, "Dr. Reyes", "AA:BB:CC:DD:EE:16")

	got, err := store.Faculty().ApplyPresence(ctx, storage.PresenceUpdate{
		FacultyID:       fac.ID,
		ExpectedVersion: fac.Version,
		Present:         true,
		LastSeen:        time.Now(),
		BeaconMAC:       "AA:BB:CC:DD:EE:17",
	})
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:17", got.BeaconMAC)

	// Reconciling onto another faculty's beacon must conflict.
	other := seedFaculty(t, store, "Dr. Santos", "AA:BB:CC:DD:EE:18")
	_, err = store.Faculty().ApplyPresence(ctx, storage.PresenceUpdate{
		FacultyID:       got.ID,
		ExpectedVersion: got.Version,
		Present:         true,
		LastSeen:        time.Now(),
		BeaconMAC:       other.BeaconMAC,
	})
	assert.True(t, cerrors.IsConflict(err))
}

func TestFacultyVersionMonotonic(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	fac := seedFaculty(t, store, "Dr. Reyes", "AA:BB:CC:DD:EE:19")
	version := fac.Version
	for i := 0; i < 10; i++ {
		got, err := store.Faculty().ApplyPresence(ctx, storage.PresenceUpdate{
			FacultyID:       fac.ID,
			ExpectedVersion: version,
			Present:         i%2 == 0,
			LastSeen:        time.Now(),
		})
		require.NoError(t, err)
		require.Equal(t, version+1, got.Version)
		version = got.Version
	}
	assert.Equal(t, fac.Version+10, version)
}

func TestFacultySetAlwaysAvailable(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	fac := seedFaculty(t, store, "Dr. Reyes", "AA:BB:CC:DD:EE:20")
	require.False(t, fac.Present)

	got, err := store.Faculty().SetAlwaysAvailable(ctx, fac.ID, true)
	require.NoError(t, err)
	assert.True(t, got.AlwaysAvailable)
	assert.True(t, got.Present, "turning the override on forces presence")
	assert.Equal(t, fac.Version+1, got.Version)

	got, err = store.Faculty().SetAlwaysAvailable(ctx, fac.ID, false)
	require.NoError(t, err)
	assert.False(t, got.AlwaysAvailable)
	assert.True(t, got.Present, "turning the override off leaves presence as-is")

	_, err = store.Faculty().SetAlwaysAvailable(ctx, 4242, true)
	assert.True(t, cerrors.IsNotFound(err))
}

func TestFacultyDelete(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := t.Context()

	fac := seedFaculty(t, store, "Dr. Reyes", "AA:BB:CC:DD:EE:21")
	require.NoError(t, store.Faculty().Delete(ctx, fac.ID))

	err := store.Faculty().Delete(ctx, fac.ID)
	assert.True(t, cerrors.IsNotFound(err))
}
