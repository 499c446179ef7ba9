package bundle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/fingerprint"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), zaptest.NewLogger(t))
}

func TestWriteSession(t *testing.T) {
	st := testStore(t)
	st.now = func() time.Time { return time.Date(2024, 1, 31, 14, 59, 59, 0, time.UTC) }

	fp := fingerprint.Generate(7)
	profile := &schemas.Profile{ID: "profile-7", Name: "seventh", Seed: 7, Fingerprint: fp}
	har := &schemas.TrafficArchive{
		Version: "1.2",
		Creator: schemas.Creator{Name: "manifold", Version: "0.1.0"},
	}
	entropy := []schemas.EntropySnapshot{{CanvasHash: "abc123"}}

	path, err := st.WriteSession(profile, har, entropy)
	require.NoError(t, err)
	want := filepath.Join(st.profilesDir, "profile-7", "sessions", "20240131T145959.json")
	assert.Equal(t, want, path, "stamp derives from the export clock")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Export
	require.NoError(t, jsonAPI.Unmarshal(raw, &got))
	assert.Equal(t, "1.0", got.Version)
	assert.True(t, got.ExportedAt.Equal(time.Date(2024, 1, 31, 14, 59, 59, 0, time.UTC)))
	assert.Equal(t, "profile-7", got.Profile.ID)
	assert.Equal(t, "seventh", got.Profile.Name)
	assert.Equal(t, uint64(7), got.Profile.Seed)
	assert.Equal(t, fp.UserAgent, got.Profile.UserAgent)
	assert.Equal(t, fp.Platform, got.Profile.Platform)
	require.NotNil(t, got.HAR)
	assert.Equal(t, "1.2", got.HAR.Version)
	require.Len(t, got.Entropy, 1)
	assert.Equal(t, "abc123", got.Entropy[0].CanvasHash)
}

func TestWriteSessionDefaults(t *testing.T) {
	st := testStore(t)

	profile := &schemas.Profile{ID: "bare", Seed: 3}
	path, err := st.WriteSession(profile, nil, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `"har": null`, "no capture stays an explicit null")
	assert.Contains(t, string(raw), `"entropy": []`, "no samples still gives an indexable array")

	var got Export
	require.NoError(t, jsonAPI.Unmarshal(raw, &got))
	assert.Equal(t, uint64(3), got.Profile.Seed, "without a fingerprint the profile seed is used")
	assert.Empty(t, got.Profile.UserAgent)
}

func TestWriteSessionRejectsTraversal(t *testing.T) {
	st := testStore(t)

	for _, id := range []string{"", "../evil", "a/b", `a\b`, "trailing.."} {
		_, err := st.WriteSession(&schemas.Profile{ID: id}, nil, nil)
		require.Error(t, err, "id %q must be rejected", id)
		assert.Contains(t, err.Error(), "profile id", "id %q", id)
	}

	entries, err := os.ReadDir(st.profilesDir)
	if err == nil {
		assert.Empty(t, entries, "rejected ids must not leave directories behind")
	}
}

func TestListSessions(t *testing.T) {
	st := testStore(t)
	profile := &schemas.Profile{ID: "p-1", Seed: 1}

	stamps := []time.Time{
		time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC),
	}
	for _, ts := range stamps {
		ts := ts
		st.now = func() time.Time { return ts }
		_, err := st.WriteSession(profile, nil, nil)
		require.NoError(t, err)
	}

	// Stray files must not show up as sessions.
	sessionsDir := filepath.Join(st.profilesDir, "p-1", "sessions")
	require.NoError(t, os.WriteFile(filepath.Join(sessionsDir, "notes.txt"), []byte("x"), 0o644))

	metas, err := st.ListSessions("p-1")
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, "20240303T100000", metas[0].Name, "newest first")
	assert.Equal(t, "20240301T100000", metas[2].Name)
	assert.Equal(t, "20240303T100000.json", metas[0].Filename)
	assert.Positive(t, metas[0].SizeBytes)
	assert.FileExists(t, metas[0].Path)

	metas, err = st.ListSessions("never-launched")
	require.NoError(t, err)
	assert.Empty(t, metas, "a profile without exports is empty, not an error")

	_, err = st.ListSessions("../p-1")
	require.Error(t, err)
}

func TestDeleteSession(t *testing.T) {
	st := testStore(t)
	profile := &schemas.Profile{ID: "p-2", Seed: 2}

	path, err := st.WriteSession(profile, nil, nil)
	require.NoError(t, err)
	filename := filepath.Base(path)

	require.NoError(t, st.DeleteSession("p-2", filename))
	assert.NoFileExists(t, path)

	require.NoError(t, st.DeleteSession("p-2", filename), "deleting twice is fine")

	require.Error(t, st.DeleteSession("p-2", "../../escape.json"))
	require.Error(t, st.DeleteSession("p-2", ""))
}
