package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/homegrid/internal/domain"
)

func sampleRecords() []domain.SwitchRecord {
	return []domain.SwitchRecord{
		{
			MAC:                   "0013a20041cc5773",
			GUID:                  "G1",
			LastSeen:              time.Date(2026, 10, 15, 9, 30, 15, 123456789, time.UTC),
			PowerState:            true,
			CumulativeEnergyKWh:   12.3456789,
			CumulativeCostDollars: 1.851851835,
		},
		{
			MAC:  "0013a20041cc5774",
			GUID: "G2",
		},
	}
}

func TestOpen_MissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "snapshot.json"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpen_ParentIsFile(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o644))

	_, err := Open(filepath.Join(parent, "snapshot.json"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLoad_NotFound(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, err)

	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, err)

	records := sampleRecords()
	require.NoError(t, s.Save(records))

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Len(t, loaded, len(records))

	for i := range records {
		assert.Equal(t, records[i].MAC, loaded[i].MAC)
		assert.Equal(t, records[i].GUID, loaded[i].GUID)
		assert.True(t, records[i].LastSeen.Equal(loaded[i].LastSeen), "last_seen %d", i)
		assert.Equal(t, records[i].PowerState, loaded[i].PowerState)
		assert.Equal(t, records[i].CumulativeEnergyKWh, loaded[i].CumulativeEnergyKWh)
		assert.Equal(t, records[i].CumulativeCostDollars, loaded[i].CumulativeCostDollars)
	}
	assert.True(t, loaded[1].LastSeen.IsZero())
}

func TestSave_WritesVersionedEnvelope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(sampleRecords()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(FormatVersion), raw["version"])
	assert.Len(t, raw["checksum"], 4)
	assert.Contains(t, raw, "saved_at")

	switches, ok := raw["switches"].([]interface{})
	require.True(t, ok)
	assert.Len(t, switches, 2)
	assert.Nil(t, switches[1].(map[string]interface{})["last_seen"])
}

func TestSave_LeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "snapshot.json"))
	require.NoError(t, err)

	require.NoError(t, s.Save(sampleRecords()))
	require.NoError(t, s.Save(sampleRecords()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snapshot.json", entries[0].Name())
}

func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		mutate  func(t *testing.T, path string)
	}{
		{
			name: "not json",
			mutate: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, []byte("\x80\x04pickle"), 0o644))
			},
		},
		{
			name: "unknown version",
			mutate: func(t *testing.T, path string) {
				rewriteEnvelope(t, path, func(raw map[string]interface{}) { raw["version"] = 99 })
			},
		},
		{
			name: "checksum mismatch",
			mutate: func(t *testing.T, path string) {
				rewriteEnvelope(t, path, func(raw map[string]interface{}) {
					switches := raw["switches"].([]interface{})
					switches[0].(map[string]interface{})["cumulative_energy_kwh"] = 999.0
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snapshot.json")
			s, err := Open(path)
			require.NoError(t, err)
			require.NoError(t, s.Save(sampleRecords()))

			tt.mutate(t, path)

			_, err = s.Load()
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestSave_UnwritableDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "snapshot.json"))
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))

	assert.Error(t, s.Save(sampleRecords()))
}

func rewriteEnvelope(t *testing.T, path string, edit func(raw map[string]interface{})) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	edit(raw)

	data, err = json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
