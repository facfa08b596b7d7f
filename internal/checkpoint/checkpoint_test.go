package checkpoint_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docindex/internal/checkpoint"
)

func TestStore_AdvanceAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")

	s, err := checkpoint.Open(path)
	require.NoError(t, err)

	assert.False(t, s.IsProcessed("a.json"))
	require.NoError(t, s.Advance("a.json", checkpoint.FileOutcome{Records: 10, Failures: 2}))
	require.NoError(t, s.Advance("b.json", checkpoint.FileOutcome{Records: 5}))
	assert.True(t, s.IsProcessed("a.json"))

	// a fresh open sees exactly what was persisted
	s2, err := checkpoint.Open(path)
	require.NoError(t, err)
	assert.True(t, s2.IsProcessed("a.json"))
	assert.True(t, s2.IsProcessed("b.json"))
	assert.False(t, s2.IsProcessed("c.json"))

	c := s2.Counters()
	assert.Equal(t, int64(2), c.Documents)
	assert.Equal(t, int64(15), c.Records)
	assert.Equal(t, int64(2), c.Failures)
}

func TestStore_AdvanceIsIdempotentPerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	s, err := checkpoint.Open(path)
	require.NoError(t, err)

	require.NoError(t, s.Advance("a.json", checkpoint.FileOutcome{Records: 10}))
	require.NoError(t, s.Advance("a.json", checkpoint.FileOutcome{Records: 10}))

	c := s.Counters()
	assert.Equal(t, int64(1), c.Documents)
	assert.Equal(t, int64(10), c.Records)
}

func TestStore_NoPartialFileOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.json")

	s, err := checkpoint.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Advance("a.json", checkpoint.FileOutcome{Records: 1}))

	// the write went through a temp file plus rename; no temp leftovers
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint.json", entries[0].Name())

	// and the file on disk is complete, valid JSON
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 1, decoded["version"])
}

func TestStore_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0o644))

	_, err := checkpoint.Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{torn write"), 0o644))

	_, err := checkpoint.Open(path)
	assert.Error(t, err)
}

func TestStore_ConcurrentAdvance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	s, err := checkpoint.Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			file := filepath.Join("docs", "file", string(rune('a'+n))+".json")
			assert.NoError(t, s.Advance(file, checkpoint.FileOutcome{Records: 1}))
		}(i)
	}
	wg.Wait()

	c := s.Counters()
	assert.Equal(t, int64(16), c.Documents)
	assert.Equal(t, int64(16), c.Records)
}

func TestStore_Snapshot(t *testing.T) {
	s, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoint.json"))
	require.NoError(t, err)

	s.SetTotalFiles(4)
	require.NoError(t, s.Advance("a.json", checkpoint.FileOutcome{Records: 100, Failures: 1}))

	m := s.Snapshot()
	assert.Equal(t, 1, m.FilesDone)
	assert.Equal(t, 4, m.FilesTotal)
	assert.Equal(t, int64(100), m.Records)
	assert.Equal(t, int64(1), m.Failures)
	assert.Greater(t, m.RecordsSec, 0.0)
	assert.Positive(t, m.ETA)
}

func TestStore_SnapshotOnResumeIgnoresPriorRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	s, err := checkpoint.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Advance("a.json", checkpoint.FileOutcome{Records: 100}))
	require.NoError(t, s.Advance("b.json", checkpoint.FileOutcome{Records: 100}))

	// resumed run: previously committed files count toward FilesDone but not
	// toward the rate and ETA derivation
	s2, err := checkpoint.Open(path)
	require.NoError(t, err)
	s2.SetTotalFiles(4)

	m := s2.Snapshot()
	assert.Equal(t, 2, m.FilesDone)
	assert.Equal(t, int64(200), m.Records)
	assert.Zero(t, m.RecordsSec)
	assert.Zero(t, m.ETA)

	require.NoError(t, s2.Advance("c.json", checkpoint.FileOutcome{Records: 50}))
	m = s2.Snapshot()
	assert.Equal(t, 3, m.FilesDone)
	assert.Greater(t, m.RecordsSec, 0.0)
	assert.Positive(t, m.ETA)
}
