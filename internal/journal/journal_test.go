package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".state.json")
	j := New(path, "example.com_20260101T000000Z", "hash1")

	require.NoError(t, j.Append(StageRecord{Name: "passive_enum", State: "ok", Outputs: []string{"subdomains/passive.txt"}, FinishedAt: time.Now(), Duration: "1s"}))
	require.NoError(t, j.Append(StageRecord{Name: "merge_subdomains", State: "skipped", Reason: "tool missing", FinishedAt: time.Now(), Duration: "0s"}))

	loaded, err := Load(path, "hash1")
	require.NoError(t, err)
	assert.Equal(t, "example.com_20260101T000000Z", loaded.RunID)

	rec, ok := loaded.Lookup("passive_enum")
	require.True(t, ok)
	assert.Equal(t, "ok", rec.State)
	assert.Equal(t, []string{"subdomains/passive.txt"}, rec.Outputs)
}

func TestLoadRejectsConfigMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".state.json")
	j := New(path, "run", "hash1")
	require.NoError(t, j.Append(StageRecord{Name: "passive_enum", State: "ok"}))

	_, err := Load(path, "hash2")
	assert.True(t, errors.Is(err, ErrConfigMismatch), "got %v", err)
}

func TestLoadDropsRunningRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".state.json")
	j := New(path, "run", "h")
	require.NoError(t, j.Append(StageRecord{Name: "done", State: "ok"}))
	require.NoError(t, j.Append(StageRecord{Name: "crashed", State: "running"}))

	loaded, err := Load(path, "h")
	require.NoError(t, err)
	_, ok := loaded.Lookup("crashed")
	assert.False(t, ok, "running record must reset to pending on resume")
	_, ok = loaded.Lookup("done")
	assert.True(t, ok)
}

func TestAppendReplacesSameStage(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".state.json")
	j := New(path, "run", "h")
	require.NoError(t, j.Append(StageRecord{Name: "s", State: "skipped"}))
	require.NoError(t, j.Append(StageRecord{Name: "s", State: "ok"}))

	loaded, err := Load(path, "h")
	require.NoError(t, err)
	assert.Len(t, loaded.Records(), 1)
	rec, _ := loaded.Lookup("s")
	assert.Equal(t, "ok", rec.State)
}
