package rollback

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contextgw-backend/internal/errors"
	"contextgw-backend/internal/infrastructure/events"
	"contextgw-backend/internal/infrastructure/fileops"
)

func newTestManager(t *testing.T) (*Manager, string, *events.Bus) {
	t.Helper()
	root := t.TempDir()
	bus := events.NewBus(nil)
	m, err := NewManager(Config{
		StateDir:    filepath.Join(root, "state"),
		SnapshotDir: filepath.Join(root, "snapshots"),
		MaxAge:      168 * time.Hour,
		MaxRecords:  50,
	}, fileops.NewExecutor(nil), bus, nil)
	require.NoError(t, err)
	return m, root, bus
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCreateHolisticSnapshot_PersistsStateAndPayload(t *testing.T) {
	m, root, bus := newTestManager(t)
	base := filepath.Join(root, "docs")
	writeFile(t, filepath.Join(base, "Analysis", "a.md"), "A")
	writeFile(t, filepath.Join(base, "Analysis", "nested", "b.md"), "B")

	var created []events.RollbackCreated
	bus.Subscribe(events.EventRollbackCreated, func(e events.Event) {
		created = append(created, e.(events.RollbackCreated))
	})

	data, err := m.CreateHolisticSnapshot(context.Background(), "upd-1", base, []string{"Analysis"}, nil)
	require.NoError(t, err)
	require.Len(t, data.Snapshots, 1)
	assert.Len(t, data.Snapshots[0].Files, 2)
	assert.Equal(t, "A", data.Snapshots[0].Files[filepath.Join(base, "Analysis", "a.md")])

	state, err := m.LoadState("upd-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, state.Status)
	assert.Equal(t, []string{"Analysis"}, state.AffectedDomains)
	assert.Equal(t, m.snapshotPath("upd-1"), state.SnapshotPath)

	loaded, err := m.LoadRollbackData("upd-1")
	require.NoError(t, err)
	assert.Equal(t, data.Snapshots[0].Files, loaded.Snapshots[0].Files)

	require.Len(t, created, 1)
	assert.Equal(t, "upd-1", created[0].UpdateID)
}

func TestCreateHolisticSnapshot_MissingDomainIsEmpty(t *testing.T) {
	m, root, _ := newTestManager(t)

	data, err := m.CreateHolisticSnapshot(context.Background(), "upd-2", filepath.Join(root, "docs"), []string{"NewDomain"}, nil)
	require.NoError(t, err)
	require.Len(t, data.Snapshots, 1)
	assert.Empty(t, data.Snapshots[0].Files)
}

func TestCreateHolisticSnapshot_EmptyUpdateID(t *testing.T) {
	m, root, _ := newTestManager(t)

	_, err := m.CreateHolisticSnapshot(context.Background(), "", root, []string{"Analysis"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

// Rollback restores a failed update: a.md deleted by the update comes back,
// b.md stays as snapshotted, and c.md created by the update is removed.
func TestExecuteHolisticRollback_RestoresSnapshotState(t *testing.T) {
	m, root, bus := newTestManager(t)
	base := filepath.Join(root, "docs")
	a := filepath.Join(base, "Analysis", "a.md")
	b := filepath.Join(base, "Analysis", "b.md")
	c := filepath.Join(base, "Analysis", "c.md")
	writeFile(t, a, "A")
	writeFile(t, b, "B")

	_, err := m.CreateHolisticSnapshot(context.Background(), "upd-3", base, []string{"Analysis"}, nil)
	require.NoError(t, err)

	// Simulate a partially applied update that then failed.
	require.NoError(t, os.Remove(a))
	writeFile(t, c, "C")

	var executed []events.RollbackExecuted
	bus.Subscribe(events.EventRollbackExecuted, func(e events.Event) {
		executed = append(executed, e.(events.RollbackExecuted))
	})

	require.True(t, m.ExecuteHolisticRollback(context.Background(), "upd-3"))

	assert.Equal(t, "A", readFile(t, a))
	assert.Equal(t, "B", readFile(t, b))
	assert.NoFileExists(t, c)

	state, err := m.LoadState("upd-3")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, state.Status)
	require.Len(t, executed, 1)
	assert.Equal(t, "upd-3", executed[0].UpdateID)
}

func TestExecuteHolisticRollback_MissingRecordReportsFailure(t *testing.T) {
	m, _, bus := newTestManager(t)

	var failed []events.RollbackFailed
	bus.Subscribe(events.EventRollbackFailed, func(e events.Event) {
		failed = append(failed, e.(events.RollbackFailed))
	})

	assert.False(t, m.ExecuteHolisticRollback(context.Background(), "no-such-update"))
	require.Len(t, failed, 1)
	assert.Equal(t, "no-such-update", failed[0].UpdateID)
}

func TestExecuteHolisticRollback_RejectsRelativePaths(t *testing.T) {
	m, root, _ := newTestManager(t)
	base := filepath.Join(root, "docs")
	writeFile(t, filepath.Join(base, "Analysis", "a.md"), "A")

	data, err := m.CreateHolisticSnapshot(context.Background(), "upd-4", base, []string{"Analysis"}, nil)
	require.NoError(t, err)

	// Corrupt the persisted payload with a relative path.
	data.Snapshots[0].Files["relative.md"] = "bad"
	require.NoError(t, writeJSON(m.snapshotPath("upd-4"), data))

	assert.False(t, m.ExecuteHolisticRollback(context.Background(), "upd-4"))

	state, err := m.LoadState("upd-4")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
}

func TestMarkCompleted(t *testing.T) {
	m, root, _ := newTestManager(t)

	_, err := m.CreateHolisticSnapshot(context.Background(), "upd-5", root, []string{"Analysis"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkCompleted("upd-5"))

	state, err := m.LoadState("upd-5")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
}

func TestValidateRollbackData(t *testing.T) {
	m, _, _ := newTestManager(t)

	valid := &HolisticRollbackData{
		UpdateID: "u",
		Snapshots: []ContextSnapshot{{
			DomainPath: "/abs/domain",
			Files:      map[string]string{"/abs/domain/a.md": "A"},
		}},
	}
	assert.NoError(t, m.ValidateRollbackData(valid))

	valid.Snapshots[0].Files["rel.md"] = "bad"
	err := m.ValidateRollbackData(valid)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	assert.Error(t, m.ValidateRollbackData(&HolisticRollbackData{}))
}

func TestCleanupOldRecords_PurgesOnlyCompleted(t *testing.T) {
	m, root, _ := newTestManager(t)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Three records: old completed, old pending, fresh completed.
	m.now = func() time.Time { return base.Add(-200 * time.Hour) }
	_, err := m.CreateHolisticSnapshot(context.Background(), "old-done", root, []string{"A"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkCompleted("old-done"))

	_, err = m.CreateHolisticSnapshot(context.Background(), "old-pending", root, []string{"A"}, nil)
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(-time.Hour) }
	_, err = m.CreateHolisticSnapshot(context.Background(), "fresh-done", root, []string{"A"}, nil)
	require.NoError(t, err)
	require.NoError(t, m.MarkCompleted("fresh-done"))

	m.now = func() time.Time { return base }
	removed, err := m.CleanupOldRecords()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.LoadState("old-done")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.NoFileExists(t, m.snapshotPath("old-done"))

	// Pending survives regardless of age; fresh completed is within the window.
	_, err = m.LoadState("old-pending")
	assert.NoError(t, err)
	_, err = m.LoadState("fresh-done")
	assert.NoError(t, err)
}

func TestCleanupOldRecords_CountRetention(t *testing.T) {
	m, root, _ := newTestManager(t)
	m.config.MaxAge = 0
	m.config.MaxRecords = 2
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3", "r4"} {
		offset := time.Duration(i) * time.Hour
		m.now = func() time.Time { return base.Add(offset) }
		_, err := m.CreateHolisticSnapshot(context.Background(), id, root, []string{"A"}, nil)
		require.NoError(t, err)
		require.NoError(t, m.MarkCompleted(id))
	}

	m.now = func() time.Time { return base.Add(24 * time.Hour) }
	removed, err := m.CleanupOldRecords()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// The two newest completed records survive.
	for _, id := range []string{"r3", "r4"} {
		_, err := m.LoadState(id)
		assert.NoError(t, err)
	}
	for _, id := range []string{"r1", "r2"} {
		_, err := m.LoadState(id)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	}
}

func TestListStates_SkipsCorruptEntries(t *testing.T) {
	m, root, _ := newTestManager(t)

	_, err := m.CreateHolisticSnapshot(context.Background(), "good", root, []string{"A"}, nil)
	require.NoError(t, err)
	writeFile(t, filepath.Join(m.config.StateDir, "bad.rollback.json"), "{not json")

	states, err := m.ListStates()
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "good", states[0].UpdateID)
}
