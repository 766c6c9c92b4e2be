package rollback

import (
	"os"
	"sort"

	"go.uber.org/zap"
)

// CleanupOldRecords purges rollback records that are older than the
// configured maximum age or beyond the configured record count. Only records
// in the completed state are purged; pending, rolled-back, and failed records
// are kept as evidence until an operator resolves them.
//
// Returns the number of records removed. Individual removal failures are
// logged and skipped so one bad record cannot block retention.
func (m *Manager) CleanupOldRecords() (int, error) {
	states, err := m.ListStates()
	if err != nil {
		return 0, err
	}

	// Newest first so count-based retention keeps the most recent records.
	sort.Slice(states, func(i, j int) bool {
		return states[i].Timestamp.After(states[j].Timestamp)
	})

	cutoff := m.now().Add(-m.config.MaxAge)
	removed := 0
	completedSeen := 0
	for _, state := range states {
		if state.Status != StatusCompleted {
			continue
		}
		completedSeen++
		tooOld := m.config.MaxAge > 0 && state.Timestamp.Before(cutoff)
		overCount := m.config.MaxRecords > 0 && completedSeen > m.config.MaxRecords
		if !tooOld && !overCount {
			continue
		}
		if err := m.removeRecord(state); err != nil {
			m.logger.Warn("Failed to remove rollback record",
				zap.String("updateId", state.UpdateID),
				zap.Error(err),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info("Rollback records cleaned up",
			zap.Int("removed", removed),
			zap.Int("remaining", len(states)-removed),
		)
	}
	return removed, nil
}

// removeRecord deletes both the state index entry and its snapshot payload.
// The snapshot goes first so a partial removal never strands a snapshot
// without an index entry pointing at it.
func (m *Manager) removeRecord(state RollbackState) error {
	if err := os.Remove(m.snapshotPath(state.UpdateID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(m.statePath(state.UpdateID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
