package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"contextgw-backend/internal/errors"
	"contextgw-backend/internal/infrastructure/events"
	"contextgw-backend/internal/infrastructure/fileops"
)

const (
	stateSuffix    = ".rollback.json"
	snapshotSuffix = ".snapshot.json"
	fileMode       = 0o644
	dirMode        = 0o755
)

// Config tunes the manager's storage and retention behavior.
type Config struct {
	StateDir    string
	SnapshotDir string
	MaxAge      time.Duration
	MaxRecords  int
}

// Manager persists pre-update snapshots and restores them when a holistic
// update fails. All durable state lives in two directories: a state index
// (one small JSON file per update) and a snapshot store (full file contents).
type Manager struct {
	config   Config
	executor *fileops.Executor
	bus      *events.Bus
	logger   *zap.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewManager creates a rollback manager and ensures its storage directories
// exist.
func NewManager(config Config, executor *fileops.Executor, bus *events.Bus, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{config.StateDir, config.SnapshotDir} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, errors.IO("ROLLBACK_STORAGE_INIT_FAILED",
				fmt.Sprintf("failed to create rollback directory %s", dir)).
				WithOperation("NewManager").
				WithResource(dir).
				WithCause(err).
				Build()
		}
	}
	return &Manager{
		config:   config,
		executor: executor,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// CreateHolisticSnapshot captures every file under the affected domains'
// context directories before an update touches them. A domain whose directory
// does not exist yields an empty snapshot; rolling back then removes whatever
// the failed update created there.
//
// The snapshot payload is written before the state index so a crash between
// the two writes never leaves an index pointing at a missing snapshot.
func (m *Manager) CreateHolisticSnapshot(ctx context.Context, updateID string, basePath string, affectedDomains []string, ops []fileops.Operation) (*HolisticRollbackData, error) {
	if updateID == "" {
		return nil, errors.Validation("EMPTY_UPDATE_ID", "update id must not be empty").
			WithOperation("CreateHolisticSnapshot").
			Build()
	}

	snapshots := make([]ContextSnapshot, 0, len(affectedDomains))
	for _, domain := range affectedDomains {
		if err := ctx.Err(); err != nil {
			return nil, errors.Timeout("SNAPSHOT_CANCELLED", "snapshot capture cancelled").
				WithOperation("CreateHolisticSnapshot").
				WithCause(err).
				Build()
		}
		snap, err := m.captureDomain(filepath.Join(basePath, domain))
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	data := &HolisticRollbackData{
		UpdateID:        updateID,
		Timestamp:       m.now(),
		AffectedDomains: affectedDomains,
		Snapshots:       snapshots,
		FileOperations:  ops,
	}

	snapshotPath := m.snapshotPath(updateID)
	if err := writeJSON(snapshotPath, data); err != nil {
		return nil, err
	}

	state := RollbackState{
		UpdateID:        updateID,
		Timestamp:       data.Timestamp,
		AffectedDomains: affectedDomains,
		Status:          StatusPending,
		SnapshotPath:    snapshotPath,
	}
	if err := writeJSON(m.statePath(updateID), state); err != nil {
		return nil, err
	}

	m.logger.Info("Holistic snapshot created",
		zap.String("updateId", updateID),
		zap.Strings("affectedDomains", affectedDomains),
		zap.Int("snapshotFiles", countFiles(snapshots)),
	)

	if m.bus != nil {
		m.bus.Publish(events.RollbackCreated{
			UpdateID:        updateID,
			AffectedDomains: affectedDomains,
			Timestamp:       data.Timestamp,
		})
	}
	return data, nil
}

// captureDomain recursively collects every regular file under dir. A missing
// directory is a valid empty snapshot, not an error.
func (m *Manager) captureDomain(dir string) (ContextSnapshot, error) {
	snap := ContextSnapshot{
		DomainPath: dir,
		Files:      make(map[string]string),
		Timestamp:  m.now(),
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return snap, nil
	}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		snap.Files[path] = string(content)
		return nil
	})
	if err != nil {
		return snap, errors.IO("SNAPSHOT_CAPTURE_FAILED",
			fmt.Sprintf("failed to capture domain directory %s", dir)).
			WithOperation("captureDomain").
			WithResource(dir).
			WithCause(err).
			Build()
	}
	return snap, nil
}

// ExecuteHolisticRollback restores all affected domains to their snapshotted
// state. Restoration is a single atomic batch: snapshotted files are written
// back and files that did not exist at snapshot time are deleted.
//
// Failures are logged and reported as false, never propagated as errors, so a
// rollback failure cannot mask the original update failure.
func (m *Manager) ExecuteHolisticRollback(ctx context.Context, updateID string) bool {
	data, err := m.LoadRollbackData(updateID)
	if err != nil {
		m.rollbackFailed(updateID, err)
		return false
	}
	if err := m.ValidateRollbackData(data); err != nil {
		m.rollbackFailed(updateID, err)
		return false
	}

	ops, err := m.restoreOperations(data)
	if err != nil {
		m.rollbackFailed(updateID, err)
		return false
	}

	if err := m.executor.Execute(ctx, ops); err != nil {
		m.rollbackFailed(updateID, err)
		return false
	}

	if err := m.setStatus(updateID, StatusRolledBack); err != nil {
		m.logger.Warn("Rollback succeeded but state index update failed",
			zap.String("updateId", updateID),
			zap.Error(err),
		)
	}

	m.logger.Info("Holistic rollback executed",
		zap.String("updateId", updateID),
		zap.Strings("affectedDomains", data.AffectedDomains),
		zap.Int("operations", len(ops)),
	)
	if m.bus != nil {
		m.bus.Publish(events.RollbackExecuted{
			UpdateID:  updateID,
			Timestamp: m.now(),
		})
	}
	return true
}

// restoreOperations diffs the current filesystem against the snapshot and
// produces the batch that restores it. Files present now but absent from the
// snapshot are deleted; every snapshotted file is rewritten unconditionally.
func (m *Manager) restoreOperations(data *HolisticRollbackData) ([]fileops.Operation, error) {
	var ops []fileops.Operation
	for _, snap := range data.Snapshots {
		current, err := listFiles(snap.DomainPath)
		if err != nil {
			return nil, err
		}
		for _, path := range current {
			if _, ok := snap.Files[path]; !ok {
				ops = append(ops, fileops.Operation{
					Type:       fileops.OpDelete,
					TargetPath: path,
				})
			}
		}
		for path, content := range snap.Files {
			ops = append(ops, fileops.Operation{
				Type:       fileops.OpUpdate,
				TargetPath: path,
				Content:    []byte(content),
			})
		}
	}
	return ops, nil
}

// MarkCompleted transitions a pending record to completed after the update
// itself succeeded. Completed records become eligible for cleanup.
func (m *Manager) MarkCompleted(updateID string) error {
	return m.setStatus(updateID, StatusCompleted)
}

// ValidateRollbackData rejects snapshot payloads whose paths are not
// absolute; a relative path would resolve against the process working
// directory and restore files to the wrong location.
func (m *Manager) ValidateRollbackData(data *HolisticRollbackData) error {
	if data.UpdateID == "" {
		return errors.Validation("INVALID_ROLLBACK_DATA", "rollback data has empty update id").
			WithOperation("ValidateRollbackData").
			Build()
	}
	for _, snap := range data.Snapshots {
		if !filepath.IsAbs(snap.DomainPath) {
			return errors.Validation("RELATIVE_SNAPSHOT_PATH",
				fmt.Sprintf("snapshot domain path is not absolute: %s", snap.DomainPath)).
				WithOperation("ValidateRollbackData").
				WithResource(snap.DomainPath).
				Build()
		}
		for path := range snap.Files {
			if !filepath.IsAbs(path) {
				return errors.Validation("RELATIVE_SNAPSHOT_PATH",
					fmt.Sprintf("snapshot file path is not absolute: %s", path)).
					WithOperation("ValidateRollbackData").
					WithResource(path).
					Build()
			}
		}
	}
	return nil
}

// LoadRollbackData reads the full snapshot payload for an update.
func (m *Manager) LoadRollbackData(updateID string) (*HolisticRollbackData, error) {
	var data HolisticRollbackData
	if err := readJSON(m.snapshotPath(updateID), &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// LoadState reads the lightweight index entry for an update.
func (m *Manager) LoadState(updateID string) (*RollbackState, error) {
	var state RollbackState
	if err := readJSON(m.statePath(updateID), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListStates returns all persisted state entries. Unreadable entries are
// logged and skipped rather than failing the listing.
func (m *Manager) ListStates() ([]RollbackState, error) {
	entries, err := os.ReadDir(m.config.StateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.IO("STATE_LIST_FAILED", "failed to list rollback state directory").
			WithOperation("ListStates").
			WithResource(m.config.StateDir).
			WithCause(err).
			Build()
	}

	var states []RollbackState
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var state RollbackState
		if err := readJSON(filepath.Join(m.config.StateDir, entry.Name()), &state); err != nil {
			m.logger.Warn("Skipping unreadable rollback state file",
				zap.String("file", entry.Name()),
				zap.Error(err),
			)
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

func (m *Manager) setStatus(updateID string, status Status) error {
	state, err := m.LoadState(updateID)
	if err != nil {
		return err
	}
	state.Status = status
	return writeJSON(m.statePath(updateID), state)
}

func (m *Manager) rollbackFailed(updateID string, cause error) {
	m.logger.Error("Holistic rollback failed",
		zap.String("updateId", updateID),
		zap.Error(cause),
	)
	if err := m.setStatus(updateID, StatusFailed); err != nil {
		m.logger.Warn("Failed to mark rollback state as failed",
			zap.String("updateId", updateID),
			zap.Error(err),
		)
	}
	if m.bus != nil {
		m.bus.Publish(events.RollbackFailed{
			UpdateID:  updateID,
			Error:     cause.Error(),
			Timestamp: m.now(),
		})
	}
}

func (m *Manager) statePath(updateID string) string {
	return filepath.Join(m.config.StateDir, updateID+stateSuffix)
}

func (m *Manager) snapshotPath(updateID string) string {
	return filepath.Join(m.config.SnapshotDir, updateID+snapshotSuffix)
}

// listFiles enumerates all regular files currently under dir. A missing
// directory yields an empty list.
func listFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.IO("DIRECTORY_SCAN_FAILED",
			fmt.Sprintf("failed to scan directory %s", dir)).
			WithOperation("listFiles").
			WithResource(dir).
			WithCause(err).
			Build()
	}
	return files, nil
}

func writeJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Internal("STATE_ENCODE_FAILED", "failed to encode rollback state").
			WithOperation("writeJSON").
			WithResource(path).
			WithCause(err).
			Build()
	}
	if err := os.WriteFile(path, payload, fileMode); err != nil {
		return errors.IO("STATE_WRITE_FAILED",
			fmt.Sprintf("failed to write %s", path)).
			WithOperation("writeJSON").
			WithResource(path).
			WithCause(err).
			Build()
	}
	return nil
}

func readJSON(path string, v any) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("ROLLBACK_RECORD_NOT_FOUND",
				fmt.Sprintf("no rollback record at %s", path)).
				WithOperation("readJSON").
				WithResource(path).
				Build()
		}
		return errors.IO("STATE_READ_FAILED",
			fmt.Sprintf("failed to read %s", path)).
			WithOperation("readJSON").
			WithResource(path).
			WithCause(err).
			Build()
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return errors.IO("STATE_DECODE_FAILED",
			fmt.Sprintf("corrupt rollback record at %s", path)).
			WithOperation("readJSON").
			WithResource(path).
			WithCause(err).
			Build()
	}
	return nil
}

func countFiles(snapshots []ContextSnapshot) int {
	total := 0
	for _, s := range snapshots {
		total += len(s.Files)
	}
	return total
}
