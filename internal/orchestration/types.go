// Package orchestration coordinates the optimized operation paths: cache
// lookup, parallel or sequential compute, optimization, and cache store, plus
// the snapshot-protected holistic update flow.
package orchestration

import (
	"time"

	"contextgw-backend/internal/infrastructure/fileops"
)

// OperationMetrics describes how one orchestrated operation was served.
type OperationMetrics struct {
	TotalTime            time.Duration `json:"totalTime"`
	CacheHit             bool          `json:"cacheHit"`
	ParallelTasks        int           `json:"parallelTasks"`
	MemoryUsed           int64         `json:"memoryUsed"`
	OptimizationsApplied []string      `json:"optimizationsApplied"`
}

// RollbackInfo tells holistic-update callers whether recovery is possible.
type RollbackInfo struct {
	RollbackID      string `json:"rollbackId"`
	SnapshotSaved   bool   `json:"snapshotSaved"`
	RollbackCapable bool   `json:"rollbackCapable"`
}

// OperationResult is the uniform envelope returned by every orchestrator
// entry point. Failures are carried as data; the orchestrator never lets an
// internal error escape as a Go error.
type OperationResult struct {
	RequestID string           `json:"requestId"`
	Success   bool             `json:"success"`
	Result    any              `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Errors    []string         `json:"errors,omitempty"`
	Rollback  *RollbackInfo    `json:"rollback,omitempty"`
	Metrics   OperationMetrics `json:"metrics"`
}

// HolisticUpdateRequest describes a multi-domain file write that must apply
// atomically or be rolled back as a unit.
type HolisticUpdateRequest struct {
	UpdateID   string              `json:"updateId,omitempty"`
	Operations []fileops.Operation `json:"operations"`
}

// HolisticUpdateResult is the success payload of a holistic update.
type HolisticUpdateResult struct {
	UpdateID          string   `json:"updateId"`
	AffectedDomains   []string `json:"affectedDomains"`
	OperationsApplied int      `json:"operationsApplied"`
	ReanalyzedFiles   int      `json:"reanalyzedFiles"`
}
