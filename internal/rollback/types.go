// Package rollback implements snapshot capture and restore for holistic
// multi-domain updates. A snapshot is taken before any destructive write; if
// the update fails, the manager restores every affected domain to its
// captured state through the atomic file-operation executor.
package rollback

import (
	"time"

	"contextgw-backend/internal/infrastructure/fileops"
)

// Status tracks the lifecycle of one holistic update attempt.
//
// State machine: pending -> completed (update succeeded) or
// pending -> rolled-back (update failed, rollback restored state).
// failed is terminal and reachable from pending when rollback execution
// itself fails.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCompleted  Status = "completed"
	StatusRolledBack Status = "rolled-back"
	StatusFailed     Status = "failed"
)

// ContextSnapshot captures the full content of every file under one domain's
// context directory at a point in time. Read-only after creation.
type ContextSnapshot struct {
	DomainPath string            `json:"domainPath"`
	Files      map[string]string `json:"files"` // absolute path -> content
	Timestamp  time.Time         `json:"timestamp"`
}

// HolisticRollbackData is the full durable record of one update attempt.
// Never mutated after initial write; only the state index tracks status.
type HolisticRollbackData struct {
	UpdateID        string              `json:"updateId"`
	Timestamp       time.Time           `json:"timestamp"`
	AffectedDomains []string            `json:"affectedDomains"`
	Snapshots       []ContextSnapshot   `json:"snapshots"`
	FileOperations  []fileops.Operation `json:"fileOperations"`
}

// RollbackState is the lightweight index entry persisted separately from the
// snapshot payload so listings don't load large snapshots.
type RollbackState struct {
	UpdateID        string    `json:"updateId"`
	Timestamp       time.Time `json:"timestamp"`
	AffectedDomains []string  `json:"affectedDomains"`
	Status          Status    `json:"status"`
	SnapshotPath    string    `json:"snapshotPath"`
}
