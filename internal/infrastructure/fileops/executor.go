// Package fileops implements the atomic file-operation executor used by
// holistic updates and rollbacks. A batch either applies fully or leaves the
// filesystem as it was before the batch started.
package fileops

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"contextgw-backend/internal/errors"
)

// OpType enumerates the supported file operations.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Operation is a single file mutation within a batch.
type Operation struct {
	Type       OpType `json:"type"`
	TargetPath string `json:"targetPath"`
	Content    []byte `json:"content,omitempty"`
}

// Executor applies operation batches atomically. Atomicity here means
// single-host crash-free semantics: every touched path is backed up before
// the first mutation, and any failure restores the backups in reverse order.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates an atomic batch executor.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger}
}

// backup captures the pre-batch state of one path.
type backup struct {
	path    string
	existed bool
	content []byte
	mode    os.FileMode
}

// Execute applies the operations in order. If any operation fails, all
// previously applied operations are undone and the original error is
// returned; no partial application remains visible.
func (e *Executor) Execute(ctx context.Context, ops []Operation) error {
	if err := validate(ops); err != nil {
		return err
	}

	backups := make([]*backup, 0, len(ops))
	backedUp := make(map[string]struct{}, len(ops))

	for _, op := range ops {
		if _, done := backedUp[op.TargetPath]; done {
			continue
		}
		b, err := captureBackup(op.TargetPath)
		if err != nil {
			return errors.IO("BACKUP_FAILED", "failed to capture pre-batch state").
				WithOperation("Execute").
				WithResource(op.TargetPath).
				WithCause(err).
				Build()
		}
		backups = append(backups, b)
		backedUp[op.TargetPath] = struct{}{}
	}

	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			e.restore(backups)
			return errors.Timeout("BATCH_CANCELLED", "batch cancelled mid-application").
				WithOperation("Execute").
				WithResource(op.TargetPath).
				WithCause(err).
				Build()
		}

		if err := apply(op); err != nil {
			e.logger.Error("Batch operation failed, restoring pre-batch state",
				zap.Int("operationIndex", i),
				zap.String("type", string(op.Type)),
				zap.String("path", op.TargetPath),
				zap.Error(err),
			)
			e.restore(backups)
			return err
		}
	}

	return nil
}

func validate(ops []Operation) error {
	for _, op := range ops {
		if !filepath.IsAbs(op.TargetPath) {
			return errors.Validation("RELATIVE_PATH", "batch operations require absolute paths").
				WithOperation("Execute").
				WithResource(op.TargetPath).
				Build()
		}
		switch op.Type {
		case OpCreate, OpUpdate, OpDelete:
		default:
			return errors.Validation("UNKNOWN_OPERATION", "unsupported operation type").
				WithOperation("Execute").
				WithResource(op.TargetPath).
				WithDetails(string(op.Type)).
				Build()
		}
	}
	return nil
}

func captureBackup(path string) (*backup, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &backup{path: path, existed: false}, nil
	}
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &backup{path: path, existed: true, content: content, mode: info.Mode()}, nil
}

func apply(op Operation) error {
	switch op.Type {
	case OpCreate:
		if _, err := os.Stat(op.TargetPath); err == nil {
			return errors.Conflict("TARGET_EXISTS", "create target already exists").
				WithOperation("apply").
				WithResource(op.TargetPath).
				WithRetryable(false).
				Build()
		}
		if err := os.MkdirAll(filepath.Dir(op.TargetPath), 0o755); err != nil {
			return wrapIO(op, err)
		}
		if err := os.WriteFile(op.TargetPath, op.Content, 0o644); err != nil {
			return wrapIO(op, err)
		}

	case OpUpdate:
		if err := os.MkdirAll(filepath.Dir(op.TargetPath), 0o755); err != nil {
			return wrapIO(op, err)
		}
		if err := os.WriteFile(op.TargetPath, op.Content, 0o644); err != nil {
			return wrapIO(op, err)
		}

	case OpDelete:
		if err := os.Remove(op.TargetPath); err != nil && !os.IsNotExist(err) {
			return wrapIO(op, err)
		}
	}
	return nil
}

// restore undoes applied operations by replaying backups in reverse order.
// Restore failures are logged loudly; there is nothing further to fall back
// to at this layer.
func (e *Executor) restore(backups []*backup) {
	for i := len(backups) - 1; i >= 0; i-- {
		b := backups[i]
		var err error
		if b.existed {
			if err = os.MkdirAll(filepath.Dir(b.path), 0o755); err == nil {
				err = os.WriteFile(b.path, b.content, b.mode)
			}
		} else {
			err = os.Remove(b.path)
			if os.IsNotExist(err) {
				err = nil
			}
		}
		if err != nil {
			e.logger.Error("Failed to restore pre-batch state",
				zap.String("path", b.path),
				zap.Bool("existed", b.existed),
				zap.Error(err),
			)
		}
	}
}

func wrapIO(op Operation, err error) error {
	return errors.IO("FILE_OPERATION_FAILED", "file operation failed").
		WithOperation(string(op.Type)).
		WithResource(op.TargetPath).
		WithCause(err).
		Build()
}
