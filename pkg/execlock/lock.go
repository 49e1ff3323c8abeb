// Package execlock implements the repository-level execution mutex and the
// plan×checksum idempotency cache (spec §4.5), grounded in the teacher's
// pkg/queue claim/lease idiom (poll-and-retry, stale-lease detection) but
// reimplemented as a plain-file lock rather than a DB row claim, per spec.
package execlock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// LockInfo is the JSON payload written into the lock file (spec §4.5).
type LockInfo struct {
	ExecutionID string    `json:"execution_id"`
	PlanID      string    `json:"plan_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	PID         int       `json:"pid"`
	Hostname    string    `json:"hostname"`
}

// Lock is the file-based repository mutex.
type Lock struct {
	Path           string
	PollInterval   time.Duration
	StaleThreshold time.Duration
}

// NewLock returns a Lock rooted at <workspaceRoot>/.lonelycat/locks/execution.lock
// (spec §4.5, §6).
func NewLock(workspaceRoot string) *Lock {
	return &Lock{
		Path:           filepath.Join(workspaceRoot, ".lonelycat", "locks", "execution.lock"),
		PollInterval:   time.Second,
		StaleThreshold: 2 * time.Hour,
	}
}

// Acquire polls at PollInterval until the lock file can be atomically
// created, timeout elapses, or ctx is canceled. On timeout it makes one
// attempt at stale-lock cleanup (spec §4.5).
func (l *Lock) Acquire(ctx context.Context, executionID, planID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	deadline := time.Now().Add(timeout)
	hostname, _ := os.Hostname()
	info := LockInfo{ExecutionID: executionID, PlanID: planID, AcquiredAt: time.Now().UTC(), PID: os.Getpid(), Hostname: hostname}

	for {
		if err := l.tryCreate(info); err == nil {
			return nil
		} else if !os.IsExist(err) {
			return fmt.Errorf("creating lock file: %w", err)
		}

		if time.Now().After(deadline) {
			if l.cleanupIfStale() {
				continue // one more attempt right away
			}
			return lcerrors.New(lcerrors.KindLockAcquisition, "timed out waiting for execution lock")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.PollInterval):
		}
	}
}

func (l *Lock) tryCreate(info LockInfo) error {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(info)
}

// cleanupIfStale removes the lock file if it is both older than
// StaleThreshold and its recorded PID cannot be confirmed alive
// (portable best-effort check, spec §4.5). Returns true if it removed the
// file.
func (l *Lock) cleanupIfStale() bool {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return false
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return false
	}
	if time.Since(info.AcquiredAt) < l.StaleThreshold {
		return false
	}
	if processAlive(info.PID) {
		return false
	}
	return os.Remove(l.Path) == nil
}

// processAlive is a portable best-effort liveness check: sending signal 0
// reports existence without affecting the process. Any error (including
// "not supported" on platforms where os.FindProcess always succeeds)
// conservatively reports "alive" only when the error is permission-related;
// a clean "no such process" reports dead.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, os.ErrPermission)
}

// Release removes the lock file if it is owned by executionID (spec §4.5:
// "Releasing verifies ownership by execution_id").
func (l *Lock) Release(executionID string) error {
	data, err := os.ReadFile(l.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return err
	}
	if info.ExecutionID != executionID {
		return fmt.Errorf("lock owned by execution %q, not %q", info.ExecutionID, executionID)
	}
	return os.Remove(l.Path)
}

// ExecutionIDFor computes the idempotency id for a (plan_id, checksum) pair
// (spec §4.5): sha256(plan_id:checksum)[:16].
func ExecutionIDFor(planID, checksum string) string {
	sum := sha256.Sum256([]byte(planID + ":" + checksum))
	return hex.EncodeToString(sum[:])[:16]
}
