// Package executor implements the Host Executor: validate → backup → apply
// → verify → health → (rollback) (spec §4.7), grounded in the teacher's
// pkg/queue/worker.go step-pipeline idiom (ordered steps, per-step timing,
// hooks for test observability).
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nana77mi/lonelycat/pkg/artifact"
	"github.com/nana77mi/lonelycat/pkg/execlock"
	"github.com/nana77mi/lonelycat/pkg/governance"
	"github.com/nana77mi/lonelycat/pkg/lcerrors"
	"github.com/nana77mi/lonelycat/pkg/pathsec"
	"github.com/nana77mi/lonelycat/pkg/store"
)

// Hooks allows tests to observe around the core execution step, matching the
// teacher's worker hook map idiom.
type Hooks struct {
	BeforeDoExecute func(executionID string)
	AfterDoExecute  func(executionID string, result *Result)
}

// Executor applies approved changesets atomically with backup/verify/
// rollback guarantees (spec §4.7).
type Executor struct {
	WorkspaceRoot  string
	Artifacts      *artifact.Manager
	Store          *store.ExecutionStore
	Lock           *execlock.Lock
	Idempotency    *execlock.IdempotencyCache
	UseLocking     bool
	UseIdempotency bool
	Hooks          Hooks
	NowFunc        func() time.Time

	// VerifyRunner and HealthRunner are injected collaborators so tests can
	// substitute fakes for subprocess/HTTP execution.
	VerifyRunner VerifyRunner
	HealthRunner HealthRunner
}

// VerifyRunner executes one line of a verification_plan and returns whether
// it passed (spec §4.7 step 5).
type VerifyRunner interface {
	Run(ctx context.Context, step string, timeout time.Duration) error
}

// HealthRunner executes one health_checks entry (spec §4.7 step 6).
type HealthRunner interface {
	Check(ctx context.Context, descriptor string, timeout time.Duration) error
}

// Result is the outcome of Execute.
type Result struct {
	ExecutionID        string
	Status             store.ExecutionStatus
	RolledBack         bool
	VerificationPassed bool
	HealthChecksPassed bool
	FilesChanged       int
	ErrorStep          string
	ErrorMessage        string
	Cached             bool
	Message            string
}

func (e *Executor) now() time.Time {
	if e.NowFunc != nil {
		return e.NowFunc()
	}
	return time.Now()
}

// Execute runs the full pipeline for plan/changeset/decision (spec §4.7).
// Preconditions: decision.verdict == ALLOW and changeset.verify_checksum()
// holds.
func (e *Executor) Execute(ctx context.Context, plan *governance.ChangePlan, cs *governance.ChangeSet, decision *governance.GovernanceDecision) (*Result, error) {
	executionID := execlock.ExecutionIDFor(plan.ID, cs.Checksum)

	if e.UseIdempotency && e.Idempotency != nil {
		if rec, found := e.Idempotency.Lookup(plan.ID, cs.Checksum, false); found {
			return &Result{ExecutionID: rec.ExecutionID, Cached: true, Message: "[CACHED] " + string(rec.Result)}, nil
		}
	}

	if e.UseLocking && e.Lock != nil {
		if err := e.Lock.Acquire(ctx, executionID, plan.ID, 600*time.Second); err != nil {
			return nil, err
		}
		defer e.Lock.Release(executionID)
	}

	result, err := e.doExecute(ctx, executionID, plan, cs, decision)

	if e.UseIdempotency && e.Idempotency != nil && result != nil {
		_, _ = e.Idempotency.Record(plan.ID, cs.Checksum, result.Status == store.StatusCompleted, result)
	}

	return result, err
}

func (e *Executor) doExecute(ctx context.Context, executionID string, plan *governance.ChangePlan, cs *governance.ChangeSet, decision *governance.GovernanceDecision) (*Result, error) {
	if e.Hooks.BeforeDoExecute != nil {
		e.Hooks.BeforeDoExecute(executionID)
	}

	result := &Result{ExecutionID: executionID}
	started := e.now()

	defer func() {
		if e.Hooks.AfterDoExecute != nil {
			e.Hooks.AfterDoExecute(executionID, result)
		}
	}()

	rec := &store.ExecutionRecord{
		ExecutionID:   executionID,
		PlanID:        plan.ID,
		ChangesetID:   cs.ID,
		DecisionID:    decision.ID,
		Checksum:      cs.Checksum,
		Verdict:       string(decision.Verdict),
		RiskLevel:     string(decision.RiskLevelEffective),
		AffectedPaths: plan.AffectedPaths,
		StartedAt:     started,
	}
	if e.Store != nil {
		if err := e.Store.RecordExecutionStart(ctx, rec); err != nil {
			return nil, fmt.Errorf("recording execution start: %w", err)
		}
	}

	step := 0
	fail := func(name, message string) (*Result, error) {
		result.Status = store.StatusFailed
		result.ErrorStep = name
		result.ErrorMessage = message
		e.writeStepLog(executionID, step, name, "failed: "+message)
		rolledBack := false
		if result.FilesChanged > 0 {
			appliedCS := *cs
			appliedCS.Changes = cs.Changes[:result.FilesChanged]
			rolledBack = e.rollback(ctx, executionID, plan, &appliedCS)
		}
		result.RolledBack = rolledBack
		if rolledBack {
			result.Status = store.StatusRolledBack
		}
		e.finish(ctx, executionID, result, started)
		return result, lcerrors.New(lcerrors.KindApplyFailed, message)
	}

	// Step 1: validate.
	step = 1
	e.writeStepLog(executionID, step, "validate", "checking verdict")
	if decision.Verdict != governance.VerdictAllow {
		return fail("validate", "decision verdict is not ALLOW")
	}

	// Step 2: checksum.
	step = 2
	e.writeStepLog(executionID, step, "checksum", "recomputing changeset checksum")
	if !cs.VerifyChecksum() {
		return fail("checksum", "changeset checksum mismatch")
	}

	// Step 3: backup.
	step = 3
	e.writeStepLog(executionID, step, "backup", "backing up existing targets")
	for _, ch := range cs.Changes {
		if _, err := e.canonicalizeChange(ch); err != nil {
			return fail("backup", err.Error())
		}
		if ch.Operation == governance.OpCreate {
			continue
		}
		if _, err := os.Stat(filepath.Join(e.WorkspaceRoot, ch.Path)); err == nil {
			if err := e.Artifacts.BackupFile(executionID, e.WorkspaceRoot, ch.Path); err != nil {
				return fail("backup", err.Error())
			}
		}
	}

	// Step 4: apply.
	step = 4
	e.writeStepLog(executionID, step, "apply", "applying changes")
	applied, err := e.apply(cs)
	result.FilesChanged = applied
	if err != nil {
		return fail("apply", err.Error())
	}

	// Step 5: verify.
	step = 5
	e.writeStepLog(executionID, step, "verify", "running verification plan")
	if err := e.verify(ctx, plan.VerificationPlan); err != nil {
		result.VerificationPassed = false
		return fail("verify", err.Error())
	}
	result.VerificationPassed = true

	// Step 6: health.
	step = 6
	e.writeStepLog(executionID, step, "health", "running health checks")
	if err := e.health(ctx, plan.HealthChecks); err != nil {
		result.HealthChecksPassed = false
		return fail("health", err.Error())
	}
	result.HealthChecksPassed = true

	result.Status = store.StatusCompleted
	e.finish(ctx, executionID, result, started)
	return result, nil
}

func (e *Executor) writeStepLog(executionID string, stepNum int, name, line string) {
	if e.Artifacts != nil {
		_ = e.Artifacts.AppendStepLog(executionID, stepNum, name, line)
	}
}

func (e *Executor) finish(ctx context.Context, executionID string, result *Result, started time.Time) {
	if e.Store == nil {
		return
	}
	duration := e.now().Sub(started).Seconds()
	_ = e.Store.RecordExecutionEnd(ctx, executionID, result.Status, e.now(), duration, result.FilesChanged,
		result.RolledBack, &result.VerificationPassed, &result.HealthChecksPassed, result.ErrorStep, result.ErrorMessage,
		e.Artifacts.Dir(executionID))
}

// apply applies each FileChange per spec §4.7 step 4's CREATE/UPDATE/DELETE
// rules, returning the count of files successfully changed before any
// failure.
func (e *Executor) apply(cs *governance.ChangeSet) (int, error) {
	applied := 0
	for _, ch := range cs.Changes {
		target, err := e.canonicalizeChange(ch)
		if err != nil {
			return applied, err
		}
		switch ch.Operation {
		case governance.OpCreate:
			if _, err := os.Stat(target); err == nil {
				return applied, lcerrors.WithSub(lcerrors.KindApplyFailed, lcerrors.SubCreateExists, ch.Path)
			}
			if ch.NewContent == nil {
				return applied, fmt.Errorf("CREATE %s missing new_content", ch.Path)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return applied, err
			}
			if err := atomicWrite(target, []byte(*ch.NewContent), 0o644); err != nil {
				return applied, err
			}
		case governance.OpUpdate:
			current, err := os.ReadFile(target)
			if err != nil {
				return applied, err
			}
			if ch.OldContent == nil || string(current) != *ch.OldContent {
				return applied, lcerrors.WithSub(lcerrors.KindApplyFailed, lcerrors.SubUpdateMismatch, ch.Path)
			}
			if ch.NewContent == nil {
				return applied, fmt.Errorf("UPDATE %s missing new_content", ch.Path)
			}
			info, err := os.Stat(target)
			if err != nil {
				return applied, err
			}
			if err := atomicWrite(target, []byte(*ch.NewContent), info.Mode()); err != nil {
				return applied, err
			}
		case governance.OpDelete:
			current, err := os.ReadFile(target)
			if err != nil {
				return applied, err
			}
			if ch.OldContent == nil || string(current) != *ch.OldContent {
				return applied, lcerrors.WithSub(lcerrors.KindApplyFailed, lcerrors.SubDeleteMismatch, ch.Path)
			}
			if err := os.Remove(target); err != nil {
				return applied, err
			}
		default:
			return applied, fmt.Errorf("unknown operation %q", ch.Operation)
		}
		applied++
	}
	return applied, nil
}

// canonicalizeChange resolves ch.Path against the workspace root via
// pkg/pathsec, refusing traversal, absolute/UNC paths, and any
// workspace-internal symlink crossing before the caller touches the
// filesystem (spec §4.1, §4.7 step 4).
func (e *Executor) canonicalizeChange(ch governance.FileChange) (string, error) {
	res := pathsec.Canonicalize(ch.Path, e.WorkspaceRoot)
	if res.Violation != pathsec.ViolationNone {
		return "", lcerrors.WithSub(lcerrors.KindPathViolation, string(res.Violation), fmt.Sprintf("path %q: %s", ch.Path, res.Violation))
	}
	return res.AbsPath, nil
}

func atomicWrite(target string, data []byte, mode os.FileMode) error {
	tmp := target + ".tmp-" + fmt.Sprint(time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// verify runs verification_plan split on `;` or newlines, classifying each
// step as a test/health/generic command (spec §4.7 step 5).
func (e *Executor) verify(ctx context.Context, plan string) error {
	steps := splitPlan(plan)
	if len(steps) == 0 {
		return nil
	}
	for _, s := range steps {
		timeout := 60 * time.Second
		lower := strings.ToLower(s)
		if strings.Contains(lower, "pytest") || strings.Contains(lower, "npm test") {
			timeout = 5 * time.Minute
		} else if strings.Contains(lower, "health") || strings.Contains(lower, "check") {
			timeout = 60 * time.Second
		}
		if e.VerifyRunner == nil {
			continue
		}
		if err := e.VerifyRunner.Run(ctx, s, timeout); err != nil {
			return fmt.Errorf("verification step %q: %w", s, err)
		}
	}
	return nil
}

func (e *Executor) health(ctx context.Context, checks []string) error {
	if e.HealthRunner == nil {
		return nil
	}
	for _, c := range checks {
		if err := e.HealthRunner.Check(ctx, c, 5*time.Second); err != nil {
			return fmt.Errorf("health check %q: %w", c, err)
		}
	}
	return nil
}

func splitPlan(plan string) []string {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return nil
	}
	var raw []string
	if strings.Contains(plan, "\n") {
		raw = strings.Split(plan, "\n")
	} else {
		raw = strings.Split(plan, ";")
	}
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// rollback restores each applied path from backup, or deletes it if it was
// created by this execution (spec §4.7 step 7).
func (e *Executor) rollback(ctx context.Context, executionID string, plan *governance.ChangePlan, cs *governance.ChangeSet) bool {
	backupDir, err := e.Artifacts.BackupDir(executionID)
	if err != nil {
		return false
	}
	ok := true
	for _, ch := range cs.Changes {
		target, err := e.canonicalizeChange(ch)
		if err != nil {
			ok = false
			continue
		}
		switch ch.Operation {
		case governance.OpCreate:
			_ = os.Remove(target)
		case governance.OpUpdate, governance.OpDelete:
			backupPath := filepath.Join(backupDir, ch.Path)
			data, err := os.ReadFile(backupPath)
			if err != nil {
				ok = false
				continue
			}
			if err := atomicWrite(target, data, 0o644); err != nil {
				ok = false
			}
		}
	}
	return ok
}
