package runqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nana77mi/lonelycat/pkg/lcerrors"
)

// RunHandler executes one claimed run and returns its output_json, grounded
// on original_source's "run handler" step of spec.md §4.1's data flow:
// `Worker pulls → Run handler → (for code changes) Planner → WriteGate →
// Executor → Artifact+Store`. Handlers are registered by run Type so a
// sandbox_exec run and a code-change run can be dispatched to unrelated
// collaborators (pkg/sandbox, pkg/planner+pkg/policy+pkg/executor) without
// this package importing either.
type RunHandler interface {
	Handle(ctx context.Context, run *Run) (json.RawMessage, error)
}

// Worker claims and processes queued runs one at a time, following the
// teacher's pkg/queue/worker.go poll-loop idiom (select on stop/ctx-done,
// claim-next, process, jittered sleep on an empty queue, fixed one-second
// sleep on error) reimplemented
// over this package's database/sql-backed Store instead of ent.
type Worker struct {
	ID           string
	Runs         *Store
	Queue        *Queue
	Handlers     map[string]RunHandler
	PollInterval time.Duration
	LeaseFor     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker builds a Worker. handlers maps a run's Type field to the
// collaborator that processes it; a run of an unregistered type fails
// immediately rather than blocking the queue.
func NewWorker(id string, runs *Store, queue *Queue, handlers map[string]RunHandler) *Worker {
	return &Worker{
		ID:           id,
		Runs:         runs,
		Queue:        queue,
		Handlers:     handlers,
		PollInterval: 2 * time.Second,
		LeaseFor:     5 * time.Minute,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the poll loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish. Safe to call
// more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.ID)
	log.Info("run queue worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("run queue worker stopping")
			return
		case <-ctx.Done():
			return
		default:
			processed, err := w.pollAndProcess(ctx)
			if err != nil {
				log.Error("error processing run", "error", err)
				w.sleep(time.Second)
				continue
			}
			if !processed {
				w.sleep(w.jitteredInterval())
			}
		}
	}
}

// jitteredInterval spreads concurrent workers' polls, matching the
// teacher's pollInterval jitter in pkg/queue/worker.go.
func (w *Worker) jitteredInterval() time.Duration {
	base := w.PollInterval
	jitter := time.Duration(rand.Int64N(int64(base)))
	return base + jitter/2
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next queued run (if any) and dispatches it to
// the handler registered for its Type. It reports whether a run was claimed,
// so the caller can skip the poll-interval sleep when work is available.
func (w *Worker) pollAndProcess(ctx context.Context) (bool, error) {
	run, err := w.Runs.ClaimNext(ctx, w.ID, w.LeaseFor)
	if err != nil {
		if errors.Is(err, lcerrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	log := slog.With("run_id", run.ID, "run_type", run.Type, "worker_id", w.ID)
	log.Info("run claimed")

	handler, ok := w.Handlers[run.Type]
	if !ok {
		log.Error("no handler registered for run type")
		return true, w.Queue.CompleteFailure(ctx, run.ID, "no handler registered for run type "+run.Type)
	}

	output, err := handler.Handle(ctx, run)
	if err != nil {
		log.Error("run handler failed", "error", err)
		return true, w.Queue.CompleteFailure(ctx, run.ID, err.Error())
	}
	return true, w.Queue.CompleteSuccess(ctx, run.ID, output)
}
