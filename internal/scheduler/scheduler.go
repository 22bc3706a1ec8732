// pattern: Imperative Shell

package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"tangld/internal/fragment"
	"tangld/internal/ledger"
	"tangld/internal/logging"
	"tangld/internal/tangle"
)

// Task is one unit of asynchronous tangle work. Immutable once dispatched.
type Task struct {
	Source string
	Target string
	Force  bool
}

// Result is a task's single terminal outcome: Outputs on success, Err on
// failure. Mtime is the source's modification time captured at completion,
// used by the coordinator to update the ledger.
type Result struct {
	Task    Task
	Outputs []string
	Mtime   time.Time
	Err     error
}

// Report summarizes one build's scheduling round after the join barrier.
type Report struct {
	Dispatched int
	Succeeded  int
	Failed     []Result
	Artifacts  []string
}

// Scheduler dispatches tangle work without blocking the caller. One
// goroutine per dispatched task; completions flow back over a channel and
// may arrive in any order.
type Scheduler struct {
	engine tangle.Engine
	logger *logging.ScopedLogger
}

// New creates a scheduler around a tangle engine.
func New(engine tangle.Engine, logger *logging.ScopedLogger) *Scheduler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Scheduler{engine: engine, logger: logger}
}

// Dispatch decides per source whether it must be rebuilt and launches the
// tangle for each candidate. It returns immediately after dispatch with
// the dispatched tasks and a channel carrying exactly one Result per task;
// the channel closes once every task is terminal (the join barrier).
//
// targetFor maps a source file to its build target path; it is supplied
// by the pipeline because target selection follows the install layout,
// not the tangle engine.
func (s *Scheduler) Dispatch(
	ctx context.Context,
	sources []string,
	led *ledger.Ledger,
	lib fragment.Library,
	forceAll bool,
	targetFor func(source string) (string, error),
) ([]Task, <-chan Result) {
	var tasks []Task
	skipped := 0

	for _, src := range sources {
		if !forceAll && !led.IsStale(src) {
			skipped++
			s.logger.Debug("source up to date, skipping", "source", src)
			continue
		}
		target, err := targetFor(src)
		if err != nil {
			// A source that cannot be mapped still gets a terminal
			// outcome so the join barrier stays exact.
			tasks = append(tasks, Task{Source: src, Force: forceAll})
			continue
		}
		tasks = append(tasks, Task{Source: src, Target: target, Force: forceAll})
	}

	results := make(chan Result, len(tasks))
	var wg sync.WaitGroup

	for _, task := range tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			results <- s.run(ctx, task, lib)
		}(task)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	s.logger.Info("tangle round dispatched", "dispatched", len(tasks), "skipped", skipped)
	return tasks, results
}

// run executes one task to its terminal state. Workers share no mutable
// state; the ledger is not touched here.
func (s *Scheduler) run(ctx context.Context, task Task, lib fragment.Library) Result {
	if task.Target == "" {
		return Result{Task: task, Err: errUnmappable(task.Source)}
	}

	outputs, err := s.engine.Tangle(ctx, task.Source, task.Target, lib)
	if err != nil {
		return Result{Task: task, Err: err}
	}

	res := Result{Task: task, Outputs: outputs}
	if info, statErr := os.Stat(task.Source); statErr == nil {
		res.Mtime = info.ModTime()
	} else {
		res.Mtime = time.Now()
	}
	return res
}

// Collect drains the results channel, applying ledger updates serially on
// the coordinator goroutine — the single-writer discipline for the only
// shared mutable resource. It returns after every dispatched task has
// reached a terminal state.
func (s *Scheduler) Collect(results <-chan Result, led *ledger.Ledger) Report {
	var report Report

	for res := range results {
		if res.Err != nil {
			// Ledger untouched: the file stays stale and retries next run.
			report.Failed = append(report.Failed, res)
			s.logger.Error("tangle failed", "source", res.Task.Source, "error", res.Err)
			continue
		}
		led.Record(res.Task.Source, res.Mtime)
		report.Succeeded++
		report.Artifacts = append(report.Artifacts, res.Outputs...)
		s.logger.Debug("tangle succeeded", "source", res.Task.Source, "outputs", len(res.Outputs))
	}

	report.Dispatched = report.Succeeded + len(report.Failed)
	return report
}

type errUnmappable string

func (e errUnmappable) Error() string {
	return "cannot compute target path for " + string(e)
}
