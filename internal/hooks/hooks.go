// pattern: Functional Core

package hooks

import (
	"tangld/internal/logging"
)

// Hook is a user-registered callback run around a pipeline phase.
// Hooks have no return-value contract beyond reporting failure; their
// observable effect is whatever side effect they perform.
type Hook struct {
	Name string
	Fn   func() error
}

// Runner invokes hooks in registration order. Registration happens at
// pipeline construction; the runner is not mutated during a run.
type Runner struct {
	logger *logging.ScopedLogger
	phases map[string][]Hook
}

// NewRunner creates a hook runner.
func NewRunner(logger *logging.ScopedLogger) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{logger: logger, phases: make(map[string][]Hook)}
}

// Register appends a hook to a phase, preserving registration order.
func (r *Runner) Register(phase string, h Hook) {
	r.phases[phase] = append(r.phases[phase], h)
}

// Run invokes every hook registered for the phase in order. A failing
// hook is logged and skipped; it never aborts the remaining hooks or the
// surrounding phase.
func (r *Runner) Run(phase string) {
	for _, h := range r.phases[phase] {
		if h.Fn == nil {
			continue
		}
		if err := h.Fn(); err != nil {
			r.logger.Warn("hook failed", "phase", phase, "hook", h.Name, "error", err)
			continue
		}
		r.logger.Debug("hook ran", "phase", phase, "hook", h.Name)
	}
}
