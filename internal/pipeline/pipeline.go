// pattern: Imperative Shell

package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"tangld/internal/config"
	"tangld/internal/fragment"
	"tangld/internal/hooks"
	"tangld/internal/install"
	"tangld/internal/layout"
	"tangld/internal/ledger"
	"tangld/internal/logging"
	"tangld/internal/scheduler"
	"tangld/internal/tangle"
)

// Phase names for hook registration.
const (
	PreBuild    = "pre-build"
	PostBuild   = "post-build"
	PreInstall  = "pre-install"
	PostInstall = "post-install"
)

// phase is a pipeline state, logged as the build advances.
type phase string

const (
	phaseIdle       phase = "idle"
	phasePreHooks   phase = "running-pre-hooks"
	phaseLibrary    phase = "loading-library"
	phaseLedger     phase = "loading-ledger"
	phaseScheduling phase = "scheduling"
	phaseAwaiting   phase = "awaiting-completion"
	phasePlacing    phase = "placing"
	phasePostHooks  phase = "running-post-hooks"
	phaseFailed     phase = "failed"
)

// Pipeline composes layout, ledger, fragment cache, scheduler, install
// strategy and hooks into the build, install and clean operations.
// Configuration is resolved once at construction and never mutated.
type Pipeline struct {
	cfg      config.Config
	dirs     layout.Dirs
	logger   *logging.ScopedLogger
	hooks    *hooks.Runner
	engine   tangle.Engine
	strategy install.Strategy
	sched    *scheduler.Scheduler
	cache    *fragment.Cache

	dataDir    string
	ledgerPath string
	state      phase
}

// New builds a pipeline from resolved configuration. Configuration and
// layout errors are fatal: no pipeline, no partial progress.
func New(cfg config.Config, logs logging.LoggerProvider, engine tangle.Engine, hookRunner *hooks.Runner) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dirs, err := layout.Resolve(cfg.Dirs)
	if err != nil {
		return nil, err
	}

	installType, err := install.ParseType(cfg.InstallType)
	if err != nil {
		return nil, err
	}

	var logger *logging.ScopedLogger
	if logs != nil {
		logger = logs.For("pipeline")
	} else {
		logger = logging.NopLogger()
	}

	if hookRunner == nil {
		hookRunner = hooks.NewRunner(logger)
	}
	if engine == nil {
		engine = tangle.NewExecEngine(cfg.TangleCommand, logger)
	}

	dataDir := config.DataDir(dirs.Root)
	strategy := install.New(installType, install.Options{
		BuildDir:    dirs.Build,
		InstallDir:  dirs.Install,
		StowCommand: cfg.StowCommand,
		Logger:      logger,
	})

	return &Pipeline{
		cfg:        cfg,
		dirs:       dirs,
		logger:     logger,
		hooks:      hookRunner,
		engine:     engine,
		strategy:   strategy,
		sched:      scheduler.New(engine, logger),
		cache:      fragment.NewCache(filepath.Join(dataDir, fragment.CacheFileName), cfg.UseCache, logger),
		dataDir:    dataDir,
		ledgerPath: filepath.Join(dataDir, ledger.FileName),
		state:      phaseIdle,
	}, nil
}

// Dirs exposes the resolved project layout.
func (p *Pipeline) Dirs() layout.Dirs {
	return p.dirs
}

// Init materializes the project layout and writes a starter configuration
// file when none exists. Idempotent.
func (p *Pipeline) Init() error {
	created, err := layout.Materialize(p.dirs)
	if err != nil {
		return err
	}
	p.logger.Info("project layout materialized", "created", len(created))

	configPath := filepath.Join(p.dirs.Root, config.FileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := p.cfg.Save(p.dirs.Root); err != nil {
			return err
		}
		p.logger.Info("wrote starter configuration", "path", configPath)
	}
	return nil
}

// Build runs one tangle round: decide staleness per source, dispatch the
// tangle work concurrently, wait on the join barrier, install the freshly
// built artifacts and flush the ledger. Per-file failures are isolated
// and summarized in the returned error; they never abort the rest of the
// round.
func (p *Pipeline) Build(ctx context.Context, force bool) error {
	fl, err := acquireLock(p.dataDir)
	if err != nil {
		return p.fail(err)
	}
	defer releaseLock(fl)

	p.setPhase(phasePreHooks)
	p.hooks.Run(PreBuild)

	p.setPhase(phaseLibrary)
	lib, err := p.cache.LoadEffective(p.libDirs(), force)
	if err != nil {
		return p.fail(err)
	}

	p.setPhase(phaseLedger)
	led, err := ledger.Load(p.ledgerPath)
	if err != nil {
		return p.fail(err)
	}

	sources, err := discoverSources(p.dirs.Source)
	if err != nil {
		return p.fail(err)
	}

	p.setPhase(phaseScheduling)
	forceAll := force || !p.cfg.LazyBuild
	targetFor := func(src string) (string, error) {
		return buildTarget(src, p.dirs.Source, p.dirs.Build)
	}
	tasks, results := p.sched.Dispatch(ctx, sources, led, lib, forceAll, targetFor)
	p.logger.Info("build round", "sources", len(sources), "dispatched", len(tasks), "force", forceAll)

	p.setPhase(phaseAwaiting)
	report := p.sched.Collect(results, led)

	p.setPhase(phasePlacing)
	installFailures := 0
	for _, artifact := range report.Artifacts {
		if _, err := p.strategy.Place(artifact); err != nil {
			installFailures++
			p.logger.Error("install failed", "artifact", artifact, "error", err)
		}
	}

	if err := led.Flush(p.ledgerPath); err != nil {
		return p.fail(err)
	}

	p.setPhase(phasePostHooks)
	p.hooks.Run(PostBuild)
	p.setPhase(phaseIdle)

	if n := len(report.Failed) + installFailures; n > 0 {
		return fmt.Errorf("build finished with %d failure(s): %d tangle, %d install",
			n, len(report.Failed), installFailures)
	}
	return nil
}

// Install places every artifact currently in the build directory using
// the configured strategy. Per-artifact failures are isolated.
func (p *Pipeline) Install(ctx context.Context) error {
	fl, err := acquireLock(p.dataDir)
	if err != nil {
		return p.fail(err)
	}
	defer releaseLock(fl)

	p.setPhase(phasePreHooks)
	p.hooks.Run(PreInstall)

	p.setPhase(phasePlacing)
	failures := 0
	placed := 0
	err = filepath.WalkDir(p.dirs.Build, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) && path == p.dirs.Build {
				return filepath.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			// The staging area is not installable content.
			if path == filepath.Join(p.dirs.Build, "stage") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if _, err := p.strategy.Place(path); err != nil {
			failures++
			p.logger.Error("install failed", "artifact", path, "error", err)
			return nil
		}
		placed++
		return nil
	})
	if err != nil {
		return p.fail(err)
	}

	p.setPhase(phasePostHooks)
	p.hooks.Run(PostInstall)
	p.setPhase(phaseIdle)

	p.logger.Info("install finished", "placed", placed, "failed", failures)
	if failures > 0 {
		return fmt.Errorf("install finished with %d failure(s)", failures)
	}
	return nil
}

// Clean removes the fragment cache and the ledger, forcing the next
// build to rebuild the library and re-tangle everything.
func (p *Pipeline) Clean() error {
	fl, err := acquireLock(p.dataDir)
	if err != nil {
		return p.fail(err)
	}
	defer releaseLock(fl)

	if err := p.cache.Invalidate(); err != nil {
		return p.fail(err)
	}
	if err := os.Remove(p.ledgerPath); err != nil && !os.IsNotExist(err) {
		return p.fail(err)
	}

	p.logger.Info("removed cache and ledger")
	p.setPhase(phaseIdle)
	return nil
}

// Check reports which sources would be tangled by a lazy build, without
// dispatching anything. Read-only.
func (p *Pipeline) Check() ([]string, error) {
	led, err := ledger.Load(p.ledgerPath)
	if err != nil {
		return nil, err
	}
	sources, err := discoverSources(p.dirs.Source)
	if err != nil {
		return nil, err
	}

	var stale []string
	for _, src := range sources {
		if led.IsStale(src) {
			stale = append(stale, src)
		}
	}
	return stale, nil
}

// libDirs returns the fragment directories in precedence order: the
// project lib first, then the system directory as lower precedence.
func (p *Pipeline) libDirs() []string {
	return []string{p.dirs.Lib, p.dirs.System}
}

func (p *Pipeline) setPhase(ph phase) {
	p.state = ph
	p.logger.Debug("phase", "phase", string(ph))
}

// fail marks the terminal failed state and passes the error through.
func (p *Pipeline) fail(err error) error {
	p.state = phaseFailed
	p.logger.Error("pipeline failed", "error", err)
	return err
}
