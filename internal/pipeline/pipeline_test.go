package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"tangld/internal/config"
	"tangld/internal/fragment"
	"tangld/internal/hooks"
	"tangld/internal/tangle"
)

// copyEngine is a stand-in tangle engine: it writes the source document's
// bytes to the target path and reports that single output.
func copyEngine(calls *atomic.Int32) tangle.Engine {
	return tangle.EngineFunc(func(ctx context.Context, src, target string, lib fragment.Library) ([]string, error) {
		if calls != nil {
			calls.Add(1)
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return nil, err
		}
		return []string{target}, nil
	})
}

func newTestPipeline(t *testing.T, engine tangle.Engine, mutate func(*config.Config)) *Pipeline {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig(root)
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := New(cfg, nil, engine, nil)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := p.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return p
}

func writeSource(t *testing.T, p *Pipeline, rel, content string) string {
	t.Helper()
	path := filepath.Join(p.Dirs().Source, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInit_IsIdempotentAndWritesConfig(t *testing.T) {
	p := newTestPipeline(t, copyEngine(nil), nil)

	if _, err := os.Stat(filepath.Join(p.Dirs().Root, config.FileName)); err != nil {
		t.Errorf("starter config not written: %v", err)
	}
	if err := p.Init(); err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
}

func TestBuild_LazyThenNoop(t *testing.T) {
	var calls atomic.Int32
	p := newTestPipeline(t, copyEngine(&calls), nil)
	writeSource(t, p, "shell.org", "#+name: x\n#+begin_src sh\nls\n#+end_src\n")

	if err := p.Build(context.Background(), false); err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("engine called %d times, want 1", calls.Load())
	}

	// Artifact landed in the build dir, extension stripped.
	artifact := filepath.Join(p.Dirs().Build, "shell")
	if _, err := os.Stat(artifact); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	// Default install type is link: the artifact is symlinked under install.
	installed := filepath.Join(p.Dirs().Install, "shell")
	info, err := os.Lstat(installed)
	if err != nil {
		t.Fatalf("installed link missing: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Error("installed path should be a symlink")
	}

	// Unmodified tree: second lazy build dispatches nothing.
	if err := p.Build(context.Background(), false); err != nil {
		t.Fatalf("second Build() failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("engine called %d times after rebuild, want still 1", calls.Load())
	}
}

func TestBuild_ForceRetanglesEverything(t *testing.T) {
	var calls atomic.Int32
	p := newTestPipeline(t, copyEngine(&calls), nil)
	writeSource(t, p, "a.org", "doc a")
	writeSource(t, p, "b.org", "doc b")

	if err := p.Build(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := p.Build(context.Background(), true); err != nil {
		t.Fatalf("forced Build() failed: %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("engine called %d times, want 4 (2 lazy + 2 forced)", calls.Load())
	}
}

func TestBuild_TangleFailureIsIsolated(t *testing.T) {
	engine := tangle.EngineFunc(func(ctx context.Context, src, target string, lib fragment.Library) ([]string, error) {
		if filepath.Base(src) == "bad.org" {
			return nil, errors.New("unresolved fragment")
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(target, []byte("ok"), 0644); err != nil {
			return nil, err
		}
		return []string{target}, nil
	})
	p := newTestPipeline(t, engine, nil)
	writeSource(t, p, "bad.org", "x")
	writeSource(t, p, "good.org", "y")

	err := p.Build(context.Background(), false)
	if err == nil {
		t.Fatal("Build() should report the failure")
	}

	// The good file was still built and installed.
	if _, err := os.Stat(filepath.Join(p.Dirs().Build, "good")); err != nil {
		t.Errorf("good artifact missing: %v", err)
	}

	// The bad file stays stale: a new build retries only it.
	var calls atomic.Int32
	p2, err := New(p.cfg, nil, copyEngine(&calls), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := p2.Build(context.Background(), false); err != nil {
		t.Fatalf("retry Build() failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("retry dispatched %d tasks, want 1 (only the failed source)", calls.Load())
	}
}

func TestBuild_RunsHooksAroundPhases(t *testing.T) {
	var order []string
	hr := hooks.NewRunner(nil)
	hr.Register(PreBuild, hooks.Hook{Name: "pre", Fn: func() error {
		order = append(order, "pre")
		return nil
	}})
	hr.Register(PostBuild, hooks.Hook{Name: "post", Fn: func() error {
		order = append(order, "post")
		return nil
	}})
	// A failing hook must not abort the build.
	hr.Register(PreBuild, hooks.Hook{Name: "boom", Fn: func() error {
		order = append(order, "boom")
		return errors.New("ignored")
	}})

	root := t.TempDir()
	cfg := config.DefaultConfig(root)
	p, err := New(cfg, nil, copyEngine(nil), hr)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Init(); err != nil {
		t.Fatal(err)
	}

	if err := p.Build(context.Background(), false); err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if len(order) != 3 || order[0] != "pre" || order[1] != "boom" || order[2] != "post" {
		t.Errorf("hook order = %v, want [pre boom post]", order)
	}
}

func TestInstall_PlacesBuildTree(t *testing.T) {
	p := newTestPipeline(t, copyEngine(nil), func(c *config.Config) {
		c.InstallType = "direct"
	})
	// A previously built artifact sitting in the build tree.
	artifact := filepath.Join(p.Dirs().Build, "editor", "vimrc")
	if err := os.MkdirAll(filepath.Dir(artifact), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(artifact, []byte("vim config"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := p.Install(context.Background()); err != nil {
		t.Fatalf("Install() failed: %v", err)
	}
	installed := filepath.Join(p.Dirs().Install, "editor", "vimrc")
	if _, err := os.Stat(installed); err != nil {
		t.Errorf("installed file missing: %v", err)
	}
}

func TestClean_RemovesCacheAndLedger(t *testing.T) {
	p := newTestPipeline(t, copyEngine(nil), nil)
	writeSource(t, p, "a.org", "doc")

	if err := p.Build(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	ledgerPath := p.ledgerPath
	cachePath := p.cache.Path
	if _, err := os.Stat(ledgerPath); err != nil {
		t.Fatalf("ledger should exist after build: %v", err)
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Fatalf("cache should exist after build: %v", err)
	}

	if err := p.Clean(); err != nil {
		t.Fatalf("Clean() failed: %v", err)
	}
	if _, err := os.Stat(ledgerPath); !os.IsNotExist(err) {
		t.Error("ledger should be removed")
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Error("cache should be removed")
	}

	// Everything is stale again.
	stale, err := p.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 {
		t.Errorf("Check() = %v, want 1 stale source", stale)
	}
}

func TestCheck_ReadOnly(t *testing.T) {
	var calls atomic.Int32
	p := newTestPipeline(t, copyEngine(&calls), nil)
	writeSource(t, p, "a.org", "doc")

	stale, err := p.Check()
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("Check() = %v, want 1 stale source", stale)
	}
	if calls.Load() != 0 {
		t.Error("Check() must not dispatch tangle work")
	}

	if err := p.Build(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	stale, err = p.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Errorf("Check() after build = %v, want empty", stale)
	}
}

func TestNew_InvalidConfigIsFatal(t *testing.T) {
	cfg := config.DefaultConfig(t.TempDir())
	cfg.InstallType = "teleport"
	if _, err := New(cfg, nil, copyEngine(nil), nil); err == nil {
		t.Fatal("New() should reject an unknown install type")
	}
}

func TestSystemFragmentsHaveLowerPrecedence(t *testing.T) {
	p := newTestPipeline(t, copyEngine(nil), func(c *config.Config) {
		c.UseCache = false
	})

	libFile := filepath.Join(p.Dirs().Lib, "frags.org")
	sysFile := filepath.Join(p.Dirs().System, "frags.org")
	if err := os.WriteFile(libFile, []byte("#+name: greeting\n#+begin_src sh\nproject\n#+end_src\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sysFile, []byte("#+name: greeting\n#+begin_src sh\nsystem\n#+end_src\n"), 0644); err != nil {
		t.Fatal(err)
	}

	lib, err := p.cache.LoadEffective(p.libDirs(), false)
	if err != nil {
		t.Fatal(err)
	}
	if lib["greeting"].Body != "project" {
		t.Errorf("Body = %q, want the project lib definition to win", lib["greeting"].Body)
	}
}
