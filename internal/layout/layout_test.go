package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tangld/internal/config"
)

func TestResolve_RelativeEntriesJoinRoot(t *testing.T) {
	root := t.TempDir()

	d, err := Resolve(config.Dirs{
		Root:    root,
		Lib:     "lib",
		Build:   "build",
		Source:  "src",
		Install: "install",
		System:  "system",
	})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}

	if d.Lib != filepath.Join(root, "lib") {
		t.Errorf("Lib = %q, want under root", d.Lib)
	}
	if d.Source != filepath.Join(root, "src") {
		t.Errorf("Source = %q, want under root", d.Source)
	}
	for _, p := range d.All() {
		if !filepath.IsAbs(p) {
			t.Errorf("resolved path %q is not absolute", p)
		}
	}
}

func TestResolve_AbsoluteEntryKept(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()

	d, err := Resolve(config.Dirs{
		Root: root, Lib: "lib", Build: "build", Source: "src",
		Install: other, System: "system",
	})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if d.Install != other {
		t.Errorf("Install = %q, want %q", d.Install, other)
	}
}

func TestResolve_EmptyRootFails(t *testing.T) {
	_, err := Resolve(config.Dirs{Lib: "lib"})
	if !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidLayout", err)
	}
}

func TestResolve_UnresolvedVariableFails(t *testing.T) {
	_, err := Resolve(config.Dirs{
		Root: "/p", Lib: "$HOME/lib", Build: "build", Source: "src",
		Install: "install", System: "system",
	})
	if !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("Resolve() error = %v, want ErrInvalidLayout", err)
	}
}

func TestMaterialize_IdempotentAndReportsCreated(t *testing.T) {
	root := t.TempDir()
	d, err := Resolve(config.Dirs{
		Root: root, Lib: "lib", Build: "build", Source: "src",
		Install: "install", System: "system",
	})
	if err != nil {
		t.Fatal(err)
	}

	created, err := Materialize(d)
	if err != nil {
		t.Fatalf("Materialize() failed: %v", err)
	}
	// Root already exists (t.TempDir), the other five are new.
	if len(created) != 5 {
		t.Errorf("created %d directories, want 5: %v", len(created), created)
	}

	created, err = Materialize(d)
	if err != nil {
		t.Fatalf("second Materialize() failed: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("second Materialize() created %v, want nothing", created)
	}
}

func TestMaterialize_FileInTheWayFails(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "lib"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	d, err := Resolve(config.Dirs{
		Root: root, Lib: "lib", Build: "build", Source: "src",
		Install: "install", System: "system",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Materialize(d); err == nil {
		t.Fatal("Materialize() should fail when a file blocks a directory")
	}
}

func TestTeardown(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "project")
	d, err := Resolve(config.Dirs{
		Root: root, Lib: "lib", Build: "build", Source: "src",
		Install: "install", System: "system",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Materialize(d); err != nil {
		t.Fatal(err)
	}

	if err := Teardown(d); err != nil {
		t.Fatalf("Teardown() failed: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("project root should be removed")
	}
}
