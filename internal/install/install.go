// pattern: Imperative Shell

package install

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"tangld/internal/logging"
)

// ErrConflict reports a target occupied by something the strategy will
// not overwrite (a regular file where a symlink should go).
var ErrConflict = errors.New("install conflict")

// ErrUnsupported reports a strategy whose external collaborator is
// unavailable (the stow binary is not installed).
var ErrUnsupported = errors.New("install type unsupported")

// Type selects how a built artifact is placed at its live location.
// Chosen once from configuration, not re-dispatched per call.
type Type int

const (
	Link Type = iota // symlink into place
	Direct           // move into place
	Stage            // copy into the staging directory only
	Stow             // delegate to the external stow linker
)

// ParseType parses the configured install type name.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "link":
		return Link, nil
	case "direct":
		return Direct, nil
	case "stage":
		return Stage, nil
	case "stow":
		return Stow, nil
	default:
		return 0, fmt.Errorf("unknown install type %q", s)
	}
}

func (t Type) String() string {
	switch t {
	case Link:
		return "link"
	case Direct:
		return "direct"
	case Stage:
		return "stage"
	case Stow:
		return "stow"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Options carries the directories and collaborators shared by all variants.
type Options struct {
	BuildDir    string
	InstallDir  string
	StageDir    string // defaults to <BuildDir>/stage
	StowCommand string // defaults to "stow"
	Logger      *logging.ScopedLogger
}

// Strategy places one built artifact at its installed location.
// Each artifact is consumed exactly once.
type Strategy interface {
	// Place installs the artifact and returns the installed path.
	Place(artifactPath string) (string, error)
	// Type identifies the variant.
	Type() Type
}

// New selects the strategy variant for the given type.
func New(t Type, opts Options) Strategy {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.StageDir == "" {
		opts.StageDir = filepath.Join(opts.BuildDir, "stage")
	}
	if opts.StowCommand == "" {
		opts.StowCommand = "stow"
	}
	switch t {
	case Direct:
		return &directStrategy{opts}
	case Stage:
		return &stageStrategy{opts}
	case Stow:
		return &stowStrategy{opts}
	default:
		return &linkStrategy{opts}
	}
}

// TargetPath maps a built artifact to its installed location: the path
// relative to the build directory, re-rooted under the install directory.
// Shared by every variant and by the scheduler's target selection.
func TargetPath(artifactPath, buildDir, installDir string) (string, error) {
	rel, err := filepath.Rel(buildDir, artifactPath)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact %s is outside the build directory", artifactPath)
	}
	return filepath.Join(installDir, rel), nil
}

type linkStrategy struct{ opts Options }

func (s *linkStrategy) Type() Type { return Link }

// Place creates a symlink at the target pointing at the built artifact.
// An existing symlink is left untouched so reruns are idempotent; an
// existing regular file is a conflict, never overwritten.
func (s *linkStrategy) Place(artifactPath string) (string, error) {
	target, err := TargetPath(artifactPath, s.opts.BuildDir, s.opts.InstallDir)
	if err != nil {
		return "", err
	}

	info, err := os.Lstat(target)
	if err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			s.opts.Logger.Debug("symlink already present", "target", target)
			return target, nil
		}
		return "", fmt.Errorf("%w: %s exists and is not a symlink", ErrConflict, target)
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}
	if err := os.Symlink(artifactPath, target); err != nil {
		return "", err
	}
	s.opts.Logger.Info("linked", "artifact", artifactPath, "target", target)
	return target, nil
}

type directStrategy struct{ opts Options }

func (s *directStrategy) Type() Type { return Direct }

// Place moves the artifact into place, creating missing parents first.
func (s *directStrategy) Place(artifactPath string) (string, error) {
	target, err := TargetPath(artifactPath, s.opts.BuildDir, s.opts.InstallDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("creating parent of %s: %w", target, err)
	}
	if err := os.Rename(artifactPath, target); err != nil {
		// Rename fails across filesystems; fall back to copy + remove.
		if copyErr := copyFile(artifactPath, target); copyErr != nil {
			return "", copyErr
		}
		if err := os.Remove(artifactPath); err != nil {
			return "", err
		}
	}
	s.opts.Logger.Info("moved", "artifact", artifactPath, "target", target)
	return target, nil
}

type stageStrategy struct{ opts Options }

func (s *stageStrategy) Type() Type { return Stage }

// Place copies the artifact into the staging directory without touching
// the live installed path. Used for dry-run / review workflows.
func (s *stageStrategy) Place(artifactPath string) (string, error) {
	staged, err := TargetPath(artifactPath, s.opts.BuildDir, s.opts.StageDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(staged), 0755); err != nil {
		return "", err
	}
	if err := copyFile(artifactPath, staged); err != nil {
		return "", err
	}
	s.opts.Logger.Info("staged", "artifact", artifactPath, "target", staged)
	return staged, nil
}

type stowStrategy struct{ opts Options }

func (s *stowStrategy) Type() Type { return Stow }

// Place delegates to the external stow linker, treating the top-level
// directory of the artifact (relative to the build dir) as the stow
// package. Fails with ErrUnsupported when the binary is missing rather
// than silently doing nothing.
func (s *stowStrategy) Place(artifactPath string) (string, error) {
	bin, err := exec.LookPath(s.opts.StowCommand)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found", ErrUnsupported, s.opts.StowCommand)
	}

	target, err := TargetPath(artifactPath, s.opts.BuildDir, s.opts.InstallDir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.opts.BuildDir, artifactPath)
	if err != nil {
		return "", err
	}
	pkg := rel
	if i := strings.IndexRune(rel, filepath.Separator); i >= 0 {
		pkg = rel[:i]
	}

	cmd := exec.Command(bin, "-d", s.opts.BuildDir, "-t", s.opts.InstallDir, pkg)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("stow %s failed: %s", pkg, strings.TrimSpace(string(out)))
	}
	s.opts.Logger.Info("stowed", "package", pkg, "target", target)
	return target, nil
}

// copyFile copies src to dst preserving the source's permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
