// pattern: Imperative Shell

package tangle

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"tangld/internal/fragment"
	"tangld/internal/logging"
)

// Engine turns one literate source document plus a fragment library into
// one or more output files. The tangle algorithm itself lives outside
// this repository; the pipeline only depends on this contract and must
// tolerate the call being slow and fallible.
type Engine interface {
	// Tangle produces the outputs for sourcePath, rooted at targetPath,
	// and returns the paths it wrote.
	Tangle(ctx context.Context, sourcePath, targetPath string, lib fragment.Library) ([]string, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, sourcePath, targetPath string, lib fragment.Library) ([]string, error)

// Tangle implements Engine.
func (f EngineFunc) Tangle(ctx context.Context, sourcePath, targetPath string, lib fragment.Library) ([]string, error) {
	return f(ctx, sourcePath, targetPath, lib)
}

// ExecEngine invokes an external tangle command. The command template may
// reference {source}, {target} and {library}; {library} is replaced with
// the path of a temp file holding the serialized fragment library. The
// command reports the files it produced as one path per stdout line; an
// empty report means the single file at {target}.
type ExecEngine struct {
	Command string
	logger  *logging.ScopedLogger
}

// NewExecEngine creates an engine around the configured tangle command.
func NewExecEngine(command string, logger *logging.ScopedLogger) *ExecEngine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ExecEngine{Command: command, logger: logger}
}

// Tangle implements Engine by shelling out to the configured command.
func (e *ExecEngine) Tangle(ctx context.Context, sourcePath, targetPath string, lib fragment.Library) ([]string, error) {
	if e.Command == "" {
		return nil, fmt.Errorf("no tangle command configured")
	}

	libFile, cleanup, err := writeLibraryFile(lib)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	fields := strings.Fields(e.Command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("no tangle command configured")
	}
	args := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, "{source}", sourcePath)
		f = strings.ReplaceAll(f, "{target}", targetPath)
		f = strings.ReplaceAll(f, "{library}", libFile)
		args = append(args, f)
	}

	e.logger.Debug("invoking tangle command", "source", sourcePath, "target", targetPath)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("tangle of %s failed: %s", sourcePath, msg)
	}

	var outputs []string
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			outputs = append(outputs, line)
		}
	}
	if len(outputs) == 0 {
		outputs = []string{targetPath}
	}

	e.logger.Debug("tangle command finished", "source", sourcePath, "outputs", len(outputs))
	return outputs, nil
}

// writeLibraryFile serializes the library to a temp file for the child
// process. The returned cleanup removes it.
func writeLibraryFile(lib fragment.Library) (string, func(), error) {
	blob, err := fragment.Serialize(lib)
	if err != nil {
		return "", nil, err
	}
	tmp, err := os.CreateTemp("", "tangld-lib-*.yaml")
	if err != nil {
		return "", nil, err
	}
	name := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return "", nil, err
	}
	return name, func() { _ = os.Remove(name) }, nil
}
