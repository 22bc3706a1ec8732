// pattern: Imperative Shell
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"tangld/internal/config"
	"tangld/internal/logging"
	"tangld/internal/pipeline"
	"tangld/internal/watch"
)

// Options are the global flags shared by every command.
type Options struct {
	ProjectRoot string
	Verbose     bool
}

// BuildApp creates and configures the CLI application with all commands.
func BuildApp(version string, opts Options) *App {
	app := NewApp(version)

	app.AddCommand(&Command{
		Name:    "init",
		Summary: "Create the project directory layout and a starter tangld.yml",
		Usage:   "Usage: tangld init",
		Run: func(args []string) error {
			p, logs, err := openProject(opts)
			if err != nil {
				return err
			}
			defer closeLogs(logs)
			return p.Init()
		},
	})

	app.AddCommand(&Command{
		Name:    "config",
		Summary: "Print the resolved configuration",
		Usage:   "Usage: tangld config",
		Run: func(args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})

	app.AddCommand(&Command{
		Name:    "build",
		Summary: "Tangle stale sources and install the produced artifacts",
		Usage:   "Usage: tangld build [--force]",
		Run: func(args []string) error {
			fs := flag.NewFlagSet("build", flag.ContinueOnError)
			force := fs.Bool("force", false, "tangle every source regardless of staleness")
			if err := fs.Parse(args); err != nil {
				return err
			}

			p, logs, err := openProject(opts)
			if err != nil {
				return err
			}
			defer closeLogs(logs)
			return p.Build(signalContext(), *force)
		},
	})

	app.AddCommand(&Command{
		Name:    "install",
		Summary: "Place every built artifact using the configured install type",
		Usage:   "Usage: tangld install",
		Run: func(args []string) error {
			p, logs, err := openProject(opts)
			if err != nil {
				return err
			}
			defer closeLogs(logs)
			return p.Install(signalContext())
		},
	})

	app.AddCommand(&Command{
		Name:    "clean",
		Summary: "Remove the fragment cache and the build ledger",
		Usage:   "Usage: tangld clean",
		Run: func(args []string) error {
			p, logs, err := openProject(opts)
			if err != nil {
				return err
			}
			defer closeLogs(logs)
			return p.Clean()
		},
	})

	app.AddCommand(&Command{
		Name:    "check",
		Summary: "List sources a lazy build would tangle, without building",
		Usage:   "Usage: tangld check",
		Run: func(args []string) error {
			p, logs, err := openProject(opts)
			if err != nil {
				return err
			}
			defer closeLogs(logs)

			stale, err := p.Check()
			if err != nil {
				return err
			}
			for _, src := range stale {
				fmt.Println(src)
			}
			return nil
		},
	})

	app.AddCommand(&Command{
		Name:    "watch",
		Summary: "Rebuild automatically when the source tree changes",
		Usage:   "Usage: tangld watch",
		Run: func(args []string) error {
			p, logs, err := openProject(opts)
			if err != nil {
				return err
			}
			defer closeLogs(logs)

			ctx := signalContext()

			// Catch up before watching.
			if err := p.Build(ctx, false); err != nil {
				fmt.Fprintf(os.Stderr, "warning: initial build: %v\n", err)
			}

			var logger *logging.ScopedLogger
			if logs != nil {
				logger = logs.For("watch")
			}
			w, err := watch.New(p.Dirs().Source, func() {
				if err := p.Build(ctx, false); err != nil {
					fmt.Fprintf(os.Stderr, "warning: rebuild: %v\n", err)
				}
			}, logger)
			if err != nil {
				return err
			}

			if err := w.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	})

	app.AddCommand(&Command{
		Name:    "version",
		Summary: "Print version and exit",
		Usage:   "Usage: tangld version",
		Run: func(args []string) error {
			fmt.Println(version)
			return nil
		},
	})

	return app
}

// loadConfig resolves the project root and reads its configuration.
func loadConfig(opts Options) (config.Config, error) {
	root := opts.ProjectRoot
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(abs)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

// openProject loads configuration, sets up logging and constructs the
// pipeline. The returned manager may be nil when logging setup fails
// softly; callers close it via closeLogs.
func openProject(opts Options) (*pipeline.Pipeline, *logging.Manager, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}

	logs, err := logging.NewManager(logging.Config{
		FilePath: filepath.Join(config.DataDir(cfg.Dirs.Root), "tangld.log"),
		Level:    cfg.LogLevel,
		Console:  cfg.Verbose,
	})
	if err != nil {
		return nil, nil, err
	}

	p, err := pipeline.New(cfg, logs, nil, nil)
	if err != nil {
		_ = logs.Close()
		return nil, nil, err
	}
	return p, logs, nil
}

func closeLogs(logs *logging.Manager) {
	if logs != nil {
		_ = logs.Close()
	}
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}
