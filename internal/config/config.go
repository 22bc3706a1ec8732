// pattern: Functional Core

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the per-project configuration file, looked up in the project root.
const FileName = "tangld.yml"

// Dirs names the six logical project directories. Entries other than Root
// may be relative, in which case they resolve against Root.
type Dirs struct {
	Root    string `yaml:"root"`
	Lib     string `yaml:"lib"`
	Build   string `yaml:"build"`
	Source  string `yaml:"source"`
	Install string `yaml:"install"`
	System  string `yaml:"system"`
}

// Config is the resolved configuration value consumed by the pipeline.
// It is loaded once per invocation and never mutated afterwards.
type Config struct {
	Dirs          Dirs   `yaml:"dirs"`
	UseCache      bool   `yaml:"use_cache"`
	LazyBuild     bool   `yaml:"lazy_build"`
	InstallType   string `yaml:"install_type"`
	TangleCommand string `yaml:"tangle_command"`
	StowCommand   string `yaml:"stow_command"`
	LogLevel      string `yaml:"log_level"`
	Verbose       bool   `yaml:"verbose"`
}

// DefaultConfig returns the configuration used when no file is present.
// Directory entries are relative and resolve against the project root.
func DefaultConfig(root string) Config {
	return Config{
		Dirs: Dirs{
			Root:    root,
			Lib:     "lib",
			Build:   "build",
			Source:  "src",
			Install: "install",
			System:  "system",
		},
		UseCache:    true,
		LazyBuild:   true,
		InstallType: "link",
		StowCommand: "stow",
		LogLevel:    "info",
	}
}

// Load reads the project configuration, layering the machine-wide
// defaults file (when present) under root/tangld.yml. Missing files
// yield the defaults; a malformed file is an error.
func Load(root string) (Config, error) {
	cfg := DefaultConfig(root)

	globalPath := GlobalConfigPath()
	if data, err := os.ReadFile(globalPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return DefaultConfig(root), fmt.Errorf("parsing %s: %w", globalPath, err)
		}
		// The global file carries preferences, never the project location.
		cfg.Dirs.Root = root
	}

	return loadInto(cfg, root, filepath.Join(root, FileName))
}

// LoadFrom reads configuration from an explicit path, resolving
// directory defaults against root. The global defaults file is ignored.
func LoadFrom(root, configPath string) (Config, error) {
	return loadInto(DefaultConfig(root), root, configPath)
}

func loadInto(cfg Config, root, configPath string) (Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(root), fmt.Errorf("parsing %s: %w", configPath, err)
	}

	if cfg.Dirs.Root == "" {
		cfg.Dirs.Root = root
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// Validate rejects configurations the pipeline cannot act on.
func (c Config) Validate() error {
	switch c.InstallType {
	case "link", "direct", "stage", "stow":
	default:
		return fmt.Errorf("invalid install_type %q: must be link, direct, stage or stow", c.InstallType)
	}
	if c.Dirs.Root == "" {
		return fmt.Errorf("dirs.root must not be empty")
	}
	return nil
}

// Save writes the configuration to root/tangld.yml. Used by init.
func (c Config) Save(root string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, FileName), data, 0644)
}

// DataDir returns the per-project state directory holding the ledger,
// the fragment cache, the lock file and logs.
func DataDir(root string) string {
	return filepath.Join(root, ".tangld")
}

// GlobalConfigPath returns the location of the machine-wide defaults file.
func GlobalConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tangld", "config.yaml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "tangld", "config.yaml")
	}

	return filepath.Join(home, ".config", "tangld", "config.yaml")
}
