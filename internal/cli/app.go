// pattern: Functional Core
package cli

import (
	"fmt"
	"io"
	"slices"
)

// Command represents a single CLI command with its metadata and handler.
type Command struct {
	Name    string
	Summary string
	Usage   string
	Run     func(args []string) error
}

// App represents the top-level CLI application.
type App struct {
	commands map[string]*Command
	order    []string
	version  string
}

// NewApp creates a new CLI application with the given version.
func NewApp(version string) *App {
	return &App{
		commands: make(map[string]*Command),
		version:  version,
	}
}

// AddCommand registers a command, preserving registration order for help.
func (a *App) AddCommand(cmd *Command) {
	if _, exists := a.commands[cmd.Name]; !exists {
		a.order = append(a.order, cmd.Name)
	}
	a.commands[cmd.Name] = cmd
}

// Execute dispatches the CLI arguments to the appropriate command.
// An unknown or missing command is an error carrying the help text.
func (a *App) Execute(args []string) error {
	if len(args) == 0 {
		return &UsageError{app: a}
	}

	name := args[0]
	cmd, ok := a.commands[name]
	if !ok {
		return &UsageError{app: a, unknown: name}
	}

	for _, arg := range args[1:] {
		if arg == "--help" || arg == "-h" {
			fmt.Println(cmd.Usage)
			return nil
		}
	}

	return cmd.Run(args[1:])
}

// PrintHelp prints the top-level help text.
func (a *App) PrintHelp(w io.Writer) {
	fmt.Fprintf(w, "Usage: tangld [options] <command>\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, name := range a.Commands() {
		cmd := a.commands[name]
		fmt.Fprintf(w, "  %-10s %s\n", cmd.Name, cmd.Summary)
	}
	fmt.Fprintf(w, "\nUse \"tangld <command> --help\" for command details.\n")
}

// Commands returns the registered command names in registration order.
func (a *App) Commands() []string {
	return slices.Clone(a.order)
}

// UsageError reports a missing or unknown command.
type UsageError struct {
	app     *App
	unknown string
}

func (e *UsageError) Error() string {
	if e.unknown != "" {
		return fmt.Sprintf("unknown command %q", e.unknown)
	}
	return "no command given"
}

// PrintHelp writes the full usage text for the error's app.
func (e *UsageError) PrintHelp(w io.Writer) {
	e.app.PrintHelp(w)
}
