// pattern: Imperative Shell
package main

import (
	"errors"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"tangld/internal/cli"
)

var version = "dev"

func main() {
	// Stop parsing flags after the first non-flag arg (the subcommand),
	// so that --help after a subcommand is handled by the subcommand.
	flag.CommandLine.SetInterspersed(false)

	projectRoot := flag.StringP("project", "C", "", "project root (default: current directory)")
	verbose := flag.BoolP("verbose", "v", false, "log to stderr as well as the project log file")
	showVersion := flag.Bool("version", false, "print version and exit")

	opts := cli.Options{}

	// Override flag.Usage before Parse so --help shows the command list.
	flag.Usage = func() {
		app := cli.BuildApp(version, opts)
		app.PrintHelp(os.Stderr)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		return
	}

	opts = cli.Options{ProjectRoot: *projectRoot, Verbose: *verbose}
	app := cli.BuildApp(version, opts)

	if err := app.Execute(flag.Args()); err != nil {
		var usageErr *cli.UsageError
		if errors.As(err, &usageErr) {
			usageErr.PrintHelp(os.Stderr)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
