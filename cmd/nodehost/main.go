package main

import (
	"fmt"
	"os"
)

var version = "dev"

var commands = map[string]func([]string) error{
	"validate": runValidate,
	"list":     runList,
	"invoke":   runInvoke,
	"serve":    runServe,
}

func usage() {
	fmt.Fprintf(os.Stderr, `nodehost - capability plugin host (version %s)

Usage:
  nodehost <command> [options]

Commands:
  validate   Load plugin directories and report contract violations and missing capabilities
  list       List capabilities and the plugins providing them
  invoke     Invoke a capability once and print its result
  serve      Serve the host API over HTTP, optionally hot reloading plugins

Run 'nodehost <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd) //nolint:gosec // G705: CLI error output
		usage()
		os.Exit(1)
	}

	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err) //nolint:gosec // G705: CLI error output
		os.Exit(1)
	}
}
