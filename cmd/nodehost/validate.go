package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/GoCodeAlone/nodehost/capability"
)

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var hf hostFlags
	hf.register(fs)
	graphPath := fs.String("graph", "", "Workflow graph JSON to check for missing capabilities")
	strict := fs.Bool("strict", false, "Fail when the graph needs capabilities no plugin provides")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: nodehost validate [options] [plugin-dir...]\n\nLoad plugin directories and report contract violations.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	hf.pluginDirs = append(hf.pluginDirs, fs.Args()...)

	cfg, err := hf.load()
	if err != nil {
		return err
	}
	if len(cfg.Plugins.Dirs) == 0 {
		fs.Usage()
		return fmt.Errorf("at least one plugin directory is required")
	}

	app, loader, loadErr := buildApp(cfg)
	if app == nil {
		return loadErr
	}
	if err := loadGraph(app, *graphPath); err != nil {
		return err
	}

	for _, info := range loader.List() {
		fmt.Fprintf(stdout, "ok    %s (priority %d) %s\n", info.ID, info.Priority, info.Path)
	}
	violations := 0
	for _, e := range unjoin(loadErr) {
		if errors.Is(e, capability.ErrAbstractContractViolation) {
			violations++
		}
		fmt.Fprintf(stdout, "FAIL  %v\n", e)
	}
	missing := app.MissingCapabilities()
	for _, name := range missing {
		fmt.Fprintf(stdout, "missing capability %q required by the graph\n", name)
	}

	if loadErr != nil {
		return fmt.Errorf("validation failed: %d plugin(s) rejected, %d contract violation(s)", len(unjoin(loadErr)), violations)
	}
	if *strict && len(missing) > 0 {
		return fmt.Errorf("validation failed: %d capability(ies) missing", len(missing))
	}
	fmt.Fprintf(stdout, "%d plugin(s) valid\n", len(loader.List()))
	return nil
}

// unjoin flattens errors.Join trees into their leaves.
func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return []error{err}
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, unjoin(e)...)
	}
	return out
}
