package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/GoCodeAlone/nodehost/capability"
)

func runInvoke(args []string) error {
	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	var hf hostFlags
	hf.register(fs)
	timeout := fs.Duration("timeout", 30*time.Second, "Maximum time to wait for the action")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: nodehost invoke [options] [capability]\n\nInvoke a capability (default %q) and print the result as JSON.\n\nOptions:\n", capability.ActionCapability)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := capability.ActionCapability
	if fs.NArg() > 0 {
		name = fs.Arg(0)
	}

	cfg, err := hf.load()
	if err != nil {
		return err
	}
	app, _, loadErr := buildApp(cfg)
	if app == nil {
		return loadErr
	}
	if loadErr != nil {
		app.Logger().Warn("some plugins failed to load", "error", loadErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	inv, err := app.Invoke(ctx, name)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]any{
		"capability": inv.Capability,
		"plugin":     inv.Plugin,
		"result":     inv.Result,
		"durationMs": inv.Duration.Milliseconds(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("result of %q is not JSON-encodable: %w", inv.Plugin, err)
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}
