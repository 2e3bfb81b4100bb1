package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"text/tabwriter"
)

type listedProvider struct {
	Capability string `json:"capability"`
	Plugin     string `json:"plugin"`
	Priority   int    `json:"priority"`
	Type       string `json:"type"`
	Active     bool   `json:"active"`
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var hf hostFlags
	hf.register(fs)
	format := fs.String("format", "table", "Output format: table or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: nodehost list [options]\n\nList capabilities and their providers.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := hf.load()
	if err != nil {
		return err
	}
	app, _, loadErr := buildApp(cfg)
	if app == nil {
		return loadErr
	}

	var rows []listedProvider
	for _, name := range app.Capabilities.ListCapabilities() {
		active, _ := app.Capabilities.Resolve(name)
		for _, p := range app.Capabilities.ListProviders(name) {
			rows = append(rows, listedProvider{
				Capability: name,
				Plugin:     p.PluginName,
				Priority:   p.Priority,
				Type:       p.ImplType.String(),
				Active:     active != nil && active.PluginName == p.PluginName,
			})
		}
	}

	switch *format {
	case "json":
		if rows == nil {
			rows = []listedProvider{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			return err
		}
	case "table":
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CAPABILITY\tPLUGIN\tPRIORITY\tACTIVE")
		for _, r := range rows {
			active := ""
			if r.Active {
				active = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Capability, r.Plugin, r.Priority, active)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", *format)
	}

	if loadErr != nil {
		fmt.Fprintf(stderr, "warning: some plugins failed to load:\n%v\n", loadErr)
	}
	return nil
}
