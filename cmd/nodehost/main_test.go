package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GoCodeAlone/nodehost/capability"
)

const answerPlugin = `package plugin

import "context"

func Priority() int { return 3 }

func PerformAction(ctx context.Context) (interface{}, error) {
	return 42, nil
}
`

const abstractPlugin = `package plugin

func Name() string { return "abstract" }
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// captureOutput redirects the command output for the duration of a test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	oldOut, oldErr := stdout, stderr
	stdout, stderr = &buf, io.Discard
	t.Cleanup(func() { stdout, stderr = oldOut, oldErr })
	return &buf
}

func TestRunValidateValid(t *testing.T) {
	out := captureOutput(t)
	dir := t.TempDir()
	writeFile(t, dir, "answer.go", answerPlugin)

	if err := runValidate([]string{dir}); err != nil {
		t.Fatalf("expected valid plugins, got error: %v", err)
	}
	if !strings.Contains(out.String(), "ok    answer (priority 3)") {
		t.Errorf("expected answer to be listed, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "1 plugin(s) valid") {
		t.Errorf("expected summary line, got:\n%s", out.String())
	}
}

func TestRunValidateRejectsAbstractPlugin(t *testing.T) {
	out := captureOutput(t)
	dir := t.TempDir()
	writeFile(t, dir, "answer.go", answerPlugin)
	writeFile(t, dir, "abstract.go", abstractPlugin)

	err := runValidate([]string{dir})
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(err.Error(), "1 contract violation(s)") {
		t.Errorf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "FAIL") || !strings.Contains(out.String(), "PerformAction") {
		t.Errorf("expected violation details, got:\n%s", out.String())
	}
}

func TestRunValidateMissingCapabilities(t *testing.T) {
	captureOutput(t)
	capability.ResetMappings()
	defer capability.ResetMappings()

	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "plugins")
	if err := os.Mkdir(pluginDir, 0755); err != nil {
		t.Fatal(err)
	}
	cfgPath := writeFile(t, dir, "host.yaml", `
capabilities:
  nodeTypes:
    UpscaleModelLoader: [upscale]
`)
	graphPath := writeFile(t, dir, "graph.json", `{"nodes": [{"id": 1, "type": "UpscaleModelLoader"}], "links": []}`)

	if err := runValidate([]string{"-config", cfgPath, "-graph", graphPath, pluginDir}); err != nil {
		t.Fatalf("missing capabilities should only fail in strict mode: %v", err)
	}
	err := runValidate([]string{"-config", cfgPath, "-graph", graphPath, "-strict", pluginDir})
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected strict validation to fail, got %v", err)
	}
}

func TestRunValidateRequiresDirectory(t *testing.T) {
	captureOutput(t)
	if err := runValidate(nil); err == nil {
		t.Fatal("expected error without plugin directories")
	}
}

func TestRunListJSON(t *testing.T) {
	out := captureOutput(t)
	dir := t.TempDir()
	writeFile(t, dir, "answer.go", answerPlugin)

	if err := runList([]string{"-plugins", dir, "-format", "json"}); err != nil {
		t.Fatalf("list: %v", err)
	}
	var rows []listedProvider
	if err := json.Unmarshal(out.Bytes(), &rows); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out.String(), err)
	}
	if len(rows) != 1 || rows[0].Plugin != "answer" || !rows[0].Active || rows[0].Priority != 3 {
		t.Errorf("unexpected rows %+v", rows)
	}
}

func TestRunListTable(t *testing.T) {
	out := captureOutput(t)
	if err := runList(nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.HasPrefix(out.String(), "CAPABILITY") {
		t.Errorf("expected table header, got %q", out.String())
	}
	if err := runList([]string{"-format", "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRunInvoke(t *testing.T) {
	out := captureOutput(t)
	dir := t.TempDir()
	writeFile(t, dir, "answer.go", answerPlugin)

	if err := runInvoke([]string{"-plugins", dir}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out.String(), err)
	}
	if got["result"] != float64(42) || got["plugin"] != "answer" {
		t.Errorf("unexpected output %v", got)
	}
}

func TestRunInvokeWithoutProvider(t *testing.T) {
	captureOutput(t)
	err := runInvoke(nil)
	if !errors.Is(err, capability.ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestHostFlagsInvalidConfig(t *testing.T) {
	captureOutput(t)
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "bad.yaml", "log:\n  format: xml\n")
	if err := runList([]string{"-config", cfgPath}); err == nil {
		t.Fatal("expected invalid config error")
	}
	if err := runList([]string{"-log-level", "loud"}); err == nil {
		t.Fatal("expected invalid log level error")
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"validate", "list", "invoke", "serve"} {
		if _, ok := commands[name]; !ok {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestRunServeListenError(t *testing.T) {
	captureOutput(t)
	err := runServe([]string{"-addr", "127.0.0.1:-1"})
	if err == nil || !strings.Contains(err.Error(), "server error") {
		t.Fatalf("expected listen error, got %v", err)
	}
}
