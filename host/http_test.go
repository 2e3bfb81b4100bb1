package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GoCodeAlone/nodehost/capability"
	"github.com/GoCodeAlone/nodehost/extension"
)

const workflowJSON = `{
  "last_node_id": 2,
  "last_link_id": 1,
  "nodes": [
    {"id": 1, "type": "CheckpointLoaderSimple", "outputs": [{"name": "MODEL", "type": "MODEL", "links": [1]}]},
    {"id": 2, "type": "KSampler", "inputs": [{"name": "model", "type": "MODEL", "link": 1}]}
  ],
  "links": [[1, 1, 0, 2, 0, "MODEL"]]
}`

func doRequest(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") &&
		strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON body %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestHTTPInvoke(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()

	rec, body := doRequest(t, h, http.MethodPost, "/api/capabilities/action/invoke", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without provider, got %d (%v)", rec.Code, body)
	}

	rec, _ = doRequest(t, h, http.MethodPost, "/api/capabilities/nope/invoke", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown capability, got %d", rec.Code)
	}

	_ = app.RegisterPlugin("answer", 0, answer{})
	rec, body = doRequest(t, h, http.MethodPost, "/api/capabilities/action/invoke", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["result"] != float64(42) || body["plugin"] != "answer" {
		t.Errorf("unexpected response %v", body)
	}

	rec, _ = doRequest(t, h, http.MethodGet, "/api/capabilities/action/invoke", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestHTTPInvokeFailure(t *testing.T) {
	app := newTestApp(t)
	_ = app.RegisterPlugin("failing", 0, capability.Func(func(context.Context) (any, error) {
		return nil, errors.New("out of memory")
	}))

	rec, body := doRequest(t, app.Handler(), http.MethodPost, "/api/capabilities/action/invoke", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "out of memory") {
		t.Errorf("expected error message in body, got %v", body)
	}
}

func TestHTTPListCapabilities(t *testing.T) {
	app := newTestApp(t)
	_ = app.RegisterPlugin("answer", 5, answer{})

	rec, _ := doRequest(t, app.Handler(), http.MethodGet, "/api/capabilities", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var views []capabilityView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].Name != capability.ActionCapability {
		t.Fatalf("expected the action capability, got %+v", views)
	}
	if len(views[0].Methods) != 1 || views[0].Methods[0].Name != "PerformAction" {
		t.Errorf("expected PerformAction method, got %+v", views[0].Methods)
	}
	if len(views[0].Providers) != 1 || views[0].Providers[0].Priority != 5 {
		t.Errorf("unexpected providers %+v", views[0].Providers)
	}
}

func TestHTTPGraph(t *testing.T) {
	capability.ResetMappings()
	defer capability.ResetMappings()
	capability.RegisterNodeTypeMapping("KSampler", capability.ActionCapability)

	app := newTestApp(t)
	h := app.Handler()

	rec, body := doRequest(t, h, http.MethodGet, "/api/graph", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if nodes, _ := body["nodes"].([]any); len(nodes) != 0 {
		t.Errorf("expected empty graph, got %v", body)
	}

	rec, body = doRequest(t, h, http.MethodPut, "/api/graph", workflowJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["nodes"] != float64(2) || body["links"] != float64(1) {
		t.Errorf("unexpected summary %v", body)
	}
	if missing, _ := body["missing"].([]any); len(missing) != 1 || missing[0] != "action" {
		t.Errorf("expected action to be missing, got %v", body["missing"])
	}

	rec, body = doRequest(t, h, http.MethodGet, "/api/graph", "")
	if nodes, _ := body["nodes"].([]any); rec.Code != http.StatusOK || len(nodes) != 2 {
		t.Errorf("expected stored graph with 2 nodes, got %d %v", rec.Code, body)
	}

	_ = app.RegisterPlugin("answer", 0, answer{})
	_, body = doRequest(t, h, http.MethodGet, "/api/graph/missing", "")
	if missing, _ := body["missing"].([]any); missing == nil || len(missing) != 0 {
		t.Errorf("expected empty missing list, got %v", body)
	}

	rec, _ = doRequest(t, h, http.MethodPut, "/api/graph", `{"nodes": [{"id": 1}, {"id": 1}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate node ids, got %d", rec.Code)
	}
	if app.Graph().Len() != 2 {
		t.Error("rejected graph must not replace the current one")
	}
}

func TestHTTPQuery(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	doRequest(t, h, http.MethodPut, "/api/graph", workflowJSON)

	rec, body := doRequest(t, h, http.MethodPost, "/api/graph/query", `{"query": ".nodes[].type"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	results, _ := body["results"].([]any)
	if len(results) != 2 || results[0] != "CheckpointLoaderSimple" || results[1] != "KSampler" {
		t.Errorf("unexpected results %v", results)
	}

	rec, _ = doRequest(t, h, http.MethodPost, "/api/graph/query", `{"query": ".nodes[] |"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid query, got %d", rec.Code)
	}

	rec, _ = doRequest(t, h, http.MethodPost, "/api/graph/query", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid body, got %d", rec.Code)
	}

	rec, _ = doRequest(t, h, http.MethodPost, "/api/graph/query", `{"query": "error(\"boom\")"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for runtime error, got %d", rec.Code)
	}
}

func TestHTTPTabsAndMetrics(t *testing.T) {
	app := newTestApp(t)
	h := app.Handler()
	_ = app.Extensions.RegisterSidebarTab(extension.SidebarTabConfig{
		ID: "queue", Icon: "pi pi-list", Title: "Queue", Type: "custom",
	})

	rec, _ := doRequest(t, h, http.MethodGet, "/api/extensions/tabs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var tabs []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &tabs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tabs) != 1 || tabs[0]["id"] != "queue" {
		t.Errorf("unexpected tabs %v", tabs)
	}

	_ = app.RegisterPlugin("answer", 0, answer{})
	_, _ = app.Invoke(context.Background(), capability.ActionCapability)

	rec, _ = doRequest(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `nodehost_capability_invocations_total{capability="action",plugin="answer",status="success"} 1`) {
		t.Errorf("metrics output missing invocation counter:\n%s", rec.Body.String())
	}
}

func TestHTTPInvokeRateLimit(t *testing.T) {
	app, err := New(WithInvokeRateLimit(2), WithTrustedProxyHeaders(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = app.RegisterPlugin("answer", 0, answer{})
	h := app.Handler()

	invoke := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/capabilities/action/invoke", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := invoke("198.51.100.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := invoke("198.51.100.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec := invoke("198.51.100.2"); rec.Code != http.StatusOK {
		t.Errorf("other clients must keep their own budget, got %d", rec.Code)
	}
}

func TestHTTPInvokeRateLimitIgnoresUntrustedProxyHeaders(t *testing.T) {
	app, err := New(WithInvokeRateLimit(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = app.RegisterPlugin("answer", 0, answer{})
	h := app.Handler()

	invoke := func(spoofed string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/capabilities/action/invoke", nil)
		req.Header.Set("X-Real-IP", spoofed)
		req.Header.Set("X-Forwarded-For", spoofed)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := invoke("198.51.100.1"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := invoke("198.51.100.2"); code != http.StatusTooManyRequests {
		t.Errorf("rotating proxy headers must not reset the budget, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")

	if got := clientIP(req, false); got != "203.0.113.7" {
		t.Errorf("untrusted: expected peer address, got %q", got)
	}
	if got := clientIP(req, true); got != "198.51.100.1" {
		t.Errorf("trusted: expected first forwarded address, got %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.9")
	if got := clientIP(req, true); got != "198.51.100.9" {
		t.Errorf("trusted: expected X-Real-IP, got %q", got)
	}
	req.Header.Del("X-Real-IP")
	req.Header.Set("X-Forwarded-For", " , 10.0.0.1")
	if got := clientIP(req, true); got != "203.0.113.7" {
		t.Errorf("empty forwarded entry should fall back to peer, got %q", got)
	}
}
