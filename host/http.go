package host

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GoCodeAlone/nodehost/capability"
	"github.com/GoCodeAlone/nodehost/graph"
)

const maxGraphBody = 32 << 20

type providerView struct {
	Plugin   string `json:"plugin"`
	Priority int    `json:"priority"`
	Type     string `json:"type"`
}

type capabilityView struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description,omitempty"`
	Methods     []capability.MethodSignature `json:"methods"`
	Providers   []providerView               `json:"providers"`
}

type queryRequest struct {
	Query string `json:"query"`
}

// Handler returns the host's HTTP API, instrumented with OpenTelemetry.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return otelhttp.NewHandler(mux, "nodehost")
}

// RegisterRoutes adds the host API routes to mux.
func (a *App) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/capabilities", a.handleListCapabilities)
	mux.HandleFunc("POST /api/capabilities/{name}/invoke", a.invokeLimits.limit(a.handleInvoke, a.trustProxy))
	mux.HandleFunc("GET /api/extensions/tabs", a.handleListTabs)
	mux.HandleFunc("GET /api/graph", a.handleGetGraph)
	mux.HandleFunc("PUT /api/graph", a.handlePutGraph)
	mux.HandleFunc("GET /api/graph/missing", a.handleMissing)
	mux.HandleFunc("POST /api/graph/query", a.handleQuery)
	mux.HandleFunc("GET /ws", a.handleEvents)
	if a.metrics != nil {
		mux.Handle("GET "+a.metrics.Path(), a.metrics.Handler())
	}
}

func (a *App) handleListCapabilities(w http.ResponseWriter, _ *http.Request) {
	names := a.Capabilities.ListCapabilities()
	views := make([]capabilityView, 0, len(names))
	for _, name := range names {
		c, _ := a.Capabilities.ContractFor(name)
		view := capabilityView{
			Name:        name,
			Description: c.Description,
			Methods:     c.RequiredMethods,
			Providers:   []providerView{},
		}
		for _, p := range a.Capabilities.ListProviders(name) {
			view.Providers = append(view.Providers, providerView{
				Plugin:   p.PluginName,
				Priority: p.Priority,
				Type:     p.ImplType.String(),
			})
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *App) handleInvoke(w http.ResponseWriter, r *http.Request) {
	inv, err := a.Invoke(r.Context(), r.PathValue("name"))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, capability.ErrUnknownCapability):
			status = http.StatusNotFound
		case errors.Is(err, capability.ErrNoProvider):
			status = http.StatusServiceUnavailable
		case errors.Is(err, ErrNotInvocable):
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capability": inv.Capability,
		"plugin":     inv.Plugin,
		"result":     inv.Result,
		"durationMs": inv.Duration.Milliseconds(),
	})
}

func (a *App) handleListTabs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Extensions.Tabs())
}

func (a *App) handleGetGraph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Graph())
}

func (a *App) handlePutGraph(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxGraphBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	g, err := graph.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.SetGraph(r.Context(), g)
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":   g.Len(),
		"links":   len(g.Links()),
		"missing": nonNil(a.MissingCapabilities()),
	})
}

func (a *App) handleMissing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"missing": nonNil(a.MissingCapabilities())})
}

func (a *App) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q, err := graph.CompileQuery(req.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	results, err := q.Run(r.Context(), a.Graph())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": nonNil(results)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
