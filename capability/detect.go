package capability

import (
	"sort"
	"sync"

	"github.com/GoCodeAlone/nodehost/graph"
)

var (
	mappingMu sync.RWMutex

	// nodeTypeToCapabilities maps graph node types to the capabilities they need.
	// Populated by plugins and host config via RegisterNodeTypeMapping.
	nodeTypeToCapabilities = make(map[string][]string)
)

// RegisterNodeTypeMapping records that a node type requires certain capabilities.
func RegisterNodeTypeMapping(nodeType string, capabilities ...string) {
	mappingMu.Lock()
	defer mappingMu.Unlock()
	nodeTypeToCapabilities[nodeType] = append(nodeTypeToCapabilities[nodeType], capabilities...)
}

// ResetMappings clears all registered node type mappings. Intended for testing.
func ResetMappings() {
	mappingMu.Lock()
	defer mappingMu.Unlock()
	nodeTypeToCapabilities = make(map[string][]string)
}

// DetectRequired scans a graph and returns the deduplicated, sorted list of
// capabilities its node types need.
func DetectRequired(g *graph.Graph) []string {
	seen := make(map[string]bool)

	mappingMu.RLock()
	defer mappingMu.RUnlock()

	if g != nil {
		for _, nodeType := range g.NodeTypes() {
			for _, c := range nodeTypeToCapabilities[nodeType] {
				seen[c] = true
			}
		}
	}

	result := make([]string, 0, len(seen))
	for c := range seen {
		result = append(result, c)
	}
	sort.Strings(result)
	return result
}
