// Package graph models the workflow graph the host exposes to plugins: the
// nodes on the canvas and the links between their slots. The model is
// read-only; executing a graph is the host application's business.
package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNodeNotFound is returned when a link references a missing node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateID is returned when two nodes or two links share an id.
	ErrDuplicateID = errors.New("duplicate id")
)

// Slot is a node input or output.
type Slot struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// Link is the id of the link feeding an input slot, if connected.
	Link *int `json:"link,omitempty"`
	// Links are the ids of links leaving an output slot.
	Links []int `json:"links,omitempty"`
}

// Node is a single node on the canvas.
type Node struct {
	ID            int            `json:"id"`
	Type          string         `json:"type"`
	Title         string         `json:"title,omitempty"`
	Mode          int            `json:"mode,omitempty"`
	Inputs        []Slot         `json:"inputs,omitempty"`
	Outputs       []Slot         `json:"outputs,omitempty"`
	WidgetsValues any            `json:"widgets_values,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
}

// Graph is an immutable snapshot of a workflow graph.
type Graph struct {
	nodes     []Node
	links     []Link
	nodeIndex map[int]int
	linkIndex map[int]int
}

type document struct {
	LastNodeID int    `json:"last_node_id,omitempty"`
	LastLinkID int    `json:"last_link_id,omitempty"`
	Nodes      []Node `json:"nodes"`
	Links      []Link `json:"links"`
}

// New builds a graph from nodes and links. Node ids and link ids must be
// unique and every link must connect existing nodes.
func New(nodes []Node, links []Link) (*Graph, error) {
	g := &Graph{
		nodes:     make([]Node, len(nodes)),
		links:     make([]Link, len(links)),
		nodeIndex: make(map[int]int, len(nodes)),
		linkIndex: make(map[int]int, len(links)),
	}
	copy(g.nodes, nodes)
	copy(g.links, links)
	sort.SliceStable(g.nodes, func(i, j int) bool { return g.nodes[i].ID < g.nodes[j].ID })
	sort.SliceStable(g.links, func(i, j int) bool { return g.links[i].ID < g.links[j].ID })

	for i, n := range g.nodes {
		if _, dup := g.nodeIndex[n.ID]; dup {
			return nil, fmt.Errorf("graph: node %d: %w", n.ID, ErrDuplicateID)
		}
		g.nodeIndex[n.ID] = i
	}
	for i, l := range g.links {
		if _, dup := g.linkIndex[l.ID]; dup {
			return nil, fmt.Errorf("graph: link %d: %w", l.ID, ErrDuplicateID)
		}
		if _, ok := g.nodeIndex[l.OriginID]; !ok {
			return nil, fmt.Errorf("graph: link %d origin %d: %w", l.ID, l.OriginID, ErrNodeNotFound)
		}
		if _, ok := g.nodeIndex[l.TargetID]; !ok {
			return nil, fmt.Errorf("graph: link %d target %d: %w", l.ID, l.TargetID, ErrNodeNotFound)
		}
		g.linkIndex[l.ID] = i
	}
	return g, nil
}

// Empty returns a graph with no nodes.
func Empty() *Graph {
	g, _ := New(nil, nil)
	return g
}

type rawDocument struct {
	Nodes []Node          `json:"nodes"`
	Links json.RawMessage `json:"links"`
}

// Parse decodes a workflow document. "links" may be an array or an object
// keyed by link id; null entries, left behind by deleted links, are skipped.
func Parse(data []byte) (*Graph, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("graph: decode: %w", err)
	}
	links, err := decodeLinks(doc.Links)
	if err != nil {
		return nil, err
	}
	return New(doc.Nodes, links)
}

func decodeLinks(raw json.RawMessage) ([]Link, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var entries []json.RawMessage
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("graph: decode links: %w", err)
		}
	case '{':
		var byID map[string]json.RawMessage
		if err := json.Unmarshal(raw, &byID); err != nil {
			return nil, fmt.Errorf("graph: decode links: %w", err)
		}
		for _, e := range byID {
			entries = append(entries, e)
		}
	default:
		return nil, fmt.Errorf("graph: links must be an array or an object")
	}

	links := make([]Link, 0, len(entries))
	for i, e := range entries {
		if bytes.Equal(bytes.TrimSpace(e), []byte("null")) {
			continue
		}
		var l Link
		if err := json.Unmarshal(e, &l); err != nil {
			return nil, fmt.Errorf("graph: link entry %d: %w", i, err)
		}
		links = append(links, l)
	}
	return links, nil
}

// MarshalJSON encodes the graph in the same document format Parse accepts.
func (g *Graph) MarshalJSON() ([]byte, error) {
	doc := document{Nodes: g.nodes, Links: g.links}
	if doc.Nodes == nil {
		doc.Nodes = []Node{}
	}
	if doc.Links == nil {
		doc.Links = []Link{}
	}
	for _, n := range g.nodes {
		doc.LastNodeID = max(doc.LastNodeID, n.ID)
	}
	for _, l := range g.links {
		doc.LastLinkID = max(doc.LastLinkID, l.ID)
	}
	return json.Marshal(doc)
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns the nodes ordered by id.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node looks up a node by id.
func (g *Graph) Node(id int) (Node, bool) {
	i, ok := g.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Links returns the links ordered by id.
func (g *Graph) Links() []Link {
	out := make([]Link, len(g.links))
	copy(out, g.links)
	return out
}

// Link looks up a link by id.
func (g *Graph) Link(id int) (Link, bool) {
	i, ok := g.linkIndex[id]
	if !ok {
		return Link{}, false
	}
	return g.links[i], true
}

// NodesOfType returns the nodes whose Type equals nodeType.
func (g *Graph) NodesOfType(nodeType string) []Node {
	var out []Node
	for _, n := range g.nodes {
		if n.Type == nodeType {
			out = append(out, n)
		}
	}
	return out
}

// NodeTypes returns the distinct node types in the graph, sorted.
func (g *Graph) NodeTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for _, n := range g.nodes {
		if !seen[n.Type] {
			seen[n.Type] = true
			types = append(types, n.Type)
		}
	}
	sort.Strings(types)
	return types
}
