package memory

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

type edgeKey struct {
	parent, child string
}

// LineageGraph records which profile's follower list surfaced which
// candidate. Weights count repeated sightings of the same pair.
type LineageGraph struct {
	edges    map[edgeKey]int
	inDegree map[string]int
	mu       sync.RWMutex
}

// NewLineageGraph creates an empty lineage graph
func NewLineageGraph() *LineageGraph {
	return &LineageGraph{
		edges:    make(map[edgeKey]int),
		inDegree: make(map[string]int),
	}
}

// Record adds one sighting of child in parent's follower list
func (g *LineageGraph) Record(parent, child string) {
	if parent == "" || child == "" || parent == child {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey{parent, child}
	if g.edges[key] == 0 {
		g.inDegree[child]++
	}
	g.edges[key]++
}

// InDegree returns how many distinct profiles referred username
func (g *LineageGraph) InDegree(username string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.inDegree[username]
}

// GetStats returns current graph statistics
func (g *LineageGraph) GetStats() (nodeCount, edgeCount int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make(map[string]struct{})
	for k := range g.edges {
		nodes[k.parent] = struct{}{}
		nodes[k.child] = struct{}{}
	}
	return len(nodes), len(g.edges)
}

// Edges returns every edge sorted by parent then child
func (g *LineageGraph) Edges() []storage.LineageEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	edges := make([]storage.LineageEdge, 0, len(g.edges))
	for k, w := range g.edges {
		edges = append(edges, storage.LineageEdge{Parent: k.parent, Child: k.child, Weight: w})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Parent != edges[j].Parent {
			return edges[i].Parent < edges[j].Parent
		}
		return edges[i].Child < edges[j].Child
	})
	return edges
}

// Load replaces the graph with edges from a checkpoint (for resume)
func (g *LineageGraph) Load(edges []storage.LineageEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges = make(map[edgeKey]int, len(edges))
	g.inDegree = make(map[string]int)
	for _, e := range edges {
		if e.Weight <= 0 {
			continue
		}
		key := edgeKey{e.Parent, e.Child}
		if g.edges[key] == 0 {
			g.inDegree[e.Child]++
		}
		g.edges[key] += e.Weight
	}

	logrus.Infof("Loaded %d lineage edges into memory", len(g.edges))
}

// SourceCount pairs a referring profile with how many candidates it surfaced
type SourceCount struct {
	Username string
	Children int
}

// TopSources returns the n parents with the most distinct children among
// the given set (all children when only is nil)
func (g *LineageGraph) TopSources(n int, only map[string]bool) []SourceCount {
	g.mu.RLock()
	defer g.mu.RUnlock()

	counts := make(map[string]int)
	for k := range g.edges {
		if only != nil && !only[k.child] {
			continue
		}
		counts[k.parent]++
	}

	sources := make([]SourceCount, 0, len(counts))
	for name, c := range counts {
		sources = append(sources, SourceCount{Username: name, Children: c})
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Children != sources[j].Children {
			return sources[i].Children > sources[j].Children
		}
		return sources[i].Username < sources[j].Username
	})
	if n > 0 && len(sources) > n {
		sources = sources[:n]
	}
	return sources
}
