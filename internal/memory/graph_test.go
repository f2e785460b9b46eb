package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

func TestLineageGraphRecord(t *testing.T) {
	g := NewLineageGraph()
	g.Record("alice", "carol")
	g.Record("alice", "carol")
	g.Record("bob", "carol")
	g.Record("alice", "dave")
	g.Record("alice", "alice")
	g.Record("", "erin")

	assert.Equal(t, 2, g.InDegree("carol"))
	assert.Equal(t, 1, g.InDegree("dave"))
	assert.Equal(t, 0, g.InDegree("erin"))

	nodes, edges := g.GetStats()
	assert.Equal(t, 4, nodes)
	assert.Equal(t, 3, edges)

	assert.Equal(t, []storage.LineageEdge{
		{Parent: "alice", Child: "carol", Weight: 2},
		{Parent: "alice", Child: "dave", Weight: 1},
		{Parent: "bob", Child: "carol", Weight: 1},
	}, g.Edges())
}

func TestLineageGraphLoadRoundTrip(t *testing.T) {
	g := NewLineageGraph()
	g.Record("alice", "carol")
	g.Record("bob", "carol")
	g.Record("bob", "carol")

	restored := NewLineageGraph()
	restored.Load(g.Edges())
	assert.Equal(t, g.Edges(), restored.Edges())
	assert.Equal(t, 2, restored.InDegree("carol"))
}

func TestTopSources(t *testing.T) {
	g := NewLineageGraph()
	g.Record("alice", "carol")
	g.Record("alice", "dave")
	g.Record("bob", "carol")
	g.Record("zed", "erin")
	g.Record("zed", "fay")

	assert.Equal(t, []SourceCount{{"alice", 2}, {"zed", 2}}, g.TopSources(2, nil))
	assert.Equal(t, []SourceCount{{"alice", 1}, {"bob", 1}}, g.TopSources(0, map[string]bool{"carol": true}))
}
