package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"alice", "alice", true},
		{"  @Alice.Smith_ ", "alice.smith_", true},
		{"", "", false},
		{"@", "", false},
		{"bad name", "", false},
		{"semi;colon", "", false},
		{"abcdefghijklmnopqrstuvwxyz0123", "abcdefghijklmnopqrstuvwxyz0123", true},
		{"abcdefghijklmnopqrstuvwxyz01234", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizeUsername(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFrontierBreadthFirst(t *testing.T) {
	f := NewFrontier(2, 0)
	assert.Equal(t, 2, f.EnqueueSeeds([]string{"@Alice", "alice", "", "not valid", "zed"}))

	alice, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, storage.ProfileRef{Username: "alice"}, alice)
	assert.True(t, alice.IsSeed())

	assert.Equal(t, 2, f.OfferFollowers(alice, []string{"bob", "Carol", "bob", "alice", "zed", "bad!"}))
	f.MarkVisited("alice", storage.OutcomeAccepted, "accepted")

	var order []storage.ProfileRef
	for {
		ref, ok := f.Next()
		if !ok {
			break
		}
		order = append(order, ref)
		f.MarkVisited(ref.Username, storage.OutcomeRejected, "")
	}
	assert.Equal(t, []storage.ProfileRef{
		{Username: "zed"},
		{Username: "bob", SourceProfile: "alice", Depth: 1},
		{Username: "carol", SourceProfile: "alice", Depth: 1},
	}, order)
	assert.Equal(t, 4, f.VisitedCount())
}

func TestFrontierDepthLimit(t *testing.T) {
	f := NewFrontier(1, 0)
	parent := storage.ProfileRef{Username: "carol", SourceProfile: "alice", Depth: 1}
	assert.Zero(t, f.OfferFollowers(parent, []string{"dave", "erin"}))
	assert.Zero(t, f.Len())

	seed := storage.ProfileRef{Username: "alice"}
	assert.Equal(t, 1, f.OfferFollowers(seed, []string{"dave"}))
	ref, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, 1, ref.Depth)
}

func TestFrontierSkipsKnownUsernames(t *testing.T) {
	f := NewFrontier(3, 0)
	f.EnqueueSeeds([]string{"alice", "bob"})

	alice, _ := f.Next()
	f.MarkVisited("alice", storage.OutcomeAccepted, "")
	bob, _ := f.Next()
	assert.Equal(t, 1, f.InFlight())

	// alice visited, bob in flight, carol offered twice
	added := f.OfferFollowers(alice, []string{"alice", "bob", "carol", "carol"})
	assert.Equal(t, 1, added)
	assert.Zero(t, f.OfferFollowers(bob, []string{"carol"}), "carol is already queued")
	assert.Zero(t, f.OfferFollowers(bob, []string{"", "bad name", "@"}), "malformed names are skipped")

	f.MarkVisited("bob", storage.OutcomeRejected, "")
	assert.True(t, f.IsVisited("bob"))
	assert.Zero(t, f.InFlight())
}

func TestFrontierBudget(t *testing.T) {
	f := NewFrontier(1, 2)
	f.EnqueueSeeds([]string{"a1", "a2", "a3"})

	first, ok := f.Next()
	require.True(t, ok)
	second, ok := f.Next()
	require.True(t, ok)
	_, ok = f.Next()
	assert.False(t, ok, "budget is a hard stop")
	assert.True(t, f.BudgetSpent())
	assert.Equal(t, 1, f.Len())

	// A returned ref gives its budget back and is next in line
	f.Return(second)
	assert.False(t, f.BudgetSpent())
	again, ok := f.Next()
	require.True(t, ok)
	assert.Equal(t, second, again)

	f.MarkVisited(first.Username, storage.OutcomeAccepted, "")
	f.MarkVisited(again.Username, storage.OutcomeAccepted, "")
	_, ok = f.Next()
	assert.False(t, ok)
}

func TestFrontierSnapshotAndRestore(t *testing.T) {
	f := NewFrontier(2, 0)
	f.EnqueueSeeds([]string{"alice", "bob", "carol"})
	alice, _ := f.Next()
	f.MarkVisited(alice.Username, storage.OutcomeAccepted, "accepted")
	bob, _ := f.Next()

	queue, visited := f.Snapshot()
	assert.Equal(t, []storage.ProfileRef{bob, {Username: "carol"}}, queue, "in-flight refs lead the queue")
	require.Len(t, visited, 1)
	assert.Equal(t, "alice", visited[0].Username)
	assert.Equal(t, storage.OutcomeAccepted, visited[0].Outcome)

	// A queue entry for a visited username is dropped
	restored := NewFrontier(2, 2)
	restored.Restore(append(queue, storage.ProfileRef{Username: "alice"}), visited)
	assert.Equal(t, 2, restored.Len())
	assert.Equal(t, 1, restored.VisitedCount())

	ref, ok := restored.Next()
	require.True(t, ok)
	assert.Equal(t, "bob", ref.Username)
	_, ok = restored.Next()
	assert.False(t, ok, "visited profiles count against the budget")
	assert.Equal(t, 1, restored.Len())
}
