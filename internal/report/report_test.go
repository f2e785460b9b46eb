package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/hvt-hunter/internal/memory"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

var t0 = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func hvt(name, source string, followers int, at time.Time, metrics map[string]string) storage.HVTRecord {
	trail := storage.DecisionTrail{{Stage: "basic", Passed: true, Justification: "ok"}}
	if metrics != nil {
		trail = append(trail, storage.FilterVerdict{Stage: "gender", Passed: true, Justification: "ok", Metrics: metrics})
	}
	depth := 0
	if source != "" {
		depth = 1
	}
	return storage.HVTRecord{
		Ref: storage.ProfileRef{Username: name, SourceProfile: source, Depth: depth},
		Snapshot: storage.ProfileSnapshot{
			Username:           name,
			FollowerCount:      followers,
			FollowingCount:     100,
			PostCount:          40,
			Location:           "Austin, Texas",
			HasActiveStory:     true,
			ProfileURL:         "https://www.instagram.com/" + name + "/",
			RecentInteractions: []int{30},
		},
		Trail:         trail,
		Justification: trail.Justification(),
		DiscoveredAt:  at,
	}
}

func TestRecord(t *testing.T) {
	h := hvt("carol", "alice", 1000, t0, map[string]string{
		storage.MetricGender:         "female",
		storage.MetricLanguage:       "en",
		storage.MetricEngagementRate: "3.5000",
	})

	rec := Record(h)
	assert.Equal(t, storage.ResultRecord{
		Username:           "carol",
		FollowerCount:      1000,
		PostCount:          40,
		ProfileURL:         "https://www.instagram.com/carol/",
		HasActiveStory:     true,
		Location:           "Austin, Texas",
		EngagementRate:     3.5,
		EstimatedGender:    "female",
		BioLanguage:        "en",
		ReasonForSelection: "basic pass: ok; gender pass: ok",
		SourceHVT:          "alice",
		DiscoveryTimestamp: "2026-04-02T10:00:00Z",
	}, rec)

	// Without recorded metrics the rate is recomputed and text fields fall back
	bare := Record(hvt("bob", "", 1000, t0, nil))
	assert.InDelta(t, 3.0, bare.EngagementRate, 1e-9)
	assert.Equal(t, "unknown", bare.EstimatedGender)
	assert.Equal(t, "unknown", bare.BioLanguage)
	assert.Empty(t, bare.SourceHVT)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Records([]storage.HVTRecord{hvt("carol", "alice", 1000, t0, nil)})))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	for _, key := range []string{
		"username", "follower_count", "post_count", "bio", "profile_url", "has_active_story",
		"location", "engagement_rate", "estimated_gender", "bio_language",
		"reason_for_selection", "source_hvt", "discovery_timestamp",
	} {
		assert.Contains(t, decoded[0], key)
	}
	assert.Len(t, decoded[0], 13)

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestRank(t *testing.T) {
	lineage := memory.NewLineageGraph()
	lineage.Record("alice", "dave")
	lineage.Record("zed", "dave")
	lineage.Record("alice", "erin")
	lineage.Record("alice", "frank")

	match := map[string]string{storage.MetricPreferenceMatch: "true"}
	hvts := []storage.HVTRecord{
		hvt("erin", "alice", 1000, t0, nil),                      // 1 referral, 3%
		hvt("dave", "alice", 1000, t0.Add(time.Minute), nil),     // 2 referrals
		hvt("frank", "alice", 500, t0.Add(2*time.Minute), nil),   // 1 referral, 6%
		hvt("gina", "alice", 1000, t0.Add(3*time.Minute), match), // preference match
		hvt("hank", "alice", 1000, t0.Add(-time.Minute), nil),    // 0 referrals, earlier
		hvt("ivan", "alice", 1000, t0.Add(-time.Minute), nil),    // ties hank
	}

	ranked := Rank(hvts, lineage)
	var order []string
	for _, r := range ranked {
		order = append(order, r.HVT.Ref.Username)
	}
	assert.Equal(t, []string{"gina", "dave", "frank", "erin", "hank", "ivan"}, order)
	assert.True(t, ranked[0].PreferenceMatch)
	assert.Equal(t, 2, ranked[1].Referrals)
}

func TestAnalyze(t *testing.T) {
	hvts := []storage.HVTRecord{
		hvt("a", "alice", 100, t0, map[string]string{storage.MetricGender: "female"}),
		hvt("b", "alice", 300, t0, map[string]string{storage.MetricGender: "female"}),
		hvt("c", "bob", 200, t0, map[string]string{storage.MetricGender: "male"}),
		hvt("d", "", 1000, t0, nil),
	}

	a := Analyze(hvts)
	assert.Equal(t, 4, a.Total)
	assert.InDelta(t, 400.0, a.AvgFollowers, 1e-9)
	assert.Equal(t, 300, a.MedianFollowers)
	assert.InDelta(t, 4.0, a.AvgRatio, 1e-9)
	assert.Equal(t, []Count{{"female", 2}, {"male", 1}, {"unknown", 1}}, a.Genders)
	assert.Equal(t, Count{"Austin, Texas", 4}, a.TopLocation)
	assert.Equal(t, Count{"alice", 2}, a.TopSource)

	assert.Equal(t, Analytics{}, Analyze(nil))
}

func TestWriteMarkdown(t *testing.T) {
	state := &storage.SessionState{
		SessionID: "c0ffee00-0000-4000-8000-000000000001",
		Sequence:  12,
		CreatedAt: t0,
		UpdatedAt: t0.Add(time.Hour),
		Status:    storage.StatusInterrupted,
		Frontier:  []storage.ProfileRef{{Username: "zoe", SourceProfile: "carol", Depth: 2}},
		HVTs: []storage.HVTRecord{
			hvt("carol", "alice", 1000, t0, map[string]string{storage.MetricGender: "female"}),
		},
		Lineage: []storage.LineageEdge{{Parent: "alice", Child: "carol", Weight: 1}},
		Stats:   storage.SessionStats{ProfilesScanned: 4, ProfilesAccepted: 1, ProfilesRejected: 3},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, state))
	out := buf.String()

	assert.Contains(t, out, "# HVT Hunter Report")
	assert.Contains(t, out, state.SessionID)
	assert.Contains(t, out, "25.00%")
	assert.Contains(t, out, "@carol")
	assert.Contains(t, out, "## Analytics")
	assert.Contains(t, out, "```mermaid")
	assert.Contains(t, out, "@alice surfaced 1 HVTs")
	assert.Contains(t, out, "interrupted")
}
