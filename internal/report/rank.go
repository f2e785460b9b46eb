package report

import (
	"sort"

	"github.com/alvmarrod/hvt-hunter/internal/memory"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// Ranked is an HVT with the signals used to order it
type Ranked struct {
	HVT             storage.HVTRecord
	PreferenceMatch bool
	Referrals       int // distinct profiles whose follower list held this one
	Engagement      float64
}

// Rank orders HVTs by preference match, referral count, engagement rate
// and discovery time, with the username as the final tie-break
func Rank(hvts []storage.HVTRecord, lineage *memory.LineageGraph) []Ranked {
	ranked := make([]Ranked, 0, len(hvts))
	for _, h := range hvts {
		r := Ranked{
			HVT:        h,
			Engagement: engagementRate(h),
		}
		if v, ok := h.Trail.Metric(storage.MetricPreferenceMatch); ok {
			r.PreferenceMatch = v == "true"
		}
		if lineage != nil {
			r.Referrals = lineage.InDegree(h.Ref.Username)
		}
		ranked = append(ranked, r)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.PreferenceMatch != b.PreferenceMatch {
			return a.PreferenceMatch
		}
		if a.Referrals != b.Referrals {
			return a.Referrals > b.Referrals
		}
		if a.Engagement != b.Engagement {
			return a.Engagement > b.Engagement
		}
		if !a.HVT.DiscoveredAt.Equal(b.HVT.DiscoveredAt) {
			return a.HVT.DiscoveredAt.Before(b.HVT.DiscoveredAt)
		}
		return a.HVT.Ref.Username < b.HVT.Ref.Username
	})
	return ranked
}
