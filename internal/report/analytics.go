package report

import (
	"sort"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// Count pairs a value with its number of occurrences
type Count struct {
	Value string
	N     int
}

// Analytics summarizes the accepted profiles of a session
type Analytics struct {
	Total           int
	AvgFollowers    float64
	MedianFollowers int
	AvgRatio        float64 // followers per followed account
	Genders         []Count
	Languages       []Count
	TopLocation     Count
	TopSource       Count
}

// Analyze computes aggregate statistics over hvts
func Analyze(hvts []storage.HVTRecord) Analytics {
	a := Analytics{Total: len(hvts)}
	if len(hvts) == 0 {
		return a
	}

	followers := make([]int, 0, len(hvts))
	genders := make(map[string]int)
	languages := make(map[string]int)
	locations := make(map[string]int)
	sources := make(map[string]int)
	var sum, ratios float64

	for _, h := range hvts {
		rec := Record(h)
		followers = append(followers, rec.FollowerCount)
		sum += float64(rec.FollowerCount)
		ratios += float64(rec.FollowerCount) / float64(max(h.Snapshot.FollowingCount, 1))

		genders[rec.EstimatedGender]++
		languages[rec.BioLanguage]++
		if rec.Location != "" {
			locations[rec.Location]++
		}
		if rec.SourceHVT != "" {
			sources[rec.SourceHVT]++
		}
	}

	sort.Ints(followers)
	a.AvgFollowers = sum / float64(len(hvts))
	a.MedianFollowers = followers[len(followers)/2]
	a.AvgRatio = ratios / float64(len(hvts))
	a.Genders = counts(genders)
	a.Languages = counts(languages)
	if top := counts(locations); len(top) > 0 {
		a.TopLocation = top[0]
	}
	if top := counts(sources); len(top) > 0 {
		a.TopSource = top[0]
	}
	return a
}

// counts sorts a histogram by count, then value
func counts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for v, n := range m {
		out = append(out, Count{Value: v, N: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].N != out[j].N {
			return out[i].N > out[j].N
		}
		return out[i].Value < out[j].Value
	})
	return out
}
