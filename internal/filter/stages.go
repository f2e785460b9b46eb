package filter

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alvmarrod/hvt-hunter/internal/analyzer"
	"github.com/alvmarrod/hvt-hunter/internal/config"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// BasicStage checks follower and post counts against inclusive ranges
type BasicStage struct {
	MinFollowers, MaxFollowers int
	MinPosts, MaxPosts         int
}

func (s *BasicStage) Name() string { return config.StageBasic }

func (s *BasicStage) Evaluate(_ context.Context, snap *storage.ProfileSnapshot, _ storage.DecisionTrail) storage.FilterVerdict {
	followers := fmt.Sprintf("follower_count=%d", snap.FollowerCount)
	followerRange := formatRange(s.MinFollowers, s.MaxFollowers)
	if !inRange(snap.FollowerCount, s.MinFollowers, s.MaxFollowers) {
		return fail("%s outside %s", followers, followerRange)
	}

	posts := fmt.Sprintf("post_count=%d", snap.PostCount)
	postRange := formatRange(s.MinPosts, s.MaxPosts)
	if !inRange(snap.PostCount, s.MinPosts, s.MaxPosts) {
		return fail("%s outside %s", posts, postRange)
	}

	return pass("%s within %s, %s within %s", followers, followerRange, posts, postRange)
}

// inRange treats max == 0 as unbounded
func inRange(v, min, max int) bool {
	if v < min {
		return false
	}
	return max == 0 || v <= max
}

func formatRange(min, max int) string {
	if max == 0 {
		return fmt.Sprintf("[%d, unbounded]", min)
	}
	return fmt.Sprintf("[%d, %d]", min, max)
}

// GeographicStage matches location text against location tokens
type GeographicStage struct {
	Tokens         []string
	ExcludedTokens []string
	CheckBio       bool
}

func (s *GeographicStage) Name() string { return config.StageGeographic }

func (s *GeographicStage) Evaluate(_ context.Context, snap *storage.ProfileSnapshot, _ storage.DecisionTrail) storage.FilterVerdict {
	fields := []struct {
		name, value string
	}{{"location", snap.Location}}
	if s.CheckBio {
		fields = append(fields, struct{ name, value string }{"bio", snap.Bio})
	}

	for _, f := range fields {
		if token, ok := analyzer.FirstToken(analyzer.Normalize(f.value), s.ExcludedTokens); ok {
			return fail("%s %q matched excluded token %q", f.name, f.value, token)
		}
	}

	if len(s.Tokens) == 0 {
		return pass("no location tokens configured")
	}

	for _, f := range fields {
		if token, ok := analyzer.FirstToken(analyzer.Normalize(f.value), s.Tokens); ok {
			return pass("%s %q matched token %q", f.name, f.value, token)
		}
	}

	if s.CheckBio {
		return fail("location %q and bio matched none of %d location tokens", snap.Location, len(s.Tokens))
	}
	return fail("location %q matched none of %d location tokens", snap.Location, len(s.Tokens))
}

// ActivityStage requires an active story when configured
type ActivityStage struct {
	RequireActiveStory bool
}

func (s *ActivityStage) Name() string { return config.StageActivity }

func (s *ActivityStage) Evaluate(_ context.Context, snap *storage.ProfileSnapshot, _ storage.DecisionTrail) storage.FilterVerdict {
	if !s.RequireActiveStory {
		return pass("has_active_story=%t, active story not required", snap.HasActiveStory)
	}
	if !snap.HasActiveStory {
		return fail("has_active_story=false, active story required")
	}
	return pass("has_active_story=true, active story required")
}

// VerificationStage rejects verified accounts when configured
type VerificationStage struct {
	ExcludeVerified bool
}

func (s *VerificationStage) Name() string { return config.StageVerification }

func (s *VerificationStage) Evaluate(_ context.Context, snap *storage.ProfileSnapshot, _ storage.DecisionTrail) storage.FilterVerdict {
	if s.ExcludeVerified && snap.IsVerified {
		return fail("is_verified=true, verified accounts excluded")
	}
	if s.ExcludeVerified {
		return pass("is_verified=false, verified accounts excluded")
	}
	return pass("is_verified=%t, verified accounts allowed", snap.IsVerified)
}

// QualityStage checks the engagement rate, in percent
type QualityStage struct {
	MinRate float64
	BotRate float64
	MaxRate float64 // 0 disables the upper bound
}

func (s *QualityStage) Name() string { return config.StageQuality }

func (s *QualityStage) Evaluate(_ context.Context, snap *storage.ProfileSnapshot, _ storage.DecisionTrail) storage.FilterVerdict {
	rate := EngagementRate(snap)
	metrics := map[string]string{
		storage.MetricEngagementRate: strconv.FormatFloat(rate, 'f', 4, 64),
		storage.MetricBotLike:        "false",
	}

	var v storage.FilterVerdict
	switch {
	case rate < s.MinRate:
		v = fail("engagement_rate=%.2f%% < min %.2f%%", rate, s.MinRate)
	case s.MaxRate > 0 && rate > s.MaxRate:
		v = fail("engagement_rate=%.2f%% > max %.2f%%, likely inflated", rate, s.MaxRate)
	case rate < s.BotRate:
		metrics[storage.MetricBotLike] = "true"
		v = pass("engagement_rate=%.2f%% >= min %.2f%% but < bot threshold %.2f%%, bot-like", rate, s.MinRate, s.BotRate)
	default:
		v = pass("engagement_rate=%.2f%% >= min %.2f%%", rate, s.MinRate)
	}
	v.Metrics = metrics
	return v
}

// EngagementRate is the mean recent interaction count over followers, in percent
func EngagementRate(snap *storage.ProfileSnapshot) float64 {
	if snap.FollowerCount <= 0 || len(snap.RecentInteractions) == 0 {
		return 0
	}
	total := 0
	for _, n := range snap.RecentInteractions {
		total += n
	}
	mean := float64(total) / float64(len(snap.RecentInteractions))
	return mean / float64(snap.FollowerCount) * 100
}
