package filter

import (
	"context"
	"strconv"

	"github.com/alvmarrod/hvt-hunter/internal/analyzer"
	"github.com/alvmarrod/hvt-hunter/internal/config"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// GenderStage applies the gender preference as a hard filter or a soft
// ranking signal. The estimate recorded by the content stage is reused
// when present.
type GenderStage struct {
	Mode          string
	Preferred     string
	MinConfidence float64
	Analyzer      analyzer.TextAnalyzer
	Attempts      int
	FailureMode   string // applied in hard mode when no estimate is available
}

func (s *GenderStage) Name() string { return config.StageGender }

func (s *GenderStage) Evaluate(ctx context.Context, snap *storage.ProfileSnapshot, trail storage.DecisionTrail) storage.FilterVerdict {
	if s.Mode == config.GenderOff {
		return pass("gender preference off")
	}

	gender, confidence, degraded := s.estimate(ctx, snap, trail)
	metrics := map[string]string{
		storage.MetricGender:           gender,
		storage.MetricGenderConfidence: strconv.FormatFloat(confidence, 'f', 2, 64),
	}
	if degraded {
		metrics[storage.MetricAnalyzerDegraded] = "true"
	}

	match := gender == s.Preferred && confidence >= s.MinConfidence
	metrics[storage.MetricPreferenceMatch] = strconv.FormatBool(match)

	var v storage.FilterVerdict
	switch {
	case s.Mode == config.GenderHard && degraded && s.FailureMode == config.FailOpen:
		v = pass("gender estimate unavailable, failing open")
	case s.Mode == config.GenderHard && degraded:
		v = fail("gender estimate unavailable, failing closed")
	case s.Mode == config.GenderSoft && match:
		v = pass("estimated_gender=%s (confidence %.2f) matches preferred %s, soft preference", gender, confidence, s.Preferred)
	case s.Mode == config.GenderSoft:
		v = pass("estimated_gender=%s (confidence %.2f) does not match preferred %s (min confidence %.2f), soft preference",
			gender, confidence, s.Preferred, s.MinConfidence)
	case gender != s.Preferred:
		v = fail("estimated_gender=%s, preferred %s required", gender, s.Preferred)
	case confidence < s.MinConfidence:
		v = fail("gender_confidence=%.2f < min %.2f", confidence, s.MinConfidence)
	default:
		v = pass("estimated_gender=%s (confidence %.2f >= min %.2f) matches preferred %s",
			gender, confidence, s.MinConfidence, s.Preferred)
	}
	v.Metrics = metrics
	return v
}

func (s *GenderStage) estimate(ctx context.Context, snap *storage.ProfileSnapshot, trail storage.DecisionTrail) (string, float64, bool) {
	if g, ok := trail.Metric(storage.MetricGender); ok {
		conf := 0.0
		if raw, ok := trail.Metric(storage.MetricGenderConfidence); ok {
			conf, _ = strconv.ParseFloat(raw, 64)
		}
		return g, conf, false
	}

	if s.Analyzer == nil {
		return string(analyzer.GenderUnknown), 0, true
	}
	a, err := analyzeWithRetry(ctx, s.Analyzer, snap.Bio, s.Attempts)
	if err != nil {
		return string(analyzer.GenderUnknown), 0, true
	}
	return string(a.Gender), a.Confidence, false
}
