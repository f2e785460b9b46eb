package filter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/hvt-hunter/internal/analyzer"
	"github.com/alvmarrod/hvt-hunter/internal/config"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// ContentStage applies keyword lists and analyzer-derived checks to the bio
type ContentStage struct {
	Analyzer         analyzer.TextAnalyzer
	Attempts         int
	FailureMode      string
	IncludeKeywords  []string
	ExcludeKeywords  []string
	MinSentiment     *float64
	AllowedLanguages []string // canonical base codes
}

func (s *ContentStage) Name() string { return config.StageContent }

func (s *ContentStage) Evaluate(ctx context.Context, snap *storage.ProfileSnapshot, _ storage.DecisionTrail) storage.FilterVerdict {
	bio := analyzer.Normalize(snap.Bio)

	if kw, ok := analyzer.FirstToken(bio, s.ExcludeKeywords); ok {
		return fail("bio contains excluded keyword %q", kw)
	}

	var included string
	if len(s.IncludeKeywords) > 0 {
		kw, ok := analyzer.FirstToken(bio, s.IncludeKeywords)
		if !ok {
			return fail("bio matched none of %d include keywords", len(s.IncludeKeywords))
		}
		included = kw
	}

	a, err := analyzeWithRetry(ctx, s.Analyzer, snap.Bio, s.Attempts)
	if err != nil {
		if s.FailureMode == config.FailOpen {
			v := pass("analyzer unavailable after %d attempts, failing open", s.Attempts)
			v.Metrics = map[string]string{storage.MetricAnalyzerDegraded: "true"}
			return v
		}
		v := fail("analyzer unavailable after %d attempts, failing closed", s.Attempts)
		v.Metrics = map[string]string{storage.MetricAnalyzerDegraded: "true"}
		return v
	}

	metrics := analysisMetrics(a)

	if s.MinSentiment != nil && a.Sentiment < *s.MinSentiment {
		v := fail("sentiment=%.2f < min %.2f", a.Sentiment, *s.MinSentiment)
		v.Metrics = metrics
		return v
	}

	if len(s.AllowedLanguages) > 0 && !contains(s.AllowedLanguages, a.Language) {
		v := fail("bio_language=%s not in allowed [%s]", a.Language, strings.Join(s.AllowedLanguages, ", "))
		v.Metrics = metrics
		return v
	}

	parts := []string{fmt.Sprintf("sentiment=%.2f", a.Sentiment), "bio_language=" + a.Language}
	if included != "" {
		parts = append(parts, fmt.Sprintf("matched include keyword %q", included))
	}
	if len(s.ExcludeKeywords) > 0 {
		parts = append(parts, fmt.Sprintf("no excluded keywords of %d", len(s.ExcludeKeywords)))
	}
	v := pass("%s", strings.Join(parts, ", "))
	v.Metrics = metrics
	return v
}

func analysisMetrics(a analyzer.Analysis) map[string]string {
	return map[string]string{
		storage.MetricSentiment:        strconv.FormatFloat(a.Sentiment, 'f', 2, 64),
		storage.MetricTopics:           strings.Join(a.Topics, ","),
		storage.MetricLanguage:         a.Language,
		storage.MetricGender:           string(a.Gender),
		storage.MetricGenderConfidence: strconv.FormatFloat(a.Confidence, 'f', 2, 64),
	}
}

// analyzeWithRetry treats every analyzer error as transient for this bio
func analyzeWithRetry(ctx context.Context, a analyzer.TextAnalyzer, text string, attempts int) (analyzer.Analysis, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return analyzer.Analysis{}, err
		}
		result, err := a.Analyze(ctx, text)
		if err == nil {
			result.Language = analyzer.CanonicalLanguage(result.Language)
			return result, nil
		}
		lastErr = err
		logrus.Debugf("Analyzer attempt %d/%d failed: %v", i, attempts, err)
	}
	return analyzer.Analysis{}, fmt.Errorf("analyzer failed after %d attempts: %w", attempts, lastErr)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
