package filter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvmarrod/hvt-hunter/internal/analyzer"
	"github.com/alvmarrod/hvt-hunter/internal/config"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

type mockStage struct {
	name   string
	passed bool
	calls  int
}

func (m *mockStage) Name() string { return m.name }

func (m *mockStage) Evaluate(_ context.Context, _ *storage.ProfileSnapshot, _ storage.DecisionTrail) storage.FilterVerdict {
	m.calls++
	return storage.FilterVerdict{Passed: m.passed, Justification: m.name + " result"}
}

type fakeAnalyzer struct {
	failures int
	calls    int
	result   analyzer.Analysis
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _ string) (analyzer.Analysis, error) {
	f.calls++
	if f.calls <= f.failures {
		return analyzer.Analysis{}, errors.New("model offline")
	}
	return f.result, nil
}

func TestPipelineShortCircuits(t *testing.T) {
	first := &mockStage{name: "first", passed: true}
	failing := &mockStage{name: "failing", passed: false}
	after := &mockStage{name: "after", passed: true}

	p := NewPipeline(first, failing, after)
	accepted, trail := p.Evaluate(context.Background(), &storage.ProfileSnapshot{})

	assert.False(t, accepted)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 0, after.calls, "stage after a failure must not run")
	require.Len(t, trail, 2)
	assert.Equal(t, "failing", trail[1].Stage)

	verdict, ok := trail.Failed()
	require.True(t, ok)
	assert.Equal(t, "failing", verdict.Stage)
	assert.Equal(t, "first pass: first result; failing fail: failing result", trail.Justification())
}

func TestPipelineAcceptsWhenAllPass(t *testing.T) {
	a := &mockStage{name: "a", passed: true}
	b := &mockStage{name: "b", passed: true}

	accepted, trail := NewPipeline(a, b).Evaluate(context.Background(), &storage.ProfileSnapshot{})
	assert.True(t, accepted)
	assert.Len(t, trail, 2)
	assert.Equal(t, []string{"a", "b"}, NewPipeline(a, b).StageNames())
}

func scenarioConfig() *config.Config {
	cfg := config.Default()
	cfg.AnalyzerFailureMode = config.FailOpen
	cfg.MinFollowers = 100
	cfg.MinEngagementRate = 2.0
	cfg.BotEngagementRate = 2.0
	return cfg
}

func TestScenarioBobRejectedCarolAccepted(t *testing.T) {
	p, err := Build(scenarioConfig(), analyzer.NewKeywordAnalyzer())
	require.NoError(t, err)

	bob := &storage.ProfileSnapshot{
		Username:           "bob",
		FollowerCount:      50,
		PostCount:          40,
		Location:           "Dallas, TX",
		HasActiveStory:     true,
		RecentInteractions: []int{5, 5, 5},
	}
	accepted, trail := p.Evaluate(context.Background(), bob)
	assert.False(t, accepted)
	require.Len(t, trail, 1)
	assert.Equal(t, config.StageBasic, trail[0].Stage)
	assert.Contains(t, trail[0].Justification, "50")
	assert.Contains(t, trail[0].Justification, "100")

	carol := &storage.ProfileSnapshot{
		Username:           "carol",
		FollowerCount:      500,
		PostCount:          20,
		Bio:                "Coffee lover and yoga in the park",
		Location:           "Austin, Texas",
		HasActiveStory:     true,
		RecentInteractions: []int{15, 15, 15},
	}
	accepted, trail = p.Evaluate(context.Background(), carol)
	require.True(t, accepted, trail.Justification())
	assert.Len(t, trail, len(config.DefaultStageOrder))

	stages := make(map[string]bool)
	for _, v := range trail {
		assert.True(t, v.Passed)
		stages[v.Stage] = true
	}
	for _, name := range []string{config.StageBasic, config.StageGeographic, config.StageActivity, config.StageQuality} {
		assert.True(t, stages[name], "missing %s verdict", name)
	}

	rate, ok := trail.Metric(storage.MetricEngagementRate)
	require.True(t, ok)
	assert.Equal(t, "3.0000", rate)
}

func TestEvaluationIsDeterministic(t *testing.T) {
	p, err := Build(scenarioConfig(), analyzer.NewKeywordAnalyzer())
	require.NoError(t, err)

	snap := &storage.ProfileSnapshot{
		FollowerCount:      1200,
		PostCount:          300,
		Bio:                "NYC girl, fashion and travel lover",
		Location:           "New York",
		HasActiveStory:     true,
		RecentInteractions: []int{40, 60, 50},
	}

	ok1, trail1 := p.Evaluate(context.Background(), snap)
	ok2, trail2 := p.Evaluate(context.Background(), snap)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, trail1, trail2)
	assert.Equal(t, trail1.Justification(), trail2.Justification())
}

func TestBuildRejectsUnknownStage(t *testing.T) {
	cfg := scenarioConfig()
	cfg.StageOrder = []string{"basic", "horoscope"}
	_, err := Build(cfg, analyzer.NewKeywordAnalyzer())
	assert.Error(t, err)
}

func TestBuildHonorsStageOrder(t *testing.T) {
	cfg := scenarioConfig()
	cfg.StageOrder = []string{config.StageQuality, config.StageBasic}
	p, err := Build(cfg, analyzer.NewKeywordAnalyzer())
	require.NoError(t, err)
	assert.Equal(t, []string{config.StageQuality, config.StageBasic}, p.StageNames())
}
