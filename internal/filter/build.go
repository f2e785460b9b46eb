package filter

import (
	"fmt"

	"github.com/alvmarrod/hvt-hunter/internal/analyzer"
	"github.com/alvmarrod/hvt-hunter/internal/config"
)

// Build creates the pipeline described by cfg.StageOrder
func Build(cfg *config.Config, a analyzer.TextAnalyzer) (*Pipeline, error) {
	languages := make([]string, 0, len(cfg.AllowedLanguages))
	for _, code := range cfg.AllowedLanguages {
		languages = append(languages, analyzer.CanonicalLanguage(code))
	}

	stages := make([]Stage, 0, len(cfg.StageOrder))
	for _, name := range cfg.StageOrder {
		var stage Stage
		switch name {
		case config.StageBasic:
			stage = &BasicStage{
				MinFollowers: cfg.MinFollowers,
				MaxFollowers: cfg.MaxFollowers,
				MinPosts:     cfg.MinPosts,
				MaxPosts:     cfg.MaxPosts,
			}
		case config.StageGeographic:
			stage = &GeographicStage{
				Tokens:         cfg.LocationTokens,
				ExcludedTokens: cfg.ExcludedLocationTokens,
				CheckBio:       cfg.CheckBioLocation,
			}
		case config.StageActivity:
			stage = &ActivityStage{RequireActiveStory: cfg.RequireActiveStory}
		case config.StageVerification:
			stage = &VerificationStage{ExcludeVerified: cfg.ExcludeVerified}
		case config.StageQuality:
			stage = &QualityStage{
				MinRate: cfg.MinEngagementRate,
				BotRate: cfg.BotEngagementRate,
				MaxRate: cfg.MaxEngagementRate,
			}
		case config.StageContent:
			stage = &ContentStage{
				Analyzer:         a,
				Attempts:         cfg.AnalyzerAttempts,
				FailureMode:      cfg.AnalyzerFailureMode,
				IncludeKeywords:  cfg.IncludeKeywords,
				ExcludeKeywords:  cfg.ExcludeKeywords,
				MinSentiment:     cfg.MinSentiment,
				AllowedLanguages: languages,
			}
		case config.StageCommercial:
			cs, err := NewCommercialStage(cfg.ExcludeCommercial, cfg.CommercialPatterns)
			if err != nil {
				return nil, err
			}
			stage = cs
		case config.StageGender:
			stage = &GenderStage{
				Mode:          cfg.GenderPreference,
				Preferred:     cfg.PreferredGender,
				MinConfidence: cfg.MinGenderConfidence,
				Analyzer:      a,
				Attempts:      cfg.AnalyzerAttempts,
				FailureMode:   cfg.AnalyzerFailureMode,
			}
		default:
			return nil, fmt.Errorf("unknown filter stage %q", name)
		}
		stages = append(stages, stage)
	}

	return NewPipeline(stages...), nil
}
