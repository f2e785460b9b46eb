package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAndHasToken(t *testing.T) {
	text := Normalize("Living in NEW YORK City!! (she/her)")
	assert.Equal(t, " living in new york city she her ", text)

	assert.True(t, HasToken(text, "New York"))
	assert.True(t, HasToken(text, "she/her"))
	assert.False(t, HasToken(text, "york city state"))
	assert.False(t, HasToken(text, "ew yor"), "partial words must not match")
	assert.False(t, HasToken(text, "   "))

	token, ok := FirstToken(text, []string{"texas", "york"})
	assert.True(t, ok)
	assert.Equal(t, "york", token)
}

func TestCanonicalLanguage(t *testing.T) {
	assert.Equal(t, "en", CanonicalLanguage("en"))
	assert.Equal(t, "en", CanonicalLanguage("EN-us"))
	assert.Equal(t, "es", CanonicalLanguage("es-419"))
	assert.Equal(t, "und", CanonicalLanguage("!!"))
}

func TestKeywordAnalyzer(t *testing.T) {
	a := NewKeywordAnalyzer()
	tests := []struct {
		name       string
		bio        string
		wantLang   string
		wantGender Gender
		wantTopics []string
		sentiment  func(float64) bool
	}{
		{
			name:       "english female fitness",
			bio:        "Mom of two and yoga lover living in the sun with my family",
			wantLang:   "en",
			wantGender: GenderFemale,
			wantTopics: []string{"fitness"},
			sentiment:  func(s float64) bool { return s > 0 },
		},
		{
			name:       "spanish male",
			bio:        "Soy el dad de la casa y amo el gym con mi hermano",
			wantLang:   "es",
			wantGender: GenderMale,
			wantTopics: []string{"fitness"},
			sentiment:  func(s float64) bool { return s == 0 },
		},
		{
			name:       "empty",
			bio:        "",
			wantLang:   "und",
			wantGender: GenderUnknown,
			wantTopics: nil,
			sentiment:  func(s float64) bool { return s == 0 },
		},
		{
			name:       "negative",
			bio:        "tired and sad, hate drama",
			wantLang:   "und",
			wantGender: GenderUnknown,
			wantTopics: nil,
			sentiment:  func(s float64) bool { return s == -1 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Analyze(context.Background(), tt.bio)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLang, got.Language)
			assert.Equal(t, tt.wantGender, got.Gender)
			assert.Equal(t, tt.wantTopics, got.Topics)
			assert.True(t, tt.sentiment(got.Sentiment), "sentiment %v", got.Sentiment)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestKeywordAnalyzerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewKeywordAnalyzer().Analyze(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
}
