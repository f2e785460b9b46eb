package analyzer

import (
	"context"
	"sort"

	"golang.org/x/text/language"
)

// Gender is the estimated gender of a profile owner
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// Analysis is the result of analyzing one bio
type Analysis struct {
	Sentiment  float64  // [-1, 1]
	Topics     []string // sorted
	Language   string   // ISO-639 code, "und" when undetermined
	Gender     Gender
	Confidence float64 // [0, 1], confidence of the gender estimate
}

// TextAnalyzer extracts signals from free text
type TextAnalyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// CanonicalLanguage parses an ISO-639 code or BCP 47 tag and returns its
// base language code, or "und" when it cannot be parsed
func CanonicalLanguage(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und.String()
	}
	base, _ := tag.Base()
	return base.String()
}

var topicKeywords = map[string][]string{
	"fitness":  {"gym", "workout", "fitness", "health", "yoga", "trainer"},
	"fashion":  {"fashion", "style", "outfit", "designer", "model"},
	"food":     {"food", "cooking", "chef", "restaurant", "recipe"},
	"travel":   {"travel", "adventure", "explore", "wanderlust", "vacation"},
	"tech":     {"tech", "developer", "coding", "startup", "innovation"},
	"art":      {"art", "artist", "creative", "design", "photography"},
	"music":    {"music", "musician", "singer", "band", "concert"},
	"business": {"entrepreneur", "business", "ceo", "founder", "startup"},
}

var femaleIndicators = []string{
	"she/her", "girl", "woman", "mom", "mother", "wife", "daughter",
	"sister", "queen", "goddess", "beauty", "makeup", "fashion",
}

var maleIndicators = []string{
	"he/him", "guy", "man", "dad", "father", "husband", "son",
	"brother", "king", "fitness", "gym", "sports",
}

var positiveWords = map[string]bool{
	"love": true, "happy": true, "blessed": true, "grateful": true, "joy": true,
	"passionate": true, "amazing": true, "good": true, "great": true, "best": true,
	"beautiful": true, "positive": true, "inspired": true, "kind": true, "fun": true,
	"lover": true, "living": true, "dreamer": true, "smile": true, "peace": true,
}

var negativeWords = map[string]bool{
	"hate": true, "sad": true, "angry": true, "bad": true, "worst": true,
	"toxic": true, "depressed": true, "lonely": true, "tired": true, "broken": true,
	"scam": true, "fake": true, "drama": true, "annoyed": true, "miserable": true,
}

var stopwords = map[string][]string{
	"en": {"the", "and", "or", "but", "in", "on", "at", "to", "for", "with", "my", "of", "is", "i"},
	"es": {"el", "la", "los", "las", "y", "de", "en", "con", "por", "para", "mi", "soy"},
	"fr": {"le", "la", "les", "et", "de", "des", "en", "avec", "pour", "mon", "ma", "je", "suis"},
	"de": {"der", "die", "das", "und", "in", "mit", "für", "ich", "bin", "mein", "nicht"},
	"pt": {"o", "a", "os", "as", "e", "de", "em", "com", "para", "meu", "minha", "sou"},
}

// KeywordAnalyzer is a lexicon-based TextAnalyzer with no external model
type KeywordAnalyzer struct{}

// NewKeywordAnalyzer creates the default analyzer
func NewKeywordAnalyzer() *KeywordAnalyzer {
	return &KeywordAnalyzer{}
}

// Analyze implements TextAnalyzer
func (a *KeywordAnalyzer) Analyze(ctx context.Context, text string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}

	normalized := Normalize(text)
	words := Words(normalized)
	gender, confidence := estimateGender(normalized)

	return Analysis{
		Sentiment:  sentiment(words),
		Topics:     topics(normalized),
		Language:   detectLanguage(words),
		Gender:     gender,
		Confidence: confidence,
	}, nil
}

func sentiment(words []string) float64 {
	pos, neg := 0, 0
	for _, w := range words {
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

func topics(normalized string) []string {
	var found []string
	for topic, keywords := range topicKeywords {
		if _, ok := FirstToken(normalized, keywords); ok {
			found = append(found, topic)
		}
	}
	sort.Strings(found)
	return found
}

// detectLanguage picks the language with the most stopword hits,
// requiring at least two to avoid guessing from a single word
func detectLanguage(words []string) string {
	counts := make(map[string]int)
	for _, w := range words {
		for lang, list := range stopwords {
			for _, sw := range list {
				if w == sw {
					counts[lang]++
				}
			}
		}
	}

	langs := make([]string, 0, len(stopwords))
	for lang := range stopwords {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	best, bestCount := language.Und.String(), 1
	for _, lang := range langs {
		if counts[lang] > bestCount {
			best, bestCount = lang, counts[lang]
		}
	}
	return CanonicalLanguage(best)
}

func estimateGender(normalized string) (Gender, float64) {
	female, male := 0, 0
	for _, ind := range femaleIndicators {
		if HasToken(normalized, ind) {
			female++
		}
	}
	for _, ind := range maleIndicators {
		if HasToken(normalized, ind) {
			male++
		}
	}

	total := female + male
	switch {
	case female > male:
		return GenderFemale, float64(female) / float64(total)
	case male > female:
		return GenderMale, float64(male) / float64(total)
	default:
		return GenderUnknown, 0
	}
}
