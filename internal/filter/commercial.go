package filter

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/alvmarrod/hvt-hunter/internal/config"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// Promotional-content indicators (pricing phrases, storefront and link hubs)
var commercialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\blink\s+in\s+bio\b`),
	regexp.MustCompile(`(?i)\blinktree\b|linktr\.ee`),
	regexp.MustCompile(`(?i)\b(dm|email)\s+(me\s+)?for\s+(collabs?|promos?|business)\b`),
	regexp.MustCompile(`(?i)\bbusiness\s+inquir(y|ies)\b`),
	regexp.MustCompile(`(?i)\bsponsored\b`),
	regexp.MustCompile(`(?i)\bpromo\s+code\b`),
	regexp.MustCompile(`(?i)\bdiscount\b`),
	regexp.MustCompile(`(?i)\b(shop|buy|order)\s+now\b`),
	regexp.MustCompile(`(?i)\baffiliate\b`),
	regexp.MustCompile(`(?i)\bbrand\s+ambassador\b`),
	regexp.MustCompile(`(?i)\bonlyfans\b`),
	regexp.MustCompile(`(?i)\bexclusive\s+content\b`),
	regexp.MustCompile(`[$€£]\s?\d+`),
	regexp.MustCompile(`(?i)\b\d{1,2}\s?%\s?off\b`),
}

// Storefront and link-hub hosts, matched against the external URL host
var commercialHosts = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|\.)linktr\.ee$`),
	regexp.MustCompile(`(?i)(^|\.)beacons\.ai$`),
	regexp.MustCompile(`(?i)(^|\.)linkin\.bio$`),
	regexp.MustCompile(`(?i)(^|\.)onlyfans\.com$`),
	regexp.MustCompile(`(?i)(^|\.)patreon\.com$`),
	regexp.MustCompile(`(?i)(^|\.)gumroad\.com$`),
	regexp.MustCompile(`(?i)(^|\.)etsy\.com$`),
	regexp.MustCompile(`(?i)\.myshopify\.com$`),
	regexp.MustCompile(`(?i)(^|\.)amzn\.to$`),
}

// CommercialStage detects promotional accounts
type CommercialStage struct {
	Exclude bool
	Extra   []*regexp.Regexp
}

// NewCommercialStage compiles the configured extra patterns
func NewCommercialStage(exclude bool, patterns []string) (*CommercialStage, error) {
	s := &CommercialStage{Exclude: exclude}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid commercial pattern %q: %w", p, err)
		}
		s.Extra = append(s.Extra, re)
	}
	return s, nil
}

func (s *CommercialStage) Name() string { return config.StageCommercial }

func (s *CommercialStage) Evaluate(_ context.Context, snap *storage.ProfileSnapshot, _ storage.DecisionTrail) storage.FilterVerdict {
	field, match := s.detect(snap)
	if match == "" {
		return pass("no promotional indicators in bio or external_url")
	}
	if s.Exclude {
		return fail("%s matched promotional indicator %q, commercial accounts excluded", field, match)
	}
	return pass("%s matched promotional indicator %q, commercial accounts allowed", field, match)
}

func (s *CommercialStage) detect(snap *storage.ProfileSnapshot) (string, string) {
	for _, text := range []struct{ field, value string }{
		{"bio", snap.Bio},
		{"external_url", snap.ExternalURL},
	} {
		if text.value == "" {
			continue
		}
		if m := firstMatch(commercialPatterns, text.value); m != "" {
			return text.field, m
		}
		if m := firstMatch(s.Extra, text.value); m != "" {
			return text.field, m
		}
	}

	host, err := ExtractHost(snap.ExternalURL)
	if err == nil && host != "" {
		if m := firstMatch(commercialHosts, host); m != "" {
			return "external_url", m
		}
	}
	return "", ""
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// ExtractHost extracts the lower-cased hostname from a URL string.
// Scheme-less links such as "linktr.ee/name" are accepted.
func ExtractHost(urlStr string) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", nil
	}

	// Handle protocol-relative URLs
	if strings.HasPrefix(urlStr, "//") {
		urlStr = "https:" + urlStr
	}
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Hostname()), nil
}
