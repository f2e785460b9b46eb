package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Filter stage names accepted in stage_order
const (
	StageBasic        = "basic"
	StageGeographic   = "geographic"
	StageActivity     = "activity"
	StageVerification = "verification"
	StageQuality      = "quality"
	StageContent      = "content"
	StageCommercial   = "commercial"
	StageGender       = "gender"
)

// DefaultStageOrder runs the cheapest, most discriminating stages first
var DefaultStageOrder = []string{
	StageBasic,
	StageGeographic,
	StageActivity,
	StageVerification,
	StageQuality,
	StageContent,
	StageCommercial,
	StageGender,
}

// Analyzer failure modes
const (
	FailOpen   = "open"
	FailClosed = "closed"
)

// Gender preference modes
const (
	GenderOff  = "off"
	GenderSoft = "soft"
	GenderHard = "hard"
)

// SessionTokenEnv is read when session_token is not set in the file
const SessionTokenEnv = "HUNTER_SESSION_TOKEN"

// Config holds all runtime configuration parameters
type Config struct {
	// Traversal
	Seeds                  []string `json:"seeds" yaml:"seeds"`
	SeedHashtags           []string `json:"seed_hashtags" yaml:"seed_hashtags"`
	HashtagSeedLimit       int      `json:"hashtag_seed_limit" yaml:"hashtag_seed_limit" validate:"gte=1"`
	MaxDepth               int      `json:"max_depth" yaml:"max_depth" validate:"gte=0"`
	MaxProfiles            int      `json:"max_profiles" yaml:"max_profiles" validate:"gte=1"`
	MaxFollowersPerProfile int      `json:"max_followers_per_profile" yaml:"max_followers_per_profile" validate:"gte=1"`
	FollowerPageSize       int      `json:"follower_page_size" yaml:"follower_page_size" validate:"gte=1,lte=1000"`
	StrictSeedExpansion    bool     `json:"strict_seed_expansion" yaml:"strict_seed_expansion"`

	// Basic stage
	MinFollowers int `json:"min_followers" yaml:"min_followers" validate:"gte=0"`
	MaxFollowers int `json:"max_followers" yaml:"max_followers" validate:"gte=0"`
	MinPosts     int `json:"min_posts" yaml:"min_posts" validate:"gte=0"`
	MaxPosts     int `json:"max_posts" yaml:"max_posts" validate:"gte=0"`

	// Geographic stage
	LocationTokens         []string `json:"location_tokens" yaml:"location_tokens"`
	ExcludedLocationTokens []string `json:"excluded_location_tokens" yaml:"excluded_location_tokens"`
	CheckBioLocation       bool     `json:"check_bio_location" yaml:"check_bio_location"`

	// Activity and verification stages
	RequireActiveStory bool `json:"require_active_story" yaml:"require_active_story"`
	ExcludeVerified    bool `json:"exclude_verified" yaml:"exclude_verified"`

	// Quality stage, rates in percent
	MinEngagementRate float64 `json:"min_engagement_rate" yaml:"min_engagement_rate" validate:"gte=0"`
	BotEngagementRate float64 `json:"bot_engagement_rate" yaml:"bot_engagement_rate" validate:"gte=0"`
	MaxEngagementRate float64 `json:"max_engagement_rate" yaml:"max_engagement_rate" validate:"gte=0"`

	// Content stage
	IncludeKeywords     []string `json:"include_keywords" yaml:"include_keywords"`
	ExcludeKeywords     []string `json:"exclude_keywords" yaml:"exclude_keywords"`
	MinSentiment        *float64 `json:"min_sentiment,omitempty" yaml:"min_sentiment,omitempty" validate:"omitempty,gte=-1,lte=1"`
	AllowedLanguages    []string `json:"allowed_languages" yaml:"allowed_languages"`
	AnalyzerFailureMode string   `json:"analyzer_failure_mode" yaml:"analyzer_failure_mode" validate:"required,oneof=open closed"`
	AnalyzerAttempts    int      `json:"analyzer_attempts" yaml:"analyzer_attempts" validate:"gte=1"`

	// Commercial stage
	ExcludeCommercial  bool     `json:"exclude_commercial" yaml:"exclude_commercial"`
	CommercialPatterns []string `json:"commercial_patterns" yaml:"commercial_patterns"`

	// Gender stage
	GenderPreference    string  `json:"gender_preference" yaml:"gender_preference" validate:"oneof=off soft hard"`
	PreferredGender     string  `json:"preferred_gender" yaml:"preferred_gender" validate:"omitempty,oneof=male female"`
	MinGenderConfidence float64 `json:"min_gender_confidence" yaml:"min_gender_confidence" validate:"gte=0,lte=1"`

	StageOrder []string `json:"stage_order" yaml:"stage_order"`

	// Fetching
	Proxies               []string `json:"proxies" yaml:"proxies"`
	RequireProxies        bool     `json:"require_proxies" yaml:"require_proxies"`
	CheckProxies          bool     `json:"check_proxies" yaml:"check_proxies"`
	ProxyFailureThreshold int      `json:"proxy_failure_threshold" yaml:"proxy_failure_threshold" validate:"gte=1"`
	ProxyCooldownMs       int      `json:"proxy_cooldown_ms" yaml:"proxy_cooldown_ms" validate:"gte=0"`
	MinDelayMs            int      `json:"min_delay_ms" yaml:"min_delay_ms" validate:"gte=0"`
	MaxDelayMs            int      `json:"max_delay_ms" yaml:"max_delay_ms" validate:"gtefield=MinDelayMs"`
	BackoffMultiplier     float64  `json:"backoff_multiplier" yaml:"backoff_multiplier" validate:"gte=1"`
	MaxBackoffMs          int      `json:"max_backoff_ms" yaml:"max_backoff_ms" validate:"gtefield=MaxDelayMs"`
	BackoffResetAfter     int      `json:"backoff_reset_after" yaml:"backoff_reset_after" validate:"gte=1"`
	RequestTimeoutMs      int      `json:"request_timeout_ms" yaml:"request_timeout_ms" validate:"gte=100"`
	RetryAttempts         int      `json:"retry_attempts" yaml:"retry_attempts" validate:"gte=1"`
	RetryDelayMs          int      `json:"retry_delay_ms" yaml:"retry_delay_ms" validate:"gte=0"`
	ConcurrentWorkers     int      `json:"concurrent_workers" yaml:"concurrent_workers" validate:"gte=1,lte=64"`
	APIBaseURL            string   `json:"api_base_url" yaml:"api_base_url" validate:"required,url"`
	ProfileURLFormat      string   `json:"profile_url_format" yaml:"profile_url_format" validate:"required"`
	SessionToken          string   `json:"session_token,omitempty" yaml:"session_token"`

	// Session
	SessionPath                string `json:"session_path" yaml:"session_path"`
	CheckpointEvery            int    `json:"checkpoint_every" yaml:"checkpoint_every" validate:"gte=0"`
	CheckpointIntervalMs       int    `json:"checkpoint_interval_ms" yaml:"checkpoint_interval_ms" validate:"gte=0"`
	CheckpointFailureThreshold int    `json:"checkpoint_failure_threshold" yaml:"checkpoint_failure_threshold" validate:"gte=1"`
	ShutdownGraceMs            int    `json:"shutdown_grace_ms" yaml:"shutdown_grace_ms" validate:"gte=0"`
	MetricsPath                string `json:"metrics_path" yaml:"metrics_path"`
}

// Default returns a configuration with every option set to its default.
// analyzer_failure_mode has no default and must be chosen explicitly.
func Default() *Config {
	return &Config{
		HashtagSeedLimit:           50,
		MaxDepth:                   2,
		MaxProfiles:                500,
		MaxFollowersPerProfile:     200,
		FollowerPageSize:           50,
		StrictSeedExpansion:        true,
		MinFollowers:               1000,
		MaxFollowers:               100000,
		MinPosts:                   10,
		MaxPosts:                   0,
		LocationTokens:             append([]string(nil), DefaultLocationTokens...),
		ExcludedLocationTokens:     append([]string(nil), DefaultExcludedLocationTokens...),
		CheckBioLocation:           true,
		RequireActiveStory:         true,
		ExcludeVerified:            true,
		MinEngagementRate:          0.5,
		BotEngagementRate:          1.0,
		MaxEngagementRate:          15.0,
		AnalyzerAttempts:           2,
		ExcludeCommercial:          true,
		GenderPreference:           GenderOff,
		PreferredGender:            "female",
		MinGenderConfidence:        0.6,
		StageOrder:                 append([]string(nil), DefaultStageOrder...),
		ProxyFailureThreshold:      3,
		ProxyCooldownMs:            60000,
		MinDelayMs:                 2000,
		MaxDelayMs:                 5000,
		BackoffMultiplier:          2.0,
		MaxBackoffMs:               120000,
		BackoffResetAfter:          5,
		RequestTimeoutMs:           15000,
		RetryAttempts:              3,
		RetryDelayMs:               5000,
		ConcurrentWorkers:          3,
		APIBaseURL:                 "https://i.instagram.com/api/v1",
		ProfileURLFormat:           "https://www.instagram.com/%s/",
		CheckpointEvery:            10,
		CheckpointIntervalMs:       60000,
		CheckpointFailureThreshold: 3,
		ShutdownGraceMs:            10000,
		MetricsPath:                "metrics.json",
	}
}

// DefaultLocationTokens are US-indicative location keywords
var DefaultLocationTokens = []string{
	"usa", "united states", "america",
	"alabama", "alaska", "arizona", "arkansas", "california", "colorado",
	"connecticut", "delaware", "florida", "georgia", "hawaii", "idaho",
	"illinois", "indiana", "iowa", "kansas", "kentucky", "louisiana",
	"maine", "maryland", "massachusetts", "michigan", "minnesota",
	"mississippi", "missouri", "montana", "nebraska", "nevada",
	"new hampshire", "new jersey", "new mexico", "new york",
	"north carolina", "north dakota", "ohio", "oklahoma", "oregon",
	"pennsylvania", "rhode island", "south carolina", "south dakota",
	"tennessee", "texas", "utah", "vermont", "virginia", "washington",
	"west virginia", "wisconsin", "wyoming",
	"nyc", "los angeles", "chicago", "houston", "phoenix",
	"philadelphia", "san antonio", "san diego", "dallas", "austin",
	"miami", "atlanta", "boston", "seattle", "denver", "nashville",
	"las vegas", "portland", "san francisco",
}

// DefaultExcludedLocationTokens indicate a location outside the US
var DefaultExcludedLocationTokens = []string{
	"uk", "united kingdom", "london", "canada", "toronto", "vancouver",
	"australia", "sydney", "melbourne", "india", "mumbai", "delhi",
	"germany", "berlin", "france", "paris", "spain", "madrid",
	"italy", "rome", "brazil", "mexico", "philippines", "nigeria",
}

// LoadConfig reads and validates configuration from a JSON or YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize applies derived defaults and validates the configuration
func (c *Config) Finalize() error {
	applyDefaults(c)
	if err := validate(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// applyDefaults fills values derived from the environment
func applyDefaults(cfg *Config) {
	if cfg.SessionPath == "" {
		cfg.SessionPath = filepath.Join(xdg.DataHome, "hvt-hunter", "session.db")
	}
	if cfg.SessionToken == "" {
		cfg.SessionToken = os.Getenv(SessionTokenEnv)
	}
	if len(cfg.StageOrder) == 0 {
		cfg.StageOrder = append([]string(nil), DefaultStageOrder...)
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
}

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names so errors match the config file
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return v
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Param() != "" {
				return fmt.Errorf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
			}
			return fmt.Errorf("%s failed %s (got %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return err
	}

	if cfg.MaxFollowers > 0 && cfg.MinFollowers > cfg.MaxFollowers {
		return fmt.Errorf("min_followers (%d) must be <= max_followers (%d)", cfg.MinFollowers, cfg.MaxFollowers)
	}
	if cfg.MaxPosts > 0 && cfg.MinPosts > cfg.MaxPosts {
		return fmt.Errorf("min_posts (%d) must be <= max_posts (%d)", cfg.MinPosts, cfg.MaxPosts)
	}
	if cfg.BotEngagementRate > 0 && cfg.BotEngagementRate < cfg.MinEngagementRate {
		return fmt.Errorf("bot_engagement_rate (%.2f) must be >= min_engagement_rate (%.2f)", cfg.BotEngagementRate, cfg.MinEngagementRate)
	}
	if cfg.MaxEngagementRate > 0 && cfg.MaxEngagementRate < cfg.BotEngagementRate {
		return fmt.Errorf("max_engagement_rate (%.2f) must be >= bot_engagement_rate (%.2f)", cfg.MaxEngagementRate, cfg.BotEngagementRate)
	}
	if cfg.GenderPreference != GenderOff && cfg.PreferredGender == "" {
		return fmt.Errorf("preferred_gender is required when gender_preference is %s", cfg.GenderPreference)
	}
	if strings.Count(cfg.ProfileURLFormat, "%s") != 1 {
		return fmt.Errorf("profile_url_format must contain exactly one %%s")
	}

	seen := make(map[string]bool)
	for _, name := range cfg.StageOrder {
		if !isStage(name) {
			return fmt.Errorf("stage_order: unknown stage %q", name)
		}
		if seen[name] {
			return fmt.Errorf("stage_order: duplicate stage %q", name)
		}
		seen[name] = true
	}

	for i, pattern := range cfg.CommercialPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("commercial_patterns[%d]: %v", i, err)
		}
	}

	for i, raw := range cfg.Proxies {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("proxies[%d]: invalid proxy URL %q", i, raw)
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			return fmt.Errorf("proxies[%d]: unsupported scheme %q", i, u.Scheme)
		}
	}
	if cfg.RequireProxies && len(cfg.Proxies) == 0 {
		return fmt.Errorf("require_proxies is set but proxies is empty")
	}

	for i, seed := range cfg.Seeds {
		if strings.TrimSpace(seed) == "" {
			return fmt.Errorf("seeds[%d] is empty", i)
		}
	}
	for i, tag := range cfg.SeedHashtags {
		if strings.Trim(tag, "# \t") == "" {
			return fmt.Errorf("seed_hashtags[%d] is empty", i)
		}
	}

	if cfg.CheckpointEvery == 0 && cfg.CheckpointIntervalMs == 0 {
		return fmt.Errorf("checkpoint_every and checkpoint_interval_ms cannot both be 0")
	}

	return nil
}

func isStage(name string) bool {
	for _, s := range DefaultStageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// ProxyCount returns the number of fetch slots the crawl will use
func (c *Config) ProxyCount() int {
	if len(c.Proxies) == 0 {
		return 1
	}
	return len(c.Proxies)
}

// Snapshot serializes the configuration for the session record.
// The session token is never included.
func (c *Config) Snapshot() ([]byte, error) {
	redacted := *c
	redacted.SessionToken = ""
	data, err := json.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config snapshot: %w", err)
	}
	return data, nil
}

// Fingerprint hashes the snapshot so resumed runs can detect config drift
func Fingerprint(snapshot []byte) string {
	sum := sha256.Sum256(snapshot)
	return hex.EncodeToString(sum[:8])
}
