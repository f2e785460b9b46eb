package storage

import (
	"strings"
	"time"
)

// ProfileRef identifies a candidate as seen by the crawl
type ProfileRef struct {
	Username      string `json:"username"`
	SourceProfile string `json:"source_profile,omitempty"`
	Depth         int    `json:"depth"`
}

// IsSeed reports whether the ref was supplied by the operator
func (r ProfileRef) IsSeed() bool {
	return r.SourceProfile == "" && r.Depth == 0
}

// ProfileSnapshot is the profile data fetched at one point in time
type ProfileSnapshot struct {
	Username           string    `json:"username"`
	FollowerCount      int       `json:"follower_count"`
	FollowingCount     int       `json:"following_count"`
	PostCount          int       `json:"post_count"`
	Bio                string    `json:"bio"`
	Location           string    `json:"location"`
	ExternalURL        string    `json:"external_url"`
	RecentInteractions []int     `json:"recent_interactions"`
	HasActiveStory     bool      `json:"has_active_story"`
	IsVerified         bool      `json:"is_verified"`
	IsPrivate          bool      `json:"is_private"`
	ProfileURL         string    `json:"profile_url"`
	FetchedAt          time.Time `json:"fetched_at"`
}

// Metric keys recorded by filter stages
const (
	MetricEngagementRate   = "engagement_rate"
	MetricBotLike          = "bot_like"
	MetricSentiment        = "sentiment"
	MetricTopics           = "topics"
	MetricLanguage         = "bio_language"
	MetricGender           = "estimated_gender"
	MetricGenderConfidence = "gender_confidence"
	MetricPreferenceMatch  = "preference_match"
	MetricAnalyzerDegraded = "analyzer_degraded"
)

// FilterVerdict is the result of one filter stage
type FilterVerdict struct {
	Stage         string            `json:"stage"`
	Passed        bool              `json:"passed"`
	Justification string            `json:"justification"`
	Metrics       map[string]string `json:"metrics,omitempty"`
}

// DecisionTrail is the ordered list of verdicts behind a decision
type DecisionTrail []FilterVerdict

// Justification concatenates every verdict into one audit string
func (t DecisionTrail) Justification() string {
	parts := make([]string, 0, len(t))
	for _, v := range t {
		status := "pass"
		if !v.Passed {
			status = "fail"
		}
		parts = append(parts, v.Stage+" "+status+": "+v.Justification)
	}
	return strings.Join(parts, "; ")
}

// Metric returns the most recent value recorded for key
func (t DecisionTrail) Metric(key string) (string, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if val, ok := t[i].Metrics[key]; ok {
			return val, true
		}
	}
	return "", false
}

// Failed returns the failing verdict, if any
func (t DecisionTrail) Failed() (FilterVerdict, bool) {
	for _, v := range t {
		if !v.Passed {
			return v, true
		}
	}
	return FilterVerdict{}, false
}

// Outcome is the terminal state of a visited profile
type Outcome string

const (
	OutcomeAccepted       Outcome = "accepted"
	OutcomeRejected       Outcome = "rejected"
	OutcomeTransientError Outcome = "transient_error"
	OutcomePermanentError Outcome = "permanent_error"
)

// VisitRecord is the VisitedSet entry for one username
type VisitRecord struct {
	Username  string    `json:"username"`
	Depth     int       `json:"depth"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail"`
	VisitedAt time.Time `json:"visited_at"`
}

// HVTRecord is an accepted profile, immutable once written
type HVTRecord struct {
	Ref           ProfileRef      `json:"ref"`
	Snapshot      ProfileSnapshot `json:"snapshot"`
	Trail         DecisionTrail   `json:"trail"`
	Justification string          `json:"justification"`
	DiscoveredAt  time.Time       `json:"discovered_at"`
}

// ResultRecord is the exported shape of an HVT
type ResultRecord struct {
	Username           string  `json:"username"`
	FollowerCount      int     `json:"follower_count"`
	PostCount          int     `json:"post_count"`
	Bio                string  `json:"bio"`
	ProfileURL         string  `json:"profile_url"`
	HasActiveStory     bool    `json:"has_active_story"`
	Location           string  `json:"location"`
	EngagementRate     float64 `json:"engagement_rate"`
	EstimatedGender    string  `json:"estimated_gender"`
	BioLanguage        string  `json:"bio_language"`
	ReasonForSelection string  `json:"reason_for_selection"`
	SourceHVT          string  `json:"source_hvt"`
	DiscoveryTimestamp string  `json:"discovery_timestamp"`
}

// LineageEdge counts how often parent's follower list contained child
type LineageEdge struct {
	Parent string `json:"parent"`
	Child  string `json:"child"`
	Weight int    `json:"weight"`
}

// Session status values
const (
	StatusRunning     = "running"
	StatusInterrupted = "interrupted"
	StatusComplete    = "complete"
)

// SessionStats holds the persisted run counters
type SessionStats struct {
	ProfilesScanned  int `json:"profiles_scanned"`
	ProfilesAccepted int `json:"profiles_accepted"`
	ProfilesRejected int `json:"profiles_rejected"`
	TransientErrors  int `json:"transient_errors"`
	PermanentErrors  int `json:"permanent_errors"`
}

// SessionState is the durable aggregate written at every checkpoint
type SessionState struct {
	SessionID         string
	Sequence          int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Status            string
	Config            []byte
	ConfigFingerprint string
	Frontier          []ProfileRef
	Visited           []VisitRecord
	HVTs              []HVTRecord
	Lineage           []LineageEdge
	Stats             SessionStats
}

// Metrics tracks crawl statistics for export on exit
type Metrics struct {
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	ProfilesScanned     int       `json:"profiles_scanned"`
	ProfilesAccepted    int       `json:"profiles_accepted"`
	ProfilesRejected    int       `json:"profiles_rejected"`
	TransientErrors     int       `json:"transient_errors"`
	PermanentErrors     int       `json:"permanent_errors"`
	FollowersDiscovered int       `json:"followers_discovered"`
	FollowersEnqueued   int       `json:"followers_enqueued"`
	CheckpointsWritten  int       `json:"checkpoints_written"`
	CheckpointFailures  int       `json:"checkpoint_failures"`
	TotalFetchTimeMs    int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs      int64     `json:"avg_fetch_time_ms"`
	TerminationReason   string    `json:"termination_reason"`
}
