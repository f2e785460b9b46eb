package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/alvmarrod/hvt-hunter/internal/filter"
	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

const unknown = "unknown"

// Record converts an HVT into its exported shape
func Record(h storage.HVTRecord) storage.ResultRecord {
	return storage.ResultRecord{
		Username:           h.Ref.Username,
		FollowerCount:      h.Snapshot.FollowerCount,
		PostCount:          h.Snapshot.PostCount,
		Bio:                h.Snapshot.Bio,
		ProfileURL:         h.Snapshot.ProfileURL,
		HasActiveStory:     h.Snapshot.HasActiveStory,
		Location:           h.Snapshot.Location,
		EngagementRate:     engagementRate(h),
		EstimatedGender:    metricOr(h.Trail, storage.MetricGender, unknown),
		BioLanguage:        metricOr(h.Trail, storage.MetricLanguage, unknown),
		ReasonForSelection: h.Justification,
		SourceHVT:          h.Ref.SourceProfile,
		DiscoveryTimestamp: h.DiscoveredAt.UTC().Format(time.RFC3339),
	}
}

// Records converts HVTs in discovery order
func Records(hvts []storage.HVTRecord) []storage.ResultRecord {
	records := make([]storage.ResultRecord, 0, len(hvts))
	for _, h := range hvts {
		records = append(records, Record(h))
	}
	return records
}

// WriteJSON writes records as an indented JSON array followed by a newline
func WriteJSON(w io.Writer, records []storage.ResultRecord) error {
	if records == nil {
		records = []storage.ResultRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}

// engagementRate prefers the value the quality stage recorded
func engagementRate(h storage.HVTRecord) float64 {
	if raw, ok := h.Trail.Metric(storage.MetricEngagementRate); ok {
		if rate, err := strconv.ParseFloat(raw, 64); err == nil {
			return rate
		}
	}
	return filter.EngagementRate(&h.Snapshot)
}

func metricOr(trail storage.DecisionTrail, key, fallback string) string {
	if v, ok := trail.Metric(key); ok && v != "" {
		return v
	}
	return fallback
}
