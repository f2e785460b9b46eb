package crawler

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/hvt-hunter/internal/fetcher"
)

// DiscoverSeeds collects the authors posting under each hashtag, up to limit
// per tag, in discovery order without duplicates. A tag that cannot be
// listed is skipped; a fatal error stops discovery.
func DiscoverSeeds(ctx context.Context, src fetcher.HashtagSource, tags []string, limit int) ([]string, error) {
	seen := make(map[string]bool)
	var seeds []string

	for _, raw := range tags {
		tag := strings.ToLower(strings.Trim(raw, "# \t"))
		if tag == "" {
			continue
		}

		users, err := src.FetchHashtagUsers(ctx, tag, limit)
		if err != nil {
			if fetcher.IsFatal(err) || ctx.Err() != nil {
				return seeds, err
			}
			logrus.Warnf("Skipping hashtag #%s: %v", tag, err)
			continue
		}

		added := 0
		for _, u := range users {
			name, ok := NormalizeUsername(u)
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			seeds = append(seeds, name)
			added++
		}
		logrus.Infof("Hashtag #%s: %d new seeds from %d posters", tag, added, len(users))
	}
	return seeds, nil
}
