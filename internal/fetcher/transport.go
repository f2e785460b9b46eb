package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/alvmarrod/hvt-hunter/internal/storage"
)

// FollowerPage is one page of a follower listing
type FollowerPage struct {
	Usernames  []string
	NextCursor string // empty on the last page
}

// Transport performs single requests on a given proxy slot
type Transport interface {
	Profile(ctx context.Context, slot int, username string) (*storage.ProfileSnapshot, error)
	Followers(ctx context.Context, slot int, username, cursor string, count int) (FollowerPage, error)
	HashtagUsers(ctx context.Context, slot int, tag string, count int) ([]string, error)
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
}

// TransportConfig configures a CollyTransport
type TransportConfig struct {
	BaseURL          string
	ProfileURLFormat string
	SessionToken     string
	Proxies          []string // slot order, "" for direct
	RequestTimeout   time.Duration
}

// CollyTransport talks to the profile JSON API with one collector per slot,
// so each proxy keeps its own connection pool and user agent
type CollyTransport struct {
	baseURL          string
	profileURLFormat string
	token            string
	collectors       []*colly.Collector
}

// NewCollyTransport creates one collector per proxy slot
func NewCollyTransport(cfg TransportConfig) (*CollyTransport, error) {
	proxies := cfg.Proxies
	if len(proxies) == 0 {
		proxies = []string{""}
	}

	t := &CollyTransport{
		baseURL:          cfg.BaseURL,
		profileURLFormat: cfg.ProfileURLFormat,
		token:            cfg.SessionToken,
	}

	for i, proxyURL := range proxies {
		c := colly.NewCollector(
			colly.UserAgent(userAgents[i%len(userAgents)]),
			colly.AllowURLRevisit(),
			colly.ParseHTTPErrorResponse(),
		)
		c.WithTransport(&http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   cfg.RequestTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   cfg.RequestTimeout,
			ExpectContinueTimeout: time.Second,
		})
		c.SetRequestTimeout(cfg.RequestTimeout)
		if proxyURL != "" {
			if err := c.SetProxy(proxyURL); err != nil {
				return nil, fmt.Errorf("failed to set proxy %s: %w", proxyURL, err)
			}
		}
		t.collectors = append(t.collectors, c)
	}

	return t, nil
}

type profilePayload struct {
	Username       string `json:"username"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
	PostCount      int    `json:"media_count"`
	Biography      string `json:"biography"`
	Location       string `json:"location"`
	ExternalURL    string `json:"external_url"`
	IsVerified     bool   `json:"is_verified"`
	IsPrivate      bool   `json:"is_private"`
	HasActiveStory bool   `json:"has_active_story"`
	RecentPosts    []struct {
		LikeCount    int `json:"like_count"`
		CommentCount int `json:"comment_count"`
	} `json:"recent_posts"`
}

type followersPayload struct {
	Users []struct {
		Username string `json:"username"`
	} `json:"users"`
	NextCursor string `json:"next_cursor"`
}

// Profile fetches GET {base}/users/{username}
func (t *CollyTransport) Profile(ctx context.Context, slot int, username string) (*storage.ProfileSnapshot, error) {
	body, err := t.get(ctx, slot, t.baseURL+"/users/"+url.PathEscape(username))
	if err != nil {
		return nil, err
	}

	var p profilePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: decoding profile %s: %v", ErrTransport, username, err)
	}
	if p.IsPrivate {
		return nil, ErrPrivate
	}

	interactions := make([]int, 0, len(p.RecentPosts))
	for _, post := range p.RecentPosts {
		interactions = append(interactions, post.LikeCount+post.CommentCount)
	}

	name := p.Username
	if name == "" {
		name = username
	}

	return &storage.ProfileSnapshot{
		Username:           name,
		FollowerCount:      p.FollowerCount,
		FollowingCount:     p.FollowingCount,
		PostCount:          p.PostCount,
		Bio:                p.Biography,
		Location:           p.Location,
		ExternalURL:        p.ExternalURL,
		RecentInteractions: interactions,
		HasActiveStory:     p.HasActiveStory,
		IsVerified:         p.IsVerified,
		IsPrivate:          p.IsPrivate,
		ProfileURL:         fmt.Sprintf(t.profileURLFormat, name),
		FetchedAt:          time.Now().UTC(),
	}, nil
}

// Followers fetches GET {base}/users/{username}/followers?cursor=&count=
func (t *CollyTransport) Followers(ctx context.Context, slot int, username, cursor string, count int) (FollowerPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("count", strconv.Itoa(count))

	body, err := t.get(ctx, slot, t.baseURL+"/users/"+url.PathEscape(username)+"/followers?"+q.Encode())
	if err != nil {
		return FollowerPage{}, err
	}

	var p followersPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return FollowerPage{}, fmt.Errorf("%w: decoding followers of %s: %v", ErrTransport, username, err)
	}

	page := FollowerPage{NextCursor: p.NextCursor}
	for _, u := range p.Users {
		page.Usernames = append(page.Usernames, u.Username)
	}
	return page, nil
}

// HashtagUsers fetches GET {base}/tags/{tag}/users?count=, the authors of
// recent posts under a hashtag
func (t *CollyTransport) HashtagUsers(ctx context.Context, slot int, tag string, count int) ([]string, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))

	body, err := t.get(ctx, slot, t.baseURL+"/tags/"+url.PathEscape(tag)+"/users?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var p followersPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: decoding users of #%s: %v", ErrTransport, tag, err)
	}

	users := make([]string, 0, len(p.Users))
	for _, u := range p.Users {
		users = append(users, u.Username)
	}
	return users, nil
}

// VerifyCredentials checks the session token against GET {base}/me.
// Without a token there is nothing to verify.
func (t *CollyTransport) VerifyCredentials(ctx context.Context) error {
	if t.token == "" {
		return nil
	}
	_, err := t.get(ctx, 0, t.baseURL+"/me")
	return err
}

func (t *CollyTransport) get(ctx context.Context, slot int, rawURL string) ([]byte, error) {
	if slot < 0 || slot >= len(t.collectors) {
		return nil, fmt.Errorf("%w: no collector for slot %d", ErrTransport, slot)
	}

	// Clone shares the slot's HTTP backend but not callbacks
	c := t.collectors[slot].Clone()
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true

	var status int
	var body []byte
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})

	hdr := http.Header{}
	hdr.Set("Accept", "application/json")
	if t.token != "" {
		hdr.Set("Authorization", "Bearer "+t.token)
	}

	err := c.Request(http.MethodGet, rawURL, nil, nil, hdr)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil && status == 0 {
		return nil, classifyTransportError(err)
	}
	if err := statusError(status); err != nil {
		return nil, err
	}
	return body, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusForbidden:
		return ErrPrivate
	case status == http.StatusUnavailableForLegalReasons:
		return ErrRestricted
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized:
		return ErrCredentialsRejected
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrTransport, status)
	}
}
