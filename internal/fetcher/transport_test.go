package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/users/carol", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"username":         "carol",
			"follower_count":   500,
			"following_count":  120,
			"media_count":      20,
			"biography":        "Coffee lover",
			"location":         "Austin, Texas",
			"external_url":     "https://example.com",
			"has_active_story": true,
			"recent_posts": []map[string]int{
				{"like_count": 10, "comment_count": 5},
				{"like_count": 12, "comment_count": 3},
			},
		})
	})
	mux.HandleFunc("/users/hidden", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"username": "hidden", "is_private": true})
	})
	mux.HandleFunc("/users/alice/followers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("count"))
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"users":       []map[string]string{{"username": "bob"}, {"username": "carol"}},
				"next_cursor": "p2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"users": []map[string]string{{"username": "dave"}},
		})
	})
	mux.HandleFunc("/tags/coffee/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("count"))
		json.NewEncoder(w).Encode(map[string]any{
			"users": []map[string]string{{"username": "alice"}, {"username": "bob"}},
		})
	})
	mux.HandleFunc("/users/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"username":"operator"}`))
	})

	statuses := map[string]int{
		"/users/ghost":      http.StatusNotFound,
		"/users/locked":     http.StatusForbidden,
		"/users/banned":     http.StatusUnavailableForLegalReasons,
		"/users/throttled":  http.StatusTooManyRequests,
		"/users/broken":     http.StatusBadGateway,
		"/users/unauthentd": http.StatusUnauthorized,
	}
	for path, status := range statuses {
		status := status
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestTransport(t *testing.T, baseURL, token string) *CollyTransport {
	t.Helper()
	tr, err := NewCollyTransport(TransportConfig{
		BaseURL:          baseURL,
		ProfileURLFormat: "https://social.example/%s/",
		SessionToken:     token,
		RequestTimeout:   100 * time.Millisecond,
	})
	require.NoError(t, err)
	return tr
}

func TestCollyTransportProfile(t *testing.T) {
	srv := newAPIServer(t)
	tr := newTestTransport(t, srv.URL, "tok")

	snap, err := tr.Profile(context.Background(), 0, "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", snap.Username)
	assert.Equal(t, 500, snap.FollowerCount)
	assert.Equal(t, 120, snap.FollowingCount)
	assert.Equal(t, 20, snap.PostCount)
	assert.Equal(t, "Austin, Texas", snap.Location)
	assert.True(t, snap.HasActiveStory)
	assert.Equal(t, []int{15, 15}, snap.RecentInteractions)
	assert.Equal(t, "https://social.example/carol/", snap.ProfileURL)
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestCollyTransportStatusMapping(t *testing.T) {
	srv := newAPIServer(t)
	tr := newTestTransport(t, srv.URL, "tok")

	tests := []struct {
		username string
		want     error
	}{
		{"ghost", ErrNotFound},
		{"locked", ErrPrivate},
		{"hidden", ErrPrivate},
		{"banned", ErrRestricted},
		{"throttled", ErrRateLimited},
		{"broken", ErrTransport},
		{"unauthentd", ErrCredentialsRejected},
		{"slow", ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			_, err := tr.Profile(context.Background(), 0, tt.username)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCollyTransportFollowersPaginate(t *testing.T) {
	srv := newAPIServer(t)
	tr := newTestTransport(t, srv.URL, "")

	page, err := tr.Followers(context.Background(), 0, "alice", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, page.Usernames)
	assert.Equal(t, "p2", page.NextCursor)

	page, err = tr.Followers(context.Background(), 0, "alice", page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, page.Usernames)
	assert.Empty(t, page.NextCursor)
}

func TestCollyTransportHashtagUsers(t *testing.T) {
	srv := newAPIServer(t)
	tr := newTestTransport(t, srv.URL, "")

	users, err := tr.HashtagUsers(context.Background(), 0, "coffee", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	_, err = tr.HashtagUsers(context.Background(), 0, "unknown", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollyTransportVerifyCredentials(t *testing.T) {
	srv := newAPIServer(t)

	assert.NoError(t, newTestTransport(t, srv.URL, "tok").VerifyCredentials(context.Background()))
	assert.NoError(t, newTestTransport(t, srv.URL, "").VerifyCredentials(context.Background()), "nothing to verify without a token")
	assert.ErrorIs(t, newTestTransport(t, srv.URL, "wrong").VerifyCredentials(context.Background()), ErrCredentialsRejected)
}

func TestCollyTransportUnknownSlot(t *testing.T) {
	tr := newTestTransport(t, "http://127.0.0.1:1", "")
	_, err := tr.Profile(context.Background(), 5, "carol")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestTargetAddress(t *testing.T) {
	addr, err := TargetAddress("https://i.example.com/api/v1")
	require.NoError(t, err)
	assert.Equal(t, "i.example.com:443", addr)

	addr, err = TargetAddress("http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", addr)
}
