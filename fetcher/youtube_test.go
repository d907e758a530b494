package fetcher_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ewintr.nl/tubedigest/fetcher"
	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const searchPage1 = `{
 "nextPageToken": "page2",
 "items": [
  {"id": {"videoId": "new2"}, "snippet": {"publishedAt": "2024-05-03T10:00:00Z", "channelTitle": "Chan", "title": "Tom &amp; Jerry", "liveBroadcastContent": "none",
    "thumbnails": {"high": {"url": "https://i.ytimg.com/vi/new2/hqdefault.jpg"}}}},
  {"id": {"videoId": "live"}, "snippet": {"publishedAt": "2024-05-03T11:00:00Z", "title": "Live now", "liveBroadcastContent": "live"}}
 ]
}`

const searchPage2 = `{
 "items": [
  {"id": {"videoId": "new1"}, "snippet": {"publishedAt": "2024-05-02T10:00:00Z", "channelTitle": "Chan", "title": "First", "liveBroadcastContent": "none"}},
  {"id": {"videoId": "old"}, "snippet": {"publishedAt": "2024-05-01T10:00:00Z", "channelTitle": "Chan", "title": "At watermark", "liveBroadcastContent": "none"}}
 ]
}`

func TestYoutubeFetchNewVideos(t *testing.T) {
	since := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var handleLookups int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/channels"):
			handleLookups++
			assert.Equal(t, "@chan", r.URL.Query().Get("forHandle"))
			fmt.Fprint(w, `{"items": [{"id": "UCchan"}]}`)
		case strings.HasSuffix(r.URL.Path, "/search"):
			q := r.URL.Query()
			assert.Equal(t, "UCchan", q.Get("channelId"))
			assert.Equal(t, "2024-05-01T10:00:00Z", q.Get("publishedAfter"))
			if q.Get("pageToken") == "page2" {
				fmt.Fprint(w, searchPage2)
				return
			}
			fmt.Fprint(w, searchPage1)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc, err := youtube.NewService(context.Background(), option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	yt := fetcher.NewYoutube(svc, retry.Passthrough{})
	channel := model.Channel{ID: "@chan"}

	videos, err := yt.FetchNewVideos(context.Background(), channel, since)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, model.YoutubeVideoID("new1"), videos[0].ID)
	assert.Equal(t, model.DefaultThumbnail("new1"), videos[0].ThumbnailURL)
	assert.Equal(t, model.YoutubeVideoID("new2"), videos[1].ID)
	assert.Equal(t, "Tom & Jerry", videos[1].Title)
	assert.Equal(t, "Chan", videos[1].ChannelName)
	assert.Equal(t, model.YoutubeChannelID("@chan"), videos[1].ChannelID)
	assert.Equal(t, "https://i.ytimg.com/vi/new2/hqdefault.jpg", videos[1].ThumbnailURL)

	_, err = yt.FetchNewVideos(context.Background(), channel, since)
	require.NoError(t, err)
	assert.Equal(t, 1, handleLookups)
}

func TestYoutubeErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		reason string
		exp    error
	}{
		{name: "quota", status: http.StatusForbidden, reason: "quotaExceeded", exp: model.ErrRateLimited},
		{name: "not found", status: http.StatusNotFound, reason: "channelNotFound", exp: model.ErrSourceUnavailable},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprintf(w, `{"error": {"code": %d, "message": "nope", "errors": [{"reason": %q}]}}`, tc.status, tc.reason)
			}))
			defer srv.Close()

			svc, err := youtube.NewService(context.Background(), option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
			require.NoError(t, err)
			yt := fetcher.NewYoutube(svc, retry.Passthrough{})

			_, err = yt.FetchNewVideos(context.Background(), model.Channel{ID: "UCx"}, time.Time{})
			assert.ErrorIs(t, err, tc.exp)
		})
	}
}
