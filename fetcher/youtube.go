package fetcher

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
	"google.golang.org/api/youtube/v3"
)

// Youtube lists channel uploads through the YouTube Data API.
type Youtube struct {
	Client *youtube.Service
	retry  retry.Controller

	mu      sync.Mutex
	handles map[model.YoutubeChannelID]string
}

func NewYoutube(client *youtube.Service, rc retry.Controller) *Youtube {
	return &Youtube{
		Client:  client,
		retry:   rc,
		handles: map[model.YoutubeChannelID]string{},
	}
}

func (y *Youtube) FetchNewVideos(ctx context.Context, channel model.Channel, since time.Time) ([]model.Video, error) {
	channelID, err := y.resolve(ctx, channel.ID)
	if err != nil {
		return nil, sourceError("youtube", channel.ID, err)
	}

	videos := []model.Video{}
	pageToken := ""
	for {
		response, err := retry.Call(ctx, y.retry, "youtube", func(ctx context.Context) (*youtube.SearchListResponse, error) {
			call := y.Client.Search.
				List([]string{"snippet"}).
				ChannelId(channelID).
				Type("video").
				Order("date").
				MaxResults(50).
				Context(ctx)
			if !since.IsZero() {
				call = call.PublishedAfter(since.UTC().Format(time.RFC3339))
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			return call.Do()
		})
		if err != nil {
			return nil, sourceError("youtube", channel.ID, err)
		}

		for _, item := range response.Items {
			if item.Id == nil || item.Snippet == nil || item.Id.VideoId == "" {
				continue
			}
			// upcoming and live streams have no transcript yet
			if item.Snippet.LiveBroadcastContent == "upcoming" || item.Snippet.LiveBroadcastContent == "live" {
				continue
			}
			publishedAt, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
			if err != nil || !publishedAt.After(since) {
				continue
			}
			name := channel.Name
			if name == "" {
				name = item.Snippet.ChannelTitle
			}
			videoID := model.YoutubeVideoID(item.Id.VideoId)
			videos = append(videos, model.Video{
				ID:           videoID,
				ChannelID:    channel.ID,
				ChannelName:  name,
				Title:        html.UnescapeString(item.Snippet.Title),
				PublishedAt:  publishedAt.UTC(),
				ThumbnailURL: thumbnail(videoID, item.Snippet.Thumbnails),
			})
		}

		pageToken = response.NextPageToken
		if pageToken == "" {
			break
		}
	}
	sortOldestFirst(videos)

	return videos, nil
}

// resolve turns a @handle into a channel id. Results are kept for the
// lifetime of the process.
func (y *Youtube) resolve(ctx context.Context, id model.YoutubeChannelID) (string, error) {
	if !strings.HasPrefix(string(id), "@") {
		return string(id), nil
	}

	y.mu.Lock()
	resolved, ok := y.handles[id]
	y.mu.Unlock()
	if ok {
		return resolved, nil
	}

	response, err := retry.Call(ctx, y.retry, "youtube", func(ctx context.Context) (*youtube.ChannelListResponse, error) {
		return y.Client.Channels.
			List([]string{"id"}).
			ForHandle(string(id)).
			Context(ctx).
			Do()
	})
	if err != nil {
		return "", err
	}
	if len(response.Items) == 0 {
		return "", fmt.Errorf("no channel found for handle %s", id)
	}

	y.mu.Lock()
	y.handles[id] = response.Items[0].Id
	y.mu.Unlock()

	return response.Items[0].Id, nil
}

func thumbnail(videoID model.YoutubeVideoID, thumbs *youtube.ThumbnailDetails) string {
	if thumbs != nil {
		for _, t := range []*youtube.Thumbnail{thumbs.Maxres, thumbs.High, thumbs.Medium, thumbs.Default} {
			if t != nil && t.Url != "" {
				return t.Url
			}
		}
	}

	return model.DefaultThumbnail(videoID)
}
