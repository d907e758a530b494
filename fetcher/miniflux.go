package fetcher

import (
	"context"
	"strings"
	"time"

	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
	"miniflux.app/client"
)

type MinifluxInfo struct {
	Endpoint string
	ApiKey   string
}

// Miniflux reads videos from a Miniflux instance that is subscribed to the
// channels' YouTube feeds. Channels must be configured by id, since the feed
// urls only carry the channel id.
type Miniflux struct {
	client *client.Client
	retry  retry.Controller
}

func NewMiniflux(mflInfo MinifluxInfo, rc retry.Controller) *Miniflux {
	return &Miniflux{
		client: client.New(mflInfo.Endpoint, mflInfo.ApiKey),
		retry:  rc,
	}
}

func (m *Miniflux) FetchNewVideos(ctx context.Context, channel model.Channel, since time.Time) ([]model.Video, error) {
	filter := &client.Filter{
		Order:     "published_at",
		Direction: "asc",
		Limit:     250,
	}
	if !since.IsZero() {
		filter.After = since.Unix()
	}
	result, err := retry.Call(ctx, m.retry, "miniflux", func(_ context.Context) (*client.EntryResultSet, error) {
		return m.client.Entries(filter)
	})
	if err != nil {
		return nil, sourceError("miniflux", channel.ID, err)
	}

	videos := []model.Video{}
	for _, entry := range result.Entries {
		if entry.Feed == nil || !belongsTo(entry.Feed, channel.ID) {
			continue
		}
		if !entry.Date.After(since) {
			continue
		}
		videoID := model.YoutubeVideoID(strings.TrimPrefix(entry.URL, "https://www.youtube.com/watch?v="))
		name := channel.Name
		if name == "" {
			name = entry.Feed.Title
		}
		videos = append(videos, model.Video{
			ID:           videoID,
			ChannelID:    channel.ID,
			ChannelName:  name,
			Title:        entry.Title,
			PublishedAt:  entry.Date.UTC(),
			ThumbnailURL: model.DefaultThumbnail(videoID),
		})
	}
	sortOldestFirst(videos)

	return videos, nil
}

func belongsTo(feed *client.Feed, channelID model.YoutubeChannelID) bool {
	id := string(channelID)
	return strings.Contains(feed.FeedURL, id) || strings.Contains(feed.SiteURL, id)
}
