package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

const youtubeFeedURL = "https://www.youtube.com/feeds/videos.xml"

// RSS reads the public uploads feed of a channel. It needs no API key, but
// the feed only holds the latest fifteen uploads.
type RSS struct {
	FeedURL string
	parser  *gofeed.Parser
	retry   retry.Controller
}

func NewRSS(rc retry.Controller) *RSS {
	return &RSS{
		FeedURL: youtubeFeedURL,
		parser:  gofeed.NewParser(),
		retry:   rc,
	}
}

func (r *RSS) FetchNewVideos(ctx context.Context, channel model.Channel, since time.Time) ([]model.Video, error) {
	if strings.HasPrefix(string(channel.ID), "@") {
		return nil, sourceError("rss", channel.ID, errors.New("feeds need a channel id, not a handle"))
	}

	feedURL := fmt.Sprintf("%s?channel_id=%s", r.FeedURL, url.QueryEscape(string(channel.ID)))
	feed, err := retry.Call(ctx, r.retry, "rss", func(ctx context.Context) (*gofeed.Feed, error) {
		feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &retry.StatusError{Code: httpErr.StatusCode, Body: httpErr.Status}
		}
		return feed, err
	})
	if err != nil {
		return nil, sourceError("rss", channel.ID, err)
	}

	videos := []model.Video{}
	for _, item := range feed.Items {
		videoID := feedVideoID(item)
		if videoID == "" || item.PublishedParsed == nil {
			continue
		}
		if !item.PublishedParsed.After(since) {
			continue
		}
		name := channel.Name
		if name == "" {
			name = feed.Title
		}
		videos = append(videos, model.Video{
			ID:           videoID,
			ChannelID:    channel.ID,
			ChannelName:  name,
			Title:        item.Title,
			PublishedAt:  item.PublishedParsed.UTC(),
			ThumbnailURL: feedThumbnail(videoID, item),
		})
	}
	sortOldestFirst(videos)

	return videos, nil
}

func feedVideoID(item *gofeed.Item) model.YoutubeVideoID {
	if id := extensionValue(item.Extensions, "yt", "videoId"); id != "" {
		return model.YoutubeVideoID(id)
	}
	if strings.HasPrefix(item.GUID, "yt:video:") {
		return model.YoutubeVideoID(strings.TrimPrefix(item.GUID, "yt:video:"))
	}
	if u, err := url.Parse(item.Link); err == nil {
		return model.YoutubeVideoID(u.Query().Get("v"))
	}

	return ""
}

func feedThumbnail(videoID model.YoutubeVideoID, item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if groups, ok := item.Extensions["media"]["group"]; ok && len(groups) > 0 {
		if thumbs := groups[0].Children["thumbnail"]; len(thumbs) > 0 && thumbs[0].Attrs["url"] != "" {
			return thumbs[0].Attrs["url"]
		}
	}

	return model.DefaultThumbnail(videoID)
}

func extensionValue(extensions ext.Extensions, namespace, name string) string {
	values := extensions[namespace][name]
	if len(values) == 0 {
		return ""
	}

	return strings.TrimSpace(values[0].Value)
}
