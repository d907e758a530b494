package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"ewintr.nl/tubedigest/model"
	"google.golang.org/api/googleapi"
)

// VideoSource lists the videos a channel published after since, oldest
// first. since is a previous watermark or the zero time.
type VideoSource interface {
	FetchNewVideos(ctx context.Context, channel model.Channel, since time.Time) ([]model.Video, error)
}

func sortOldestFirst(videos []model.Video) {
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].PublishedAt.Before(videos[j].PublishedAt)
	})
}

func sourceError(source string, channelID model.YoutubeChannelID, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: channel %s: %w", source, channelID, err)
	case errors.Is(err, model.ErrRateLimited):
		return fmt.Errorf("%s: channel %s: %w", source, channelID, err)
	case isQuotaExceeded(err):
		return fmt.Errorf("%s: channel %s: %w: %w", source, channelID, model.ErrRateLimited, err)
	default:
		return fmt.Errorf("%s: channel %s: %w: %w", source, channelID, model.ErrSourceUnavailable, err)
	}
}

func isQuotaExceeded(err error) bool {
	var googleErr *googleapi.Error
	if !errors.As(err, &googleErr) {
		return false
	}
	for _, item := range googleErr.Errors {
		if item.Reason == "quotaExceeded" || item.Reason == "dailyLimitExceeded" {
			return true
		}
	}

	return false
}
