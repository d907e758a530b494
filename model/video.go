package model

import (
	"fmt"
	"time"
)

type YoutubeVideoID string

type Video struct {
	ID           YoutubeVideoID
	ChannelID    YoutubeChannelID
	ChannelName  string
	Title        string
	PublishedAt  time.Time
	ThumbnailURL string
}

func (v Video) URL() string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", v.ID)
}

func DefaultThumbnail(id YoutubeVideoID) string {
	return fmt.Sprintf("https://img.youtube.com/vi/%s/maxresdefault.jpg", id)
}

// VideoResult is the outcome of processing a single video in a run.
type VideoResult struct {
	Video   Video
	Summary *Summary
	Err     error
}

func (r VideoResult) OK() bool {
	return r.Err == nil && r.Summary != nil
}

type DigestEntry struct {
	Video   Video
	Summary Summary
}
