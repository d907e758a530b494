package model

import "time"

type YoutubeChannelID string

// Channel is a configured YouTube channel. Watermark is the publish time of
// the newest video already included in a delivered newsletter; the zero time
// means the channel was never processed.
type Channel struct {
	ID        YoutubeChannelID
	Name      string
	Watermark time.Time
}

func (c Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.ID)
}
