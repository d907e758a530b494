package model

import "time"

type Summary struct {
	VideoID     YoutubeVideoID
	Synopsis    string
	KeyPoints   []string
	Provider    string
	GeneratedAt time.Time
}
