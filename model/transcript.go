package model

import "time"

type TranscriptSource string

const (
	TranscriptSourceCaption   TranscriptSource = "caption"
	TranscriptSourceGenerated TranscriptSource = "generated"
)

type Transcript struct {
	VideoID    YoutubeVideoID
	Text       string
	AcquiredAt time.Time
	Source     TranscriptSource
}
