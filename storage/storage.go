package storage

import (
	"context"
	"time"

	"ewintr.nl/tubedigest/model"
	"github.com/google/uuid"
)

type WatermarkStore interface {
	Watermark(ctx context.Context, channelID model.YoutubeChannelID) (time.Time, error)
	SaveWatermark(ctx context.Context, channel model.Channel) error
	Channels(ctx context.Context) ([]model.Channel, error)
}

// TranscriptCache returns model.ErrNotFound from Get on a miss. Without ids,
// Clear removes every entry.
type TranscriptCache interface {
	Get(ctx context.Context, videoID model.YoutubeVideoID) (model.Transcript, error)
	Put(ctx context.Context, transcript model.Transcript) error
	Clear(ctx context.Context, videoIDs ...model.YoutubeVideoID) (int64, error)
}

type FailureLedger interface {
	RecordFailure(ctx context.Context, video model.Video, reason string) (int, error)
	Failures(ctx context.Context, videoID model.YoutubeVideoID) (int, error)
	ClearFailure(ctx context.Context, videoID model.YoutubeVideoID) error
}

type DeliveryLog interface {
	Delivered(ctx context.Context, videoID model.YoutubeVideoID) (bool, error)
	RecordDelivery(ctx context.Context, runID uuid.UUID, videos []model.Video) error
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusNoop      RunStatus = "noop"
	RunStatusDelivered RunStatus = "delivered"
	RunStatusFailed    RunStatus = "failed"
)

type RunLog interface {
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, entries int) error
}

type Archive interface {
	Save(ctx context.Context, entry model.DigestEntry) error
}
