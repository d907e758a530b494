package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ewintr.nl/tubedigest/model"
	"github.com/redis/go-redis/v9"
)

const transcriptKeyPrefix = "tubedigest:transcript:"

// Redis is a TranscriptCache for setups that share transcripts between
// machines. Keys never expire.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}

	return NewRedisWithClient(client), nil
}

func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisTranscript struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	AcquiredAt int64  `json:"acquired_at"`
}

func (r *Redis) Get(ctx context.Context, videoID model.YoutubeVideoID) (model.Transcript, error) {
	data, err := r.client.Get(ctx, transcriptKeyPrefix+string(videoID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return model.Transcript{}, model.ErrNotFound
	case err != nil:
		return model.Transcript{}, fmt.Errorf("reading transcript %s: %w", videoID, err)
	}

	var rt redisTranscript
	if err := json.Unmarshal(data, &rt); err != nil {
		return model.Transcript{}, fmt.Errorf("decoding transcript %s: %w", videoID, err)
	}

	return model.Transcript{
		VideoID:    videoID,
		Text:       rt.Text,
		Source:     model.TranscriptSource(rt.Source),
		AcquiredAt: unixTime(rt.AcquiredAt),
	}, nil
}

func (r *Redis) Put(ctx context.Context, transcript model.Transcript) error {
	data, err := json.Marshal(redisTranscript{
		Text:       transcript.Text,
		Source:     string(transcript.Source),
		AcquiredAt: timeUnix(transcript.AcquiredAt),
	})
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, transcriptKeyPrefix+string(transcript.VideoID), data, 0).Err(); err != nil {
		return fmt.Errorf("saving transcript %s: %w", transcript.VideoID, err)
	}

	return nil
}

func (r *Redis) Clear(ctx context.Context, videoIDs ...model.YoutubeVideoID) (int64, error) {
	keys := make([]string, 0, len(videoIDs))
	for _, id := range videoIDs {
		keys = append(keys, transcriptKeyPrefix+string(id))
	}
	if len(keys) == 0 {
		iter := r.client.Scan(ctx, 0, transcriptKeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return 0, fmt.Errorf("scanning transcripts: %w", err)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("clearing transcripts: %w", err)
	}

	return n, nil
}
