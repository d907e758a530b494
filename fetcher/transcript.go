package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
	"ewintr.nl/tubedigest/storage"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"
)

// Acquirer returns the transcript of a video: from the cache, else from
// the published captions, else generated from the audio track. Fresh
// transcripts are written to the cache before they are returned.
type Acquirer struct {
	cache        storage.TranscriptCache
	captions     CaptionFetcher
	audio        AudioDownloader
	transcribers []Transcriber
	retry        retry.Controller
	logger       *slog.Logger
	inFlight     singleflight.Group
	now          func() time.Time
}

// NewAcquirer builds an Acquirer. captions may be nil to always generate, and
// audio may be nil to disable generation.
func NewAcquirer(cache storage.TranscriptCache, captions CaptionFetcher, audio AudioDownloader, transcribers []Transcriber, rc retry.Controller, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		cache:        cache,
		captions:     captions,
		audio:        audio,
		transcribers: transcribers,
		retry:        rc,
		logger:       logger.With(slog.String("component", "transcripts")),
		now:          time.Now,
	}
}

// GetTranscript is safe for concurrent use. Concurrent requests for the same
// video share a single acquisition.
func (a *Acquirer) GetTranscript(ctx context.Context, video model.Video) (model.Transcript, error) {
	v, err, _ := a.inFlight.Do(string(video.ID), func() (any, error) {
		return a.acquire(ctx, video)
	})
	if err != nil {
		return model.Transcript{}, err
	}

	return v.(model.Transcript), nil
}

func (a *Acquirer) acquire(ctx context.Context, video model.Video) (model.Transcript, error) {
	logger := a.logger.With(slog.String("video", string(video.ID)))

	cached, err := a.cache.Get(ctx, video.ID)
	switch {
	case err == nil:
		logger.Debug("transcript cache hit", slog.String("source", string(cached.Source)))
		return cached, nil
	case !errors.Is(err, model.ErrNotFound):
		logger.Warn("could not read transcript cache", slog.String("error", err.Error()))
	}

	transcript, capErr := a.fromCaptions(ctx, video)
	if capErr != nil {
		if ctx.Err() != nil {
			return model.Transcript{}, ctx.Err()
		}
		logger.Info("no usable captions, generating transcript", slog.String("reason", capErr.Error()))
		var genErr error
		transcript, genErr = a.generate(ctx, video)
		if genErr != nil {
			return model.Transcript{}, fmt.Errorf("%w: %s: %w", model.ErrTranscriptUnavailable, video.ID, errors.Join(capErr, genErr))
		}
	}

	if err := a.cache.Put(ctx, transcript); err != nil {
		logger.Error("could not cache transcript", slog.String("error", err.Error()))
	}
	logger.Info("acquired transcript", slog.String("source", string(transcript.Source)), slog.Int("chars", len(transcript.Text)))

	return transcript, nil
}

func (a *Acquirer) fromCaptions(ctx context.Context, video model.Video) (model.Transcript, error) {
	if a.captions == nil {
		return model.Transcript{}, ErrNoCaptions
	}
	text, err := a.captions.FetchCaptions(ctx, video.ID)
	if err != nil {
		return model.Transcript{}, err
	}
	if strings.TrimSpace(text) == "" {
		return model.Transcript{}, ErrNoCaptions
	}

	return model.Transcript{
		VideoID:    video.ID,
		Text:       text,
		AcquiredAt: a.now().UTC(),
		Source:     model.TranscriptSourceCaption,
	}, nil
}

func (a *Acquirer) generate(ctx context.Context, video model.Video) (model.Transcript, error) {
	if a.audio == nil || len(a.transcribers) == 0 {
		return model.Transcript{}, errors.New("transcript generation is disabled")
	}

	path, err := retry.Call(ctx, a.retry, "youtube-audio", func(ctx context.Context) (string, error) {
		return a.audio.DownloadAudio(ctx, video)
	})
	if err != nil {
		return model.Transcript{}, err
	}
	defer os.Remove(path)

	var errs []error
	for _, tr := range a.transcribers {
		text, err := retry.Call(ctx, a.retry, tr.Name(), func(ctx context.Context) (string, error) {
			return tr.Transcribe(ctx, path)
		})
		if err == nil && strings.TrimSpace(text) != "" {
			return model.Transcript{
				VideoID:    video.ID,
				Text:       strings.TrimSpace(text),
				AcquiredAt: a.now().UTC(),
				Source:     model.TranscriptSourceGenerated,
			}, nil
		}
		if err == nil {
			err = fmt.Errorf("%s returned an empty transcript", tr.Name())
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	return model.Transcript{}, errors.Join(errs...)
}
