package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
	"golang.org/x/exp/slog"
)

const DefaultMaxTranscriptChars = 60000

// Summarizer tries its providers in order until one returns a summary that
// satisfies the constraints. A Summarizer remembers its results, so it
// should live no longer than a single run.
type Summarizer struct {
	providers   []Provider
	constraints Constraints
	maxChars    int
	retry       retry.Controller
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.Mutex
	memo map[model.YoutubeVideoID]model.Summary
}

func NewSummarizer(providers []Provider, constraints Constraints, maxChars int, rc retry.Controller, logger *slog.Logger) *Summarizer {
	if constraints.MaxKeyPoints < 1 {
		constraints.MaxKeyPoints = DefaultConstraints().MaxKeyPoints
	}
	if constraints.TargetWords < 1 {
		constraints.TargetWords = DefaultConstraints().TargetWords
	}
	if maxChars < 1 {
		maxChars = DefaultMaxTranscriptChars
	}

	return &Summarizer{
		providers:   providers,
		constraints: constraints,
		maxChars:    maxChars,
		retry:       rc,
		logger:      logger.With(slog.String("component", "summarizer")),
		now:         time.Now,
		memo:        map[model.YoutubeVideoID]model.Summary{},
	}
}

func (s *Summarizer) Summarize(ctx context.Context, video model.Video, transcript string) (model.Summary, error) {
	s.mu.Lock()
	summary, ok := s.memo[video.ID]
	s.mu.Unlock()
	if ok {
		return summary, nil
	}

	text := fmt.Sprintf("Title: %s\n\nTranscript:\n%s", video.Title, truncate(transcript, s.maxChars))
	var errs []error
	for _, provider := range s.providers {
		out, err := retry.Call(ctx, s.retry, provider.Name(), func(ctx context.Context) (summaryResponse, error) {
			synopsis, points, err := provider.GenerateSummary(ctx, text, s.constraints)
			return summaryResponse{Synopsis: synopsis, KeyPoints: points}, err
		})
		var (
			synopsis string
			points   []string
		)
		if err == nil {
			synopsis, points, err = validate(out.Synopsis, out.KeyPoints, s.constraints.MaxKeyPoints)
		}
		if err != nil {
			s.logger.Warn("provider could not summarize video", slog.String("video", string(video.ID)), slog.String("provider", provider.Name()), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		summary := model.Summary{
			VideoID:     video.ID,
			Synopsis:    synopsis,
			KeyPoints:   points,
			Provider:    provider.Name(),
			GeneratedAt: s.now().UTC(),
		}
		s.mu.Lock()
		s.memo[video.ID] = summary
		s.mu.Unlock()

		return summary, nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no providers configured"))
	}

	return model.Summary{}, fmt.Errorf("%w: %s: %w", model.ErrSummarizationFailed, video.ID, errors.Join(errs...))
}

// validate trims the provider output to the contract: a synopsis and one up
// to max non empty key points, in the order given.
func validate(synopsis string, points []string, max int) (string, []string, error) {
	synopsis = strings.TrimSpace(synopsis)
	if synopsis == "" {
		return "", nil, errors.New("malformed response: empty synopsis")
	}
	kept := make([]string, 0, len(points))
	for _, p := range points {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kept = append(kept, p)
		if len(kept) == max {
			break
		}
	}
	if len(kept) == 0 {
		return "", nil, errors.New("malformed response: no key points")
	}

	return synopsis, kept, nil
}

// truncate cuts text to at most max bytes, on a word boundary when there is
// one.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	short := text[:cut]
	if i := strings.LastIndexAny(short, " \n\t"); i > 0 {
		short = short[:i]
	}

	return short
}
