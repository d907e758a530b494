package process

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ewintr.nl/tubedigest/fetcher"
	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/storage"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

type TranscriptAcquirer interface {
	GetTranscript(ctx context.Context, video model.Video) (model.Transcript, error)
}

type VideoSummarizer interface {
	Summarize(ctx context.Context, video model.Video, transcript string) (model.Summary, error)
}

// Publisher renders and delivers the digest. An error means the email was
// not delivered.
type Publisher interface {
	Publish(ctx context.Context, date time.Time, entries []model.DigestEntry) error
}

// Store is the persistent state a run reads and updates.
type Store interface {
	storage.WatermarkStore
	storage.FailureLedger
	storage.DeliveryLog
	storage.RunLog
}

type Options struct {
	Concurrency         int
	MaxVideosPerChannel int
	InitialLookback     time.Duration
	RunTimeout          time.Duration
	CallTimeout         time.Duration
	MaxFailedRuns       int
	AlwaysAdvance       bool
}

func DefaultOptions() Options {
	return Options{
		Concurrency:         4,
		MaxVideosPerChannel: 5,
		InitialLookback:     72 * time.Hour,
		RunTimeout:          30 * time.Minute,
		CallTimeout:         5 * time.Minute,
		MaxFailedRuns:       3,
	}
}

// Report describes the outcome of a run.
type Report struct {
	RunID            uuid.UUID
	Channels         int
	FailedChannels   []model.YoutubeChannelID
	NewVideos        int
	AlreadyDelivered int
	Dropped          int
	Summarized       int
	Failed           int
	Unscheduled      int
	Entries          int
	Delivered        bool
	WatermarkUpdates int
}

type Pipeline struct {
	channels    []model.Channel
	source      fetcher.VideoSource
	transcripts TranscriptAcquirer
	summarizer  VideoSummarizer
	publisher   Publisher
	store       Store
	archive     storage.Archive
	opts        Options
	logger      *slog.Logger
	now         func() time.Time
}

// NewPipeline builds a Pipeline. archive may be nil.
func NewPipeline(channels []model.Channel, source fetcher.VideoSource, transcripts TranscriptAcquirer, summarizer VideoSummarizer, publisher Publisher, store Store, archive storage.Archive, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	return &Pipeline{
		channels:    channels,
		source:      source,
		transcripts: transcripts,
		summarizer:  summarizer,
		publisher:   publisher,
		store:       store,
		archive:     archive,
		opts:        opts,
		logger:      logger,
		now:         time.Now,
	}
}

// channelPlan is the state of one channel during a run. done holds the
// videos that no longer block the watermark from an earlier run: delivered or
// dropped. held is the publish time of the first video left for a later run
// because of the per channel limit.
type channelPlan struct {
	channel model.Channel
	err     error
	videos  []model.Video
	done    map[model.YoutubeVideoID]bool
	held    time.Time

	delivered, dropped int

	mu      sync.Mutex
	results map[model.YoutubeVideoID]model.VideoResult
}

func (cp *channelPlan) setResult(r model.VideoResult) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.results[r.Video.ID] = r
}

// watermark walks the videos oldest first and stops at the first one that is
// not done. Sources only return videos published strictly after the
// watermark, so it stays below the publish time of that video, also when
// finished videos share it. It never moves backwards.
func (cp *channelPlan) watermark() time.Time {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	wm := cp.channel.Watermark
	var group time.Time
	for _, v := range cp.videos {
		if !v.PublishedAt.Equal(group) && group.After(wm) {
			wm = group
		}
		if !cp.done[v.ID] && !cp.results[v.ID].OK() {
			return wm
		}
		group = v.PublishedAt
	}
	if !cp.held.IsZero() && !cp.held.After(group) {
		return wm
	}
	if group.After(wm) {
		wm = group
	}

	return wm
}

type job struct {
	plan  *channelPlan
	video model.Video
}

func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	runID := uuid.New()
	logger := p.logger.With(slog.String("run", runID.String()))
	report := Report{RunID: runID, Channels: len(p.channels)}

	if err := p.store.StartRun(ctx, runID, p.now()); err != nil {
		return report, fmt.Errorf("could not start run: %w", err)
	}
	status := storage.RunStatusFailed
	defer func() {
		if err := p.store.FinishRun(context.WithoutCancel(ctx), runID, p.now(), status, report.Entries); err != nil {
			logger.Error("could not finish run", slog.String("error", err.Error()))
		}
	}()

	runCtx := ctx
	if p.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.RunTimeout)
		defer cancel()
	}
	logger.Info("started run", slog.Int("channels", len(p.channels)))

	plans := p.planChannels(runCtx, logger, &report)
	if len(p.channels) > 0 && len(report.FailedChannels) == len(p.channels) {
		return report, fmt.Errorf("all %d channels failed", len(p.channels))
	}

	jobs := []job{}
	for _, plan := range plans {
		if plan.err != nil {
			continue
		}
		for _, v := range plan.videos {
			if !plan.done[v.ID] {
				jobs = append(jobs, job{plan: plan, video: v})
			}
		}
	}
	p.process(ctx, runCtx, logger, jobs, &report)

	results := []model.VideoResult{}
	for _, plan := range plans {
		for _, v := range plan.videos {
			if r, ok := plan.results[v.ID]; ok {
				results = append(results, r)
			}
		}
	}
	entries := Assemble(results)
	report.Entries = len(entries)
	if len(entries) == 0 {
		logger.Info("nothing new to deliver", slog.Int("failed", report.Failed))
		status = storage.RunStatusNoop
		return report, nil
	}

	pubCtx, cancel := p.callContext(ctx)
	defer cancel()
	pubErr := p.publisher.Publish(pubCtx, p.now(), entries)
	if pubErr != nil {
		if !errors.Is(pubErr, model.ErrDeliveryFailed) {
			pubErr = fmt.Errorf("%w: %w", model.ErrDeliveryFailed, pubErr)
		}
		if !p.opts.AlwaysAdvance {
			logger.Error("could not deliver digest, watermarks stay where they are", slog.String("error", pubErr.Error()))
			return report, pubErr
		}
		logger.Error("could not deliver digest, advancing watermarks anyway", slog.String("error", pubErr.Error()))
	} else {
		report.Delivered = true
		status = storage.RunStatusDelivered
		logger.Info("delivered digest", slog.Int("entries", len(entries)))

		delivered := make([]model.Video, 0, len(entries))
		for _, e := range entries {
			delivered = append(delivered, e.Video)
		}
		if err := p.store.RecordDelivery(context.WithoutCancel(ctx), runID, delivered); err != nil {
			logger.Error("could not record delivery", slog.String("error", err.Error()))
		}
	}

	saveErr := p.advanceWatermarks(context.WithoutCancel(ctx), logger, plans, &report)
	if report.Delivered {
		p.archiveEntries(ctx, logger, entries)
	}

	return report, errors.Join(pubErr, saveErr)
}

// planChannels fetches the new videos of every channel and decides which of
// them need work.
func (p *Pipeline) planChannels(ctx context.Context, logger *slog.Logger, report *Report) []*channelPlan {
	plans := make([]*channelPlan, len(p.channels))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, channel := range p.channels {
		i, channel := i, channel
		plans[i] = &channelPlan{
			channel: channel,
			done:    map[model.YoutubeVideoID]bool{},
			results: map[model.YoutubeVideoID]model.VideoResult{},
		}
		g.Go(func() error {
			plans[i].err = p.planChannel(ctx, logger, plans[i])
			return nil
		})
	}
	g.Wait()

	for _, plan := range plans {
		if plan.err != nil {
			logger.Error("skipping channel", slog.String("channel", string(plan.channel.ID)), slog.String("error", plan.err.Error()))
			report.FailedChannels = append(report.FailedChannels, plan.channel.ID)
			continue
		}
		report.NewVideos += len(plan.videos)
		report.AlreadyDelivered += plan.delivered
		report.Dropped += plan.dropped
	}

	return plans
}

func (p *Pipeline) planChannel(ctx context.Context, logger *slog.Logger, plan *channelPlan) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	wm, err := p.store.Watermark(ctx, plan.channel.ID)
	if err != nil {
		return err
	}
	plan.channel.Watermark = wm

	since := wm
	if since.IsZero() {
		since = p.now().Add(-p.opts.InitialLookback)
	}
	videos, err := p.source.FetchNewVideos(ctx, plan.channel, since)
	if err != nil {
		return err
	}
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].PublishedAt.Before(videos[j].PublishedAt)
	})

	todo := 0
	for i, v := range videos {
		delivered, err := p.store.Delivered(ctx, v.ID)
		if err != nil {
			return err
		}
		if delivered {
			logger.Debug("video was delivered before", slog.String("video", string(v.ID)))
			plan.done[v.ID] = true
			plan.delivered++
			continue
		}
		if p.opts.MaxFailedRuns > 0 {
			failures, err := p.store.Failures(ctx, v.ID)
			if err != nil {
				return err
			}
			if failures >= p.opts.MaxFailedRuns {
				logger.Debug("video was dropped before", slog.String("video", string(v.ID)), slog.Int("failures", failures))
				plan.done[v.ID] = true
				plan.dropped++
				continue
			}
		}
		todo++
		if p.opts.MaxVideosPerChannel > 0 && todo > p.opts.MaxVideosPerChannel {
			logger.Info("channel has more new videos than allowed, leaving the rest for later", slog.String("channel", string(plan.channel.ID)), slog.Int("new", len(videos)))
			plan.held = v.PublishedAt
			videos = videos[:i]
			break
		}
	}
	plan.videos = videos
	logger.Info("fetched channel", slog.String("channel", string(plan.channel.ID)), slog.Int("videos", len(videos)))

	return nil
}

// process runs the jobs in a bounded pool. After the run deadline no new
// job is started, jobs in flight finish under their own call timeout.
func (p *Pipeline) process(ctx, runCtx context.Context, logger *slog.Logger, jobs []job, report *Report) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(p.opts.Concurrency)
	for i, j := range jobs {
		if runCtx.Err() != nil {
			logger.Warn("run deadline passed, not starting remaining videos", slog.Int("remaining", len(jobs)-i))
			mu.Lock()
			report.Unscheduled += len(jobs) - i
			mu.Unlock()
			break
		}
		j := j
		g.Go(func() error {
			// the pool slot may only free up after the deadline
			if runCtx.Err() != nil {
				mu.Lock()
				report.Unscheduled++
				mu.Unlock()
				return nil
			}
			result := p.processVideo(ctx, logger, j.video)
			j.plan.setResult(result)
			if result.OK() {
				if err := p.store.ClearFailure(context.WithoutCancel(ctx), j.video.ID); err != nil {
					logger.Error("could not clear failures", slog.String("video", string(j.video.ID)), slog.String("error", err.Error()))
				}
			}

			dropped := false
			if !result.OK() && !errors.Is(result.Err, context.Canceled) {
				dropped = p.recordFailure(ctx, logger, result)
			}
			if dropped {
				j.plan.mu.Lock()
				j.plan.done[j.video.ID] = true
				j.plan.mu.Unlock()
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case result.OK():
				report.Summarized++
			case dropped:
				report.Failed++
				report.Dropped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	g.Wait()
}

func (p *Pipeline) processVideo(ctx context.Context, logger *slog.Logger, video model.Video) model.VideoResult {
	logger = logger.With(slog.String("video", string(video.ID)))
	logger.Info("processing video", slog.String("title", video.Title))

	tCtx, cancel := p.callContext(ctx)
	transcript, err := p.transcripts.GetTranscript(tCtx, video)
	cancel()
	if err != nil {
		logger.Error("failed to get transcript", slog.String("error", err.Error()))
		return model.VideoResult{Video: video, Err: err}
	}

	sCtx, cancel := p.callContext(ctx)
	summary, err := p.summarizer.Summarize(sCtx, video, transcript.Text)
	cancel()
	if err != nil {
		logger.Error("failed to summarize video", slog.String("error", err.Error()))
		return model.VideoResult{Video: video, Err: err}
	}
	logger.Info("summarized video", slog.String("provider", summary.Provider))

	return model.VideoResult{Video: video, Summary: &summary}
}

// recordFailure counts the failed run for the video and reports whether the
// video is now dropped for good.
func (p *Pipeline) recordFailure(ctx context.Context, logger *slog.Logger, result model.VideoResult) bool {
	failures, err := p.store.RecordFailure(context.WithoutCancel(ctx), result.Video, result.Err.Error())
	if err != nil {
		logger.Error("could not record failure", slog.String("video", string(result.Video.ID)), slog.String("error", err.Error()))
		return false
	}
	if p.opts.MaxFailedRuns > 0 && failures >= p.opts.MaxFailedRuns {
		logger.Warn("dropping video after repeated failures", slog.String("video", string(result.Video.ID)), slog.String("title", result.Video.Title), slog.Int("failures", failures))
		return true
	}

	return false
}

func (p *Pipeline) advanceWatermarks(ctx context.Context, logger *slog.Logger, plans []*channelPlan, report *Report) error {
	var errs []error
	for _, plan := range plans {
		if plan.err != nil {
			continue
		}
		channel := plan.channel
		channel.Watermark = plan.watermark()
		if err := p.store.SaveWatermark(ctx, channel); err != nil {
			errs = append(errs, err)
			continue
		}
		report.WatermarkUpdates++
		if channel.Watermark.After(plan.channel.Watermark) {
			logger.Info("advanced watermark", slog.String("channel", string(channel.ID)), slog.Time("watermark", channel.Watermark))
		}
	}

	return errors.Join(errs...)
}

func (p *Pipeline) archiveEntries(ctx context.Context, logger *slog.Logger, entries []model.DigestEntry) {
	if p.archive == nil {
		return
	}
	for _, e := range entries {
		aCtx, cancel := p.callContext(ctx)
		err := p.archive.Save(aCtx, e)
		cancel()
		if err != nil {
			logger.Warn("could not archive entry", slog.String("video", string(e.Video.ID)), slog.String("error", err.Error()))
		}
	}
}

// callContext bounds a single external call. It is detached from the run
// deadline but not from cancellation of the process.
func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, p.opts.CallTimeout)
}
