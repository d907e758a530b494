package fetcher_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ewintr.nl/tubedigest/fetcher"
	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type memoryCache struct {
	mu    sync.Mutex
	items map[model.YoutubeVideoID]model.Transcript
	puts  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[model.YoutubeVideoID]model.Transcript{}}
}

func (m *memoryCache) Get(_ context.Context, id model.YoutubeVideoID) (model.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return model.Transcript{}, model.ErrNotFound
	}
	return t, nil
}

func (m *memoryCache) Put(_ context.Context, t model.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[t.VideoID] = t
	m.puts++
	return nil
}

func (m *memoryCache) Clear(_ context.Context, ids ...model.YoutubeVideoID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.items))
	m.items = map[model.YoutubeVideoID]model.Transcript{}
	return n, nil
}

type fakeCaptions struct {
	text  string
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeCaptions) FetchCaptions(_ context.Context, _ model.YoutubeVideoID) (string, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	return f.text, f.err
}

type fakeAudio struct {
	dir   string
	err   error
	calls atomic.Int32
}

func (f *fakeAudio) DownloadAudio(_ context.Context, video model.Video) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(f.dir, string(video.ID)+".m4a")
	return path, os.WriteFile(path, []byte("audio"), 0o644)
}

type fakeTranscriber struct {
	name  string
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeTranscriber) Name() string { return f.name }

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (string, error) {
	f.calls.Add(1)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return f.text, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

var testVideo = model.Video{ID: "abc123", ChannelID: "UC1", Title: "A video"}

func TestAcquirerCaptions(t *testing.T) {
	cache := newMemoryCache()
	captions := &fakeCaptions{text: "hello world"}
	acq := fetcher.NewAcquirer(cache, captions, nil, nil, retry.Passthrough{}, testLogger())

	first, err := acq.GetTranscript(context.Background(), testVideo)
	require.NoError(t, err)
	assert.Equal(t, "hello world", first.Text)
	assert.Equal(t, model.TranscriptSourceCaption, first.Source)
	assert.Equal(t, testVideo.ID, first.VideoID)

	second, err := acq.GetTranscript(context.Background(), testVideo)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), captions.calls.Load())
	assert.Equal(t, 1, cache.puts)
}

func TestAcquirerCacheHit(t *testing.T) {
	cache := newMemoryCache()
	cached := model.Transcript{VideoID: testVideo.ID, Text: "cached", Source: model.TranscriptSourceGenerated}
	require.NoError(t, cache.Put(context.Background(), cached))
	captions := &fakeCaptions{text: "fresh"}
	acq := fetcher.NewAcquirer(cache, captions, nil, nil, retry.Passthrough{}, testLogger())

	got, err := acq.GetTranscript(context.Background(), testVideo)
	require.NoError(t, err)
	assert.Equal(t, cached, got)
	assert.Zero(t, captions.calls.Load())
}

func TestAcquirerGenerates(t *testing.T) {
	dir := t.TempDir()
	cache := newMemoryCache()
	captions := &fakeCaptions{err: fetcher.ErrNoCaptions}
	audio := &fakeAudio{dir: dir}
	failing := &fakeTranscriber{name: "groq", err: errors.New("boom")}
	working := &fakeTranscriber{name: "openai", text: "  spoken words "}
	acq := fetcher.NewAcquirer(cache, captions, audio, []fetcher.Transcriber{failing, working}, retry.Passthrough{}, testLogger())

	got, err := acq.GetTranscript(context.Background(), testVideo)
	require.NoError(t, err)
	assert.Equal(t, "spoken words", got.Text)
	assert.Equal(t, model.TranscriptSourceGenerated, got.Source)
	assert.Equal(t, int32(1), failing.calls.Load())
	assert.Equal(t, int32(1), working.calls.Load())

	_, err = os.Stat(filepath.Join(dir, "abc123.m4a"))
	assert.True(t, os.IsNotExist(err), "audio file should be removed")
}

func TestAcquirerUnavailable(t *testing.T) {
	for _, tc := range []struct {
		name  string
		audio fetcher.AudioDownloader
		tr    []fetcher.Transcriber
	}{
		{name: "generation disabled"},
		{
			name:  "download fails",
			audio: &fakeAudio{err: errors.New("yt-dlp missing")},
			tr:    []fetcher.Transcriber{&fakeTranscriber{name: "openai", text: "x"}},
		},
		{
			name:  "transcription empty",
			audio: &fakeAudio{dir: t.TempDir()},
			tr:    []fetcher.Transcriber{&fakeTranscriber{name: "openai", text: " "}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cache := newMemoryCache()
			acq := fetcher.NewAcquirer(cache, &fakeCaptions{err: fetcher.ErrNoCaptions}, tc.audio, tc.tr, retry.Passthrough{}, testLogger())

			_, err := acq.GetTranscript(context.Background(), testVideo)
			assert.ErrorIs(t, err, model.ErrTranscriptUnavailable)
			assert.Zero(t, cache.puts)
		})
	}
}

func TestAcquirerConcurrent(t *testing.T) {
	cache := newMemoryCache()
	captions := &fakeCaptions{text: "shared", delay: 50 * time.Millisecond}
	acq := fetcher.NewAcquirer(cache, captions, nil, nil, retry.Passthrough{}, testLogger())

	var wg sync.WaitGroup
	results := make([]model.Transcript, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr, err := acq.GetTranscript(context.Background(), testVideo)
			assert.NoError(t, err)
			results[i] = tr
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), captions.calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r.Text)
	}
}
