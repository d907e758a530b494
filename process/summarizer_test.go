package process

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"ewintr.nl/tubedigest/model"
	"ewintr.nl/tubedigest/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type fakeProvider struct {
	name      string
	synopsis  string
	points    []string
	err       error
	calls     int
	lastText  string
	lastConst Constraints
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) GenerateSummary(_ context.Context, text string, c Constraints) (string, []string, error) {
	f.calls++
	f.lastText = text
	f.lastConst = c
	return f.synopsis, f.points, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

var video = model.Video{ID: "vid", Title: "Title"}

func TestSummarizerPrimary(t *testing.T) {
	primary := &fakeProvider{name: "openai", synopsis: " synopsis ", points: []string{"one", "", " two "}}
	fallback := &fakeProvider{name: "groq", synopsis: "other", points: []string{"x"}}
	s := NewSummarizer([]Provider{primary, fallback}, Constraints{MaxKeyPoints: 5, TargetWords: 100}, 0, retry.Passthrough{}, testLogger())

	summary, err := s.Summarize(context.Background(), video, "the transcript")
	require.NoError(t, err)
	assert.Equal(t, "synopsis", summary.Synopsis)
	assert.Equal(t, []string{"one", "two"}, summary.KeyPoints)
	assert.Equal(t, "openai", summary.Provider)
	assert.Equal(t, video.ID, summary.VideoID)
	assert.Zero(t, fallback.calls)
	assert.Contains(t, primary.lastText, "Title")
	assert.Contains(t, primary.lastText, "the transcript")
	assert.Equal(t, 100, primary.lastConst.TargetWords)
}

func TestSummarizerFallback(t *testing.T) {
	for _, tc := range []struct {
		name    string
		primary *fakeProvider
	}{
		{name: "error", primary: &fakeProvider{name: "openai", err: errors.New("quota")}},
		{name: "empty synopsis", primary: &fakeProvider{name: "openai", synopsis: " ", points: []string{"a"}}},
		{name: "no key points", primary: &fakeProvider{name: "openai", synopsis: "s", points: []string{"", " "}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fallback := &fakeProvider{name: "groq", synopsis: "from groq", points: []string{"a"}}
			s := NewSummarizer([]Provider{tc.primary, fallback}, DefaultConstraints(), 0, retry.Passthrough{}, testLogger())

			summary, err := s.Summarize(context.Background(), video, "text")
			require.NoError(t, err)
			assert.Equal(t, "groq", summary.Provider)
			assert.Equal(t, "from groq", summary.Synopsis)
			assert.Equal(t, 1, tc.primary.calls)
			assert.Equal(t, 1, fallback.calls)
		})
	}
}

func TestSummarizerExhausted(t *testing.T) {
	a := &fakeProvider{name: "openai", err: errors.New("down")}
	b := &fakeProvider{name: "groq", err: errors.New("down too")}
	s := NewSummarizer([]Provider{a, b}, DefaultConstraints(), 0, retry.Passthrough{}, testLogger())

	_, err := s.Summarize(context.Background(), video, "text")
	assert.ErrorIs(t, err, model.ErrSummarizationFailed)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)

	s = NewSummarizer(nil, DefaultConstraints(), 0, retry.Passthrough{}, testLogger())
	_, err = s.Summarize(context.Background(), video, "text")
	assert.ErrorIs(t, err, model.ErrSummarizationFailed)
}

func TestSummarizerTruncatesKeyPoints(t *testing.T) {
	p := &fakeProvider{name: "openai", synopsis: "s", points: []string{"1", "2", "3", "4"}}
	s := NewSummarizer([]Provider{p}, Constraints{MaxKeyPoints: 2, TargetWords: 50}, 0, retry.Passthrough{}, testLogger())

	summary, err := s.Summarize(context.Background(), video, "text")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, summary.KeyPoints)
}

func TestSummarizerMemo(t *testing.T) {
	p := &fakeProvider{name: "openai", synopsis: "s", points: []string{"1"}}
	s := NewSummarizer([]Provider{p}, DefaultConstraints(), 0, retry.Passthrough{}, testLogger())

	first, err := s.Summarize(context.Background(), video, "text")
	require.NoError(t, err)
	second, err := s.Summarize(context.Background(), video, "text")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.calls)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "hello big", truncate("hello big world", 12))
	assert.Equal(t, "abcdef", truncate("abcdefghij", 6))
	got := truncate(strings.Repeat("é", 10), 5)
	assert.Equal(t, "éé", got)
}

func TestParseSummary(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		expErr  bool
	}{
		{name: "plain", content: `{"synopsis": "s", "key_points": ["a", "b"]}`},
		{name: "fenced", content: "```json\n{\"synopsis\": \"s\", \"key_points\": [\"a\", \"b\"]}\n```"},
		{name: "garbage", content: "I cannot do that", expErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			synopsis, points, err := parseSummary(tc.content)
			if tc.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "s", synopsis)
			assert.Equal(t, []string{"a", "b"}, points)
		})
	}
}
