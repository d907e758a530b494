package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ewintr.nl/tubedigest/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *SQL {
	t.Helper()
	db, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestCompareMigrations(t *testing.T) {
	for _, tc := range []struct {
		name     string
		wanted   []string
		existing []string
		exp      []string
		expErr   bool
	}{
		{name: "empty", wanted: []string{}, existing: []string{}, exp: []string{}},
		{name: "all new", wanted: []string{"a", "b"}, existing: []string{}, exp: []string{"a", "b"}},
		{name: "some new", wanted: []string{"a", "b"}, existing: []string{"a"}, exp: []string{"b"}},
		{name: "up to date", wanted: []string{"a", "b"}, existing: []string{"a", "b"}, exp: []string{}},
		{name: "too few", wanted: []string{"a"}, existing: []string{"a", "b"}, expErr: true},
		{name: "changed", wanted: []string{"a", "c"}, existing: []string{"a", "b"}, expErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			act, err := compareMigrations(tc.wanted, tc.existing)
			if tc.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, act)
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &SQL{dialect: postgres}
	assert.Equal(t, "SELECT a FROM b WHERE c = $1 AND d = $2", pg.rebind("SELECT a FROM b WHERE c = ? AND d = ?"))
	lite := &SQL{dialect: sqlite}
	assert.Equal(t, "SELECT a FROM b WHERE c = ?", lite.rebind("SELECT a FROM b WHERE c = ?"))
}

func TestMigrateTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	db, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestWatermarks(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	wm, err := db.Watermark(ctx, "UC1")
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	t1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.SaveWatermark(ctx, model.Channel{ID: "UC1", Name: "One", Watermark: t1}))
	require.NoError(t, db.SaveWatermark(ctx, model.Channel{ID: "UC2", Name: "Two"}))

	wm, err = db.Watermark(ctx, "UC1")
	require.NoError(t, err)
	assert.True(t, t1.Equal(wm))

	t2 := t1.Add(time.Hour)
	require.NoError(t, db.SaveWatermark(ctx, model.Channel{ID: "UC1", Name: "One", Watermark: t2}))

	channels, err := db.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, model.YoutubeChannelID("UC1"), channels[0].ID)
	assert.True(t, t2.Equal(channels[0].Watermark))
	assert.True(t, channels[1].Watermark.IsZero())
}

func TestTranscripts(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	_, err := db.Get(ctx, "v1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	acquired := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []model.YoutubeVideoID{"v1", "v2", "v3"} {
		require.NoError(t, db.Put(ctx, model.Transcript{
			VideoID:    id,
			Text:       "text of " + string(id),
			Source:     model.TranscriptSourceCaption,
			AcquiredAt: acquired,
		}))
	}

	got, err := db.Get(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, "text of v2", got.Text)
	assert.Equal(t, model.TranscriptSourceCaption, got.Source)
	assert.True(t, acquired.Equal(got.AcquiredAt))

	n, err := db.Clear(ctx, "v1", "unknown")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = db.Get(ctx, "v1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	n, err = db.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFailuresAndDeliveries(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	video := model.Video{ID: "v1", ChannelID: "UC1"}

	n, err := db.RecordFailure(ctx, video, "no captions")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = db.RecordFailure(ctx, video, "still no captions")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	delivered, err := db.Delivered(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, delivered)

	runID := uuid.New()
	require.NoError(t, db.StartRun(ctx, runID, time.Now()))
	require.NoError(t, db.RecordDelivery(ctx, runID, []model.Video{video}))
	require.NoError(t, db.RecordDelivery(ctx, runID, []model.Video{video}))
	require.NoError(t, db.FinishRun(ctx, runID, time.Now(), RunStatusDelivered, 1))

	delivered, err = db.Delivered(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, delivered)

	n, err = db.Failures(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "delivery resets the failure count")
}
