package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ewintr.nl/tubedigest/model"
	"github.com/google/uuid"
)

type dialect int

const (
	sqlite dialect = iota
	postgres
)

// SQL keeps all pipeline state in one database: channel watermarks, the
// transcript cache, failure counts, deliveries and the run log.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

func (s *SQL) migrate(wanted []string) error {
	query := `CREATE TABLE IF NOT EXISTS migration
("id" INTEGER PRIMARY KEY AUTOINCREMENT, "query" TEXT)`
	if s.dialect == postgres {
		query = `CREATE TABLE IF NOT EXISTS migration
("id" SERIAL PRIMARY KEY, "query" TEXT)`
	}
	if _, err := s.db.Exec(query); err != nil {
		return err
	}

	// find existing
	rows, err := s.db.Query(`SELECT query FROM migration ORDER BY id`)
	if err != nil {
		return err
	}

	existing := []string{}
	for rows.Next() {
		var query string
		if err := rows.Scan(&query); err != nil {
			rows.Close()
			return err
		}
		existing = append(existing, query)
	}
	rows.Close()

	// compare
	missing, err := compareMigrations(wanted, existing)
	if err != nil {
		return err
	}

	// execute missing
	for _, query := range missing {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}

		// register
		if _, err := s.db.Exec(s.rebind(`
INSERT INTO migration
(query) VALUES (?)
`), query); err != nil {
			return err
		}
	}

	return nil
}

func compareMigrations(wanted, existing []string) ([]string, error) {
	needed := []string{}
	if len(wanted) < len(existing) {
		return []string{}, fmt.Errorf("not enough migrations")
	}

	for i, want := range wanted {
		switch {
		case i >= len(existing):
			needed = append(needed, want)
		case want == existing[i]:
			// do nothing
		case want != existing[i]:
			return []string{}, fmt.Errorf("incompatible migration: %v", want)
		}
	}

	return needed, nil
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func timeUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (s *SQL) Watermark(ctx context.Context, channelID model.YoutubeChannelID) (time.Time, error) {
	var sec int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT watermark FROM channel WHERE id = ?`), string(channelID)).Scan(&sec)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, nil
	case err != nil:
		return time.Time{}, fmt.Errorf("reading watermark of %s: %w", channelID, err)
	}

	return unixTime(sec), nil
}

func (s *SQL) SaveWatermark(ctx context.Context, channel model.Channel) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO channel (id, name, watermark, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
name = excluded.name,
watermark = excluded.watermark,
updated_at = excluded.updated_at`),
		string(channel.ID), channel.Name, timeUnix(channel.Watermark), time.Now().Unix()); err != nil {
		return fmt.Errorf("saving watermark of %s: %w", channel.ID, err)
	}

	return nil
}

func (s *SQL) Channels(ctx context.Context) ([]model.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, watermark FROM channel ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer rows.Close()

	channels := []model.Channel{}
	for rows.Next() {
		var (
			id, name string
			sec      int64
		)
		if err := rows.Scan(&id, &name, &sec); err != nil {
			return nil, err
		}
		channels = append(channels, model.Channel{
			ID:        model.YoutubeChannelID(id),
			Name:      name,
			Watermark: unixTime(sec),
		})
	}

	return channels, rows.Err()
}

func (s *SQL) Get(ctx context.Context, videoID model.YoutubeVideoID) (model.Transcript, error) {
	var (
		text, source string
		acquired     int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT text, source, acquired_at FROM transcript WHERE video_id = ?`), string(videoID)).Scan(&text, &source, &acquired)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.Transcript{}, model.ErrNotFound
	case err != nil:
		return model.Transcript{}, fmt.Errorf("reading transcript %s: %w", videoID, err)
	}

	return model.Transcript{
		VideoID:    videoID,
		Text:       text,
		Source:     model.TranscriptSource(source),
		AcquiredAt: unixTime(acquired),
	}, nil
}

func (s *SQL) Put(ctx context.Context, transcript model.Transcript) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO transcript (video_id, text, source, acquired_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (video_id) DO UPDATE SET
text = excluded.text,
source = excluded.source,
acquired_at = excluded.acquired_at`),
		string(transcript.VideoID), transcript.Text, string(transcript.Source), timeUnix(transcript.AcquiredAt)); err != nil {
		return fmt.Errorf("saving transcript %s: %w", transcript.VideoID, err)
	}

	return nil
}

func (s *SQL) Clear(ctx context.Context, videoIDs ...model.YoutubeVideoID) (int64, error) {
	if len(videoIDs) == 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM transcript`)
		if err != nil {
			return 0, fmt.Errorf("clearing transcripts: %w", err)
		}
		return res.RowsAffected()
	}

	var total int64
	for _, id := range videoIDs {
		res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM transcript WHERE video_id = ?`), string(id))
		if err != nil {
			return total, fmt.Errorf("clearing transcript %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}

	return total, nil
}

func (s *SQL) RecordFailure(ctx context.Context, video model.Video, reason string) (int, error) {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO video_failure (video_id, channel_id, failures, last_error, updated_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT (video_id) DO UPDATE SET
failures = video_failure.failures + 1,
last_error = excluded.last_error,
updated_at = excluded.updated_at`),
		string(video.ID), string(video.ChannelID), reason, time.Now().Unix()); err != nil {
		return 0, fmt.Errorf("recording failure of %s: %w", video.ID, err)
	}

	return s.Failures(ctx, video.ID)
}

func (s *SQL) Failures(ctx context.Context, videoID model.YoutubeVideoID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT failures FROM video_failure WHERE video_id = ?`), string(videoID)).Scan(&n)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("reading failures of %s: %w", videoID, err)
	}

	return n, nil
}

func (s *SQL) ClearFailure(ctx context.Context, videoID model.YoutubeVideoID) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM video_failure WHERE video_id = ?`), string(videoID)); err != nil {
		return fmt.Errorf("clearing failures of %s: %w", videoID, err)
	}

	return nil
}

func (s *SQL) Delivered(ctx context.Context, videoID model.YoutubeVideoID) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM delivery WHERE video_id = ?`), string(videoID)).Scan(&n); err != nil {
		return false, fmt.Errorf("reading delivery of %s: %w", videoID, err)
	}

	return n > 0, nil
}

func (s *SQL) RecordDelivery(ctx context.Context, runID uuid.UUID, videos []model.Video) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, v := range videos {
		if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO delivery (video_id, channel_id, run_id, delivered_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (video_id) DO NOTHING`),
			string(v.ID), string(v.ChannelID), runID.String(), now); err != nil {
			return fmt.Errorf("recording delivery of %s: %w", v.ID, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM video_failure WHERE video_id = ?`), string(v.ID)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQL) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO run (id, started_at, status)
VALUES (?, ?, ?)`),
		runID.String(), startedAt.Unix(), string(RunStatusRunning)); err != nil {
		return fmt.Errorf("starting run %s: %w", runID, err)
	}

	return nil
}

func (s *SQL) FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, entries int) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE run SET finished_at = ?, status = ?, entries = ?
WHERE id = ?`),
		finishedAt.Unix(), string(status), entries, runID.String()); err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}

	return nil
}
