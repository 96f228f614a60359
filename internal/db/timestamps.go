package db

import (
	"context"
	"time"
)

// InsertTimestamp records one watch event. Duplicate (video_id,
// watched_at) pairs are ignored, which makes re-ingesting the same export
// safe.
func (q *Queries) InsertTimestamp(ctx context.Context, videoID string, watchedAt time.Time) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO videos_timestamps (video_id, watched_at)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		videoID, watchedAt)
	return err
}

func (q *Queries) CountTimestamps(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM videos_timestamps`).Scan(&n)
	return n, err
}
