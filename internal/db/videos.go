package db

import (
	"context"
	"time"
)

// UpsertVideoParams carries the full metadata shape for one video row.
type UpsertVideoParams struct {
	ID                   string
	Title                string
	ChannelID            *string
	PublishedAt          *time.Time
	ViewCount            int64
	LikeCount            int64
	DislikeCount         int64
	CommentCount         int64
	DurationSeconds      int64
	CategoryID           string
	DefaultAudioLanguage string
	LastCheckedAt        time.Time
}

// UpsertVideo inserts or refreshes a video row in place. Rows are never
// deleted; a vanished video is flipped inactive via MarkVideosInactive.
func (q *Queries) UpsertVideo(ctx context.Context, params UpsertVideoParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO videos (
			id, title, channel_id, published_at, view_count, like_count,
			dislike_count, comment_count, duration, category_id,
			default_audio_language, active, last_checked_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			channel_id = EXCLUDED.channel_id,
			published_at = EXCLUDED.published_at,
			view_count = EXCLUDED.view_count,
			like_count = EXCLUDED.like_count,
			dislike_count = EXCLUDED.dislike_count,
			comment_count = EXCLUDED.comment_count,
			duration = EXCLUDED.duration,
			category_id = EXCLUDED.category_id,
			default_audio_language = EXCLUDED.default_audio_language,
			active = TRUE,
			last_checked_at = EXCLUDED.last_checked_at`,
		params.ID, params.Title, params.ChannelID, params.PublishedAt,
		params.ViewCount, params.LikeCount, params.DislikeCount,
		params.CommentCount, params.DurationSeconds, params.CategoryID,
		params.DefaultAudioLanguage, params.LastCheckedAt)
	return err
}

// InsertBareVideo creates a minimal row for an id the metadata API knows
// nothing about: bucket placeholders and videos reported missing. The
// timestamps foreign key needs the row to exist even without metadata.
func (q *Queries) InsertBareVideo(ctx context.Context, id, title string, active bool) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO videos (id, title, active)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (id) DO NOTHING`,
		id, title, active)
	return err
}

// SelectStaleVideoIDs returns active ids whose metadata is older than
// checkedBefore, i.e. eligible for a refresh pass.
func (q *Queries) SelectStaleVideoIDs(ctx context.Context, checkedBefore time.Time) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id FROM videos
		WHERE active AND (last_checked_at IS NULL OR last_checked_at < $1)
		ORDER BY last_checked_at NULLS FIRST`,
		checkedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkVideosInactive flips active off for ids the external source no
// longer returns. Returns how many rows were newly deactivated.
func (q *Queries) MarkVideosInactive(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE videos SET active = FALSE, last_checked_at = now()
		WHERE active AND id = ANY($1)`,
		ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) CountVideos(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM videos`).Scan(&n)
	return n, err
}
