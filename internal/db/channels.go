package db

import "context"

// UpsertChannel inserts or retitles a channel. Channels are owned by the
// videos that reference them; they are upserted, never deleted.
func (q *Queries) UpsertChannel(ctx context.Context, id, title string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO channels (id, title)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (id) DO UPDATE SET
			title = COALESCE(NULLIF(EXCLUDED.title, ''), channels.title)`,
		id, title)
	return err
}
