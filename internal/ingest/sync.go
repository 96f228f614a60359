package ingest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"hindsight.systems/hindsight/internal/db"
	"hindsight.systems/hindsight/internal/takeout"
	"hindsight.systems/hindsight/internal/youtube"
)

// defaultSyncBatch is how many videos go into one transaction. A
// crash or cancellation mid-run loses at most one batch, never a partial
// multi-table write.
const defaultSyncBatch = 50

// store is the slice of the database connection the synchronizer needs,
// narrowed so tests can swap in a recording fake.
type store interface {
	Queries(ctx context.Context) *db.Queries
	NewWithTX(ctx context.Context) (*db.Queries, pgx.Tx, error)
}

// Synchronizer persists merged history and fetched metadata. All storage
// errors are fatal: they abort the run and propagate unmodified.
type Synchronizer struct {
	dbc       store
	BatchSize int
}

func NewSynchronizer(dbc *db.DatabaseConnection) *Synchronizer {
	return &Synchronizer{dbc: dbc, BatchSize: defaultSyncBatch}
}

// InsertAll runs insert mode: upserts channels, videos, tags, topics and
// their associations, and inserts watch timestamps duplicate-safe. Ids
// the API reported missing get bare inactive rows; ids skipped over
// failed batches get bare active rows so a later refresh retries them.
// Cancellation is observed between batches. onProgress may be nil.
func (s *Synchronizer) InsertAll(ctx context.Context, hist *takeout.History, fetched *youtube.FetchResult, onProgress func(percent float64)) error {
	byID := make(map[string]youtube.Video, len(fetched.Videos))
	for _, v := range fetched.Videos {
		byID[v.ID] = v
	}
	missing := make(map[string]struct{}, len(fetched.Missing))
	for _, id := range fetched.Missing {
		missing[id] = struct{}{}
	}

	ids := make([]string, 0, len(hist.Videos))
	for id := range hist.Videos {
		ids = append(ids, id)
	}

	done := 0
	for batch := range s.batches(ids) {
		if err := ctx.Err(); err != nil {
			return err
		}

		q, tx, err := s.dbc.NewWithTX(ctx)
		if err != nil {
			return err
		}
		for _, id := range batch {
			if err := s.insertOne(ctx, q, id, hist.Videos[id], byID, missing); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		done += len(batch)
		if onProgress != nil {
			onProgress(float64(done) / float64(len(ids)) * 100)
		}
	}
	return nil
}

func (s *Synchronizer) insertOne(ctx context.Context, q *db.Queries, id string, rec *takeout.Record, byID map[string]youtube.Video, missing map[string]struct{}) error {
	switch {
	case id == takeout.UnknownID || id == takeout.MusicID:
		// Bucket placeholders exist only so their timestamps have a row
		// to hang off.
		if err := q.InsertBareVideo(ctx, id, id, false); err != nil {
			return err
		}
	default:
		v, fetched := byID[id]
		if !fetched {
			_, gone := missing[id]
			if err := q.InsertBareVideo(ctx, id, rec.Title, !gone); err != nil {
				return err
			}
			if gone {
				if _, err := q.MarkVideosInactive(ctx, []string{id}); err != nil {
					return err
				}
			}
			break
		}
		if err := upsertFetched(ctx, q, v, rec); err != nil {
			return err
		}
	}

	for ts := range rec.Timestamps {
		if err := q.InsertTimestamp(ctx, id, ts); err != nil {
			return err
		}
	}
	return nil
}

// RefreshAll runs refresh mode: updates fetched rows in place and flips
// active off for ids the API no longer returns. Returns the newly
// inactive count.
func (s *Synchronizer) RefreshAll(ctx context.Context, fetched *youtube.FetchResult, onProgress func(percent float64)) (newlyInactive int64, err error) {
	total := len(fetched.Videos) + len(fetched.Missing)
	if total == 0 {
		return 0, nil
	}

	done := 0
	for batch := range s.videoBatches(fetched.Videos) {
		if err := ctx.Err(); err != nil {
			return newlyInactive, err
		}

		q, tx, err := s.dbc.NewWithTX(ctx)
		if err != nil {
			return newlyInactive, err
		}
		for _, v := range batch {
			if err := upsertFetched(ctx, q, v, nil); err != nil {
				_ = tx.Rollback(ctx)
				return newlyInactive, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return newlyInactive, err
		}

		done += len(batch)
		if onProgress != nil {
			onProgress(float64(done) / float64(total) * 100)
		}
	}

	n, err := s.dbc.Queries(ctx).MarkVideosInactive(ctx, fetched.Missing)
	if err != nil {
		return newlyInactive, err
	}
	newlyInactive = n

	if onProgress != nil {
		onProgress(100)
	}
	return newlyInactive, nil
}

// upsertFetched writes one fetched video with its channel, tags and
// topics. rec, when present, fills metadata holes from the export markup.
func upsertFetched(ctx context.Context, q *db.Queries, v youtube.Video, rec *takeout.Record) error {
	channelID := v.ChannelID
	channelTitle := v.ChannelTitle
	if rec != nil {
		if channelID == "" {
			channelID = rec.ChannelID
		}
		if channelTitle == "" {
			channelTitle = rec.ChannelTitle
		}
	}

	params := db.UpsertVideoParams{
		ID:                   v.ID,
		Title:                v.Title,
		ViewCount:            v.ViewCount,
		LikeCount:            v.LikeCount,
		DislikeCount:         v.DislikeCount,
		CommentCount:         v.CommentCount,
		DurationSeconds:      v.DurationSeconds,
		CategoryID:           v.CategoryID,
		DefaultAudioLanguage: v.DefaultAudioLanguage,
		LastCheckedAt:        time.Now().UTC(),
	}
	if params.Title == "" && rec != nil {
		params.Title = rec.Title
	}
	if !v.PublishedAt.IsZero() {
		t := v.PublishedAt
		params.PublishedAt = &t
	}
	if channelID != "" {
		if err := q.UpsertChannel(ctx, channelID, channelTitle); err != nil {
			return err
		}
		params.ChannelID = &channelID
	}

	if err := q.UpsertVideo(ctx, params); err != nil {
		return err
	}
	if err := q.SetVideoTags(ctx, v.ID, v.Tags); err != nil {
		return err
	}
	return q.SetVideoTopics(ctx, v.ID, v.RelevantTopicIDs)
}

func (s *Synchronizer) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return defaultSyncBatch
}

func (s *Synchronizer) batches(ids []string) func(yield func([]string) bool) {
	size := s.batchSize()
	return func(yield func([]string) bool) {
		for len(ids) > 0 {
			n := min(size, len(ids))
			if !yield(ids[:n]) {
				return
			}
			ids = ids[n:]
		}
	}
}

func (s *Synchronizer) videoBatches(videos []youtube.Video) func(yield func([]youtube.Video) bool) {
	size := s.batchSize()
	return func(yield func([]youtube.Video) bool) {
		for len(videos) > 0 {
			n := min(size, len(videos))
			if !yield(videos[:n]) {
				return
			}
			videos = videos[n:]
		}
	}
}
