package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"hindsight.systems/hindsight/internal/db"
	"hindsight.systems/hindsight/internal/takeout"
	"hindsight.systems/hindsight/internal/youtube"
)

// fakeDBTX records every statement the queries issue. failOn forces an
// error on the first statement containing that substring.
type fakeDBTX struct {
	calls        []dbCall
	failOn       string
	rowsAffected int64
	nextID       int32
}

type dbCall struct {
	SQL  string
	Args []any
}

func (f *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, dbCall{SQL: sql, Args: args})
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return pgconn.CommandTag{}, errors.New("forced statement failure")
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", f.rowsAffected)), nil
}

func (f *fakeDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query: " + sql)
}

func (f *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.calls = append(f.calls, dbCall{SQL: sql, Args: args})
	f.nextID++
	return fakeRow{id: f.nextID}
}

// matching returns the recorded calls whose SQL contains substr.
func (f *fakeDBTX) matching(substr string) []dbCall {
	var out []dbCall
	for _, c := range f.calls {
		if strings.Contains(c.SQL, substr) {
			out = append(out, c)
		}
	}
	return out
}

type fakeRow struct{ id int32 }

func (r fakeRow) Scan(dest ...any) error {
	if p, ok := dest[0].(*int32); ok {
		*p = r.id
	}
	return nil
}

// fakeTx embeds the pgx.Tx interface for the methods the synchronizer
// never touches and records the commit/rollback outcome.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { t.rolledBack = true; return nil }

type fakeStore struct {
	dbtx *fakeDBTX
	txs  []*fakeTx
}

func (s *fakeStore) Queries(ctx context.Context) *db.Queries { return db.New(s.dbtx) }

func (s *fakeStore) NewWithTX(ctx context.Context) (*db.Queries, pgx.Tx, error) {
	tx := &fakeTx{}
	s.txs = append(s.txs, tx)
	return db.New(s.dbtx), tx, nil
}

func syncTS(day int) time.Time {
	return time.Date(2019, time.May, day, 8, 0, 0, 0, time.UTC)
}

func TestSynchronizer_InsertAll_WritesEveryRowShape(t *testing.T) {
	hist := takeout.NewHistory()
	hist.Add(takeout.Entry{VideoID: takeout.UnknownID, Kind: takeout.KindRemoved, WatchedAt: syncTS(1)})
	hist.Add(takeout.Entry{VideoID: takeout.MusicID, Kind: takeout.KindNonVideo, WatchedAt: syncTS(2)})
	hist.Add(takeout.Entry{VideoID: "fetched", Title: "Export Title", WatchedAt: syncTS(3)})
	hist.Add(takeout.Entry{VideoID: "gone", Title: "Gone Title", WatchedAt: syncTS(4)})
	hist.Add(takeout.Entry{VideoID: "skipped", Title: "Skipped Title", WatchedAt: syncTS(5)})

	// "fetched" came back from the API, "gone" was reported missing and
	// "skipped" sat in a failed batch, so it is neither.
	fetched := &youtube.FetchResult{
		Videos: []youtube.Video{{
			ID: "fetched", Title: "API Title",
			ChannelID: "UCapi", ChannelTitle: "API Channel",
			Tags: []string{"music"}, RelevantTopicIDs: []string{"/m/topic"},
		}},
		Missing: []string{"gone"},
	}

	store := &fakeStore{dbtx: &fakeDBTX{}}
	s := &Synchronizer{dbc: store, BatchSize: 2}

	var percents []float64
	require.NoError(t, s.InsertAll(context.Background(), hist, fetched, func(p float64) {
		percents = append(percents, p)
	}))

	// Bucket placeholders plus the two unfetched videos get bare rows.
	bare := store.dbtx.matching("INSERT INTO videos (id, title, active)")
	active := map[string]bool{}
	titles := map[string]string{}
	for _, c := range bare {
		active[c.Args[0].(string)] = c.Args[2].(bool)
		titles[c.Args[0].(string)] = c.Args[1].(string)
	}
	require.Equal(t, map[string]bool{
		takeout.UnknownID: false,
		takeout.MusicID:   false,
		"gone":            false,
		"skipped":         true,
	}, active)
	require.Equal(t, "Gone Title", titles["gone"])
	require.Equal(t, "Skipped Title", titles["skipped"])

	// Only the id the API reported missing is marked inactive.
	inactive := store.dbtx.matching("SET active = FALSE")
	require.Len(t, inactive, 1)
	require.Equal(t, []string{"gone"}, inactive[0].Args[0])

	// The fetched id gets the full upsert with its channel, tag and topic.
	upserts := store.dbtx.matching("last_checked_at = EXCLUDED.last_checked_at")
	require.Len(t, upserts, 1)
	require.Equal(t, "fetched", upserts[0].Args[0])
	require.Equal(t, "API Title", upserts[0].Args[1])

	channels := store.dbtx.matching("INSERT INTO channels")
	require.Len(t, channels, 1)
	require.Equal(t, "UCapi", channels[0].Args[0])

	require.Len(t, store.dbtx.matching("INSERT INTO videos_tags"), 1)
	require.Len(t, store.dbtx.matching("INSERT INTO videos_topics"), 1)

	// Every id contributed its watch timestamp.
	require.Len(t, store.dbtx.matching("INSERT INTO videos_timestamps"), 5)

	// 5 ids at batch size 2 means three transactions, all committed.
	require.Len(t, store.txs, 3)
	for _, tx := range store.txs {
		require.True(t, tx.committed)
		require.False(t, tx.rolledBack)
	}
	require.InDelta(t, 100.0, percents[len(percents)-1], 0.01)
}

func TestSynchronizer_InsertAll_RollsBackFailedBatch(t *testing.T) {
	hist := takeout.NewHistory()
	hist.Add(takeout.Entry{VideoID: "a", Title: "A", WatchedAt: syncTS(1)})

	store := &fakeStore{dbtx: &fakeDBTX{failOn: "videos_timestamps"}}
	s := &Synchronizer{dbc: store, BatchSize: defaultSyncBatch}

	err := s.InsertAll(context.Background(), hist, &youtube.FetchResult{}, nil)
	require.Error(t, err)

	require.Len(t, store.txs, 1)
	require.True(t, store.txs[0].rolledBack)
	require.False(t, store.txs[0].committed)
}

func TestSynchronizer_RefreshAll_UpdatesAndMarksInactive(t *testing.T) {
	fetched := &youtube.FetchResult{
		Videos: []youtube.Video{
			{ID: "a", Title: "A"},
			{ID: "b", Title: "B"},
			{ID: "c", Title: "C"},
		},
		Missing: []string{"x", "y"},
	}

	store := &fakeStore{dbtx: &fakeDBTX{rowsAffected: 2}}
	s := &Synchronizer{dbc: store, BatchSize: 2}

	var percents []float64
	newlyInactive, err := s.RefreshAll(context.Background(), fetched, func(p float64) {
		percents = append(percents, p)
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), newlyInactive)

	require.Len(t, store.dbtx.matching("last_checked_at = EXCLUDED.last_checked_at"), 3)

	inactive := store.dbtx.matching("SET active = FALSE")
	require.Len(t, inactive, 1)
	require.Equal(t, []string{"x", "y"}, inactive[0].Args[0])

	// Vanished videos are flipped inactive, never deleted; their rows and
	// timestamps survive a refresh.
	require.Empty(t, store.dbtx.matching("DELETE"))

	require.Len(t, store.txs, 2)
	for _, tx := range store.txs {
		require.True(t, tx.committed)
	}
	require.InDelta(t, 100.0, percents[len(percents)-1], 0.01)
}

func TestSynchronizer_RefreshAll_NothingToDo(t *testing.T) {
	store := &fakeStore{dbtx: &fakeDBTX{}}
	s := &Synchronizer{dbc: store, BatchSize: 2}

	newlyInactive, err := s.RefreshAll(context.Background(), &youtube.FetchResult{}, nil)
	require.NoError(t, err)
	require.Zero(t, newlyInactive)
	require.Empty(t, store.dbtx.calls)
}

func TestUpsertFetched_FillsHolesFromExportRecord(t *testing.T) {
	dbtx := &fakeDBTX{}
	q := db.New(dbtx)

	// The API returned the row but with empty title and channel; the
	// export record supplies both.
	v := youtube.Video{ID: "v1"}
	rec := &takeout.Record{
		Title:        "Export Title",
		ChannelID:    "UCexport",
		ChannelTitle: "Export Channel",
	}
	require.NoError(t, upsertFetched(context.Background(), q, v, rec))

	channels := dbtx.matching("INSERT INTO channels")
	require.Len(t, channels, 1)
	require.Equal(t, "UCexport", channels[0].Args[0])
	require.Equal(t, "Export Channel", channels[0].Args[1])

	upserts := dbtx.matching("last_checked_at = EXCLUDED.last_checked_at")
	require.Len(t, upserts, 1)
	require.Equal(t, "Export Title", upserts[0].Args[1])
	require.Equal(t, "UCexport", *(upserts[0].Args[2].(*string)))
}

func TestUpsertFetched_APIMetadataWins(t *testing.T) {
	dbtx := &fakeDBTX{}
	q := db.New(dbtx)

	v := youtube.Video{ID: "v1", Title: "API Title", ChannelID: "UCapi", ChannelTitle: "API Channel"}
	rec := &takeout.Record{Title: "Export Title", ChannelID: "UCexport", ChannelTitle: "Export Channel"}
	require.NoError(t, upsertFetched(context.Background(), q, v, rec))

	channels := dbtx.matching("INSERT INTO channels")
	require.Len(t, channels, 1)
	require.Equal(t, "UCapi", channels[0].Args[0])

	upserts := dbtx.matching("last_checked_at = EXCLUDED.last_checked_at")
	require.Equal(t, "API Title", upserts[0].Args[1])
}

func TestSynchronizer_Batches(t *testing.T) {
	s := &Synchronizer{BatchSize: 2}

	var got [][]string
	for batch := range s.batches([]string{"a", "b", "c", "d", "e"}) {
		got = append(got, batch)
	}

	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, got)
}

func TestSynchronizer_BatchesEmpty(t *testing.T) {
	s := &Synchronizer{BatchSize: 2}
	for range s.batches(nil) {
		t.Fatal("no batches expected")
	}
}

func TestSynchronizer_VideoBatches(t *testing.T) {
	s := &Synchronizer{BatchSize: 3}
	videos := []youtube.Video{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	var sizes []int
	for batch := range s.videoBatches(videos) {
		sizes = append(sizes, len(batch))
	}

	require.Equal(t, []int{3, 1}, sizes)
}

func TestSynchronizer_BatchSizeFallback(t *testing.T) {
	s := &Synchronizer{}
	require.Equal(t, defaultSyncBatch, s.batchSize())
}
