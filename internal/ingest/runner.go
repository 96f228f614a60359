package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"hindsight.systems/hindsight/internal/db"
	"hindsight.systems/hindsight/internal/takeout"
	"hindsight.systems/hindsight/internal/youtube"
)

// ErrBusy rejects a start request while a worker is alive. The active
// run's state is untouched.
var ErrBusy = errors.New("wait for the current operation to finish")

// DefaultRefreshAfter is the staleness threshold for refresh runs.
const DefaultRefreshAfter = 7 * 24 * time.Hour

// Params configures one ingestion run.
type Params struct {
	// TakeoutPath is the export location. Empty selects refresh mode:
	// re-check stored videos that have gone stale instead of parsing a
	// new export.
	TakeoutPath string

	// APIKeyPath points at the plain-text YouTube API key file.
	APIKeyPath string

	// PruneHTML persists normalized export files back to disk.
	PruneHTML bool

	// RefreshAfter overrides the staleness threshold (default 7 days).
	RefreshAfter time.Duration

	// CallBudget overrides the per-call query-cost budget.
	CallBudget int

	// APIBaseURL overrides the metadata API endpoint (tests).
	APIBaseURL string
}

// Stats is the terminal aggregate emitted on a completed run. Recoverable
// failures surface only here, as counters.
type Stats struct {
	Updated           int   `json:"updated"`
	FailedAPIRequests int   `json:"failed_api_requests"`
	NewlyInactive     int64 `json:"newly_inactive"`
	RecordsInDB       int64 `json:"records_in_db"`
	Timestamps        int64 `json:"timestamps"`
	Inserted          int64 `json:"inserted"`
	AtStart           int64 `json:"at_start"`
}

// Runner is the task controller. One instance exists process-wide; at
// most one worker is alive at a time, enforced by an atomic try-acquire.
type Runner struct {
	dbc    *db.DatabaseConnection
	sync   *Synchronizer
	stream *Stream

	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	stage   string
	percent string

	// work is the pipeline body; swapped out in tests.
	work func(ctx context.Context, runID string, p Params) (*Stats, error)
}

func NewRunner(dbc *db.DatabaseConnection) *Runner {
	r := &Runner{
		dbc:     dbc,
		sync:    NewSynchronizer(dbc),
		stream:  newStream(),
		percent: "0.0",
	}
	r.work = r.pipeline
	return r
}

// Events exposes the progress stream for the single subscriber.
func (r *Runner) Events() *Stream {
	return r.stream
}

// Status reports the live stage and percent; stage is empty when idle.
func (r *Runner) Status() (stage, percent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage, r.percent
}

// Start spawns the background worker for one run. A second start while a
// worker is alive returns ErrBusy synchronously; nothing is queued.
func (r *Runner) Start(p Params) (string, error) {
	if !r.running.CompareAndSwap(false, true) {
		return "", ErrBusy
	}

	runID := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(ctx, runID, p)
	return runID, nil
}

// Cancel requests cooperative cancellation. The worker stops at its next
// safe point (file, fetch batch or storage batch boundary); in-flight
// units complete atomically first.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) run(ctx context.Context, runID string, p Params) {
	defer r.running.Store(false)

	stats, err := r.work(ctx, runID, p)

	r.mu.Lock()
	r.stage = ""
	r.percent = "0.0"
	r.cancel = nil
	r.mu.Unlock()

	// Exactly one stop per run, whatever the terminal state.
	switch {
	case err == nil:
		data, _ := json.Marshal(stats)
		r.emit(runID, string(data), EventStats)
		r.emit(runID, "", EventStop)
		slog.Info("ingestion run completed", "run", runID,
			"records_in_db", humanize.Comma(stats.RecordsInDB),
			"timestamps", humanize.Comma(stats.Timestamps))
	case errors.Is(err, context.Canceled):
		r.emit(runID, "", EventStop)
		slog.Info("ingestion run cancelled", "run", runID)
	default:
		r.emit(runID, err.Error(), EventErrors)
		r.emit(runID, "", EventStop)
		slog.Error("ingestion run failed", "run", runID, "error", err)
	}
}

func (r *Runner) pipeline(ctx context.Context, runID string, p Params) (*Stats, error) {
	if p.TakeoutPath != "" {
		return r.populate(ctx, runID, p)
	}
	return r.refresh(ctx, runID, p)
}

// populate is the first-time (or incremental re-import) path: parse the
// export, merge, fetch metadata, insert.
func (r *Runner) populate(ctx context.Context, runID string, p Params) (*Stats, error) {
	r.setStage(runID, "Processing watch-history.html file(s)...")
	r.setPercent(runID, 0)

	hist := takeout.NewHistory()
	scanner := &takeout.Scanner{PruneHTML: p.PruneHTML}
	err := scanner.Scan(ctx, p.TakeoutPath, func(pr takeout.Progress) {
		r.setPercent(runID, float64(pr.FileIndex)/float64(pr.FileCount)*100)
	}, hist.Add)
	if err != nil {
		if errors.Is(err, takeout.ErrNoFilesFound) || os.IsNotExist(err) {
			return nil, fmt.Errorf("no watch-history files found in %q", p.TakeoutPath)
		}
		return nil, err
	}
	hist.Reconcile()

	slog.Info("parsed watch history",
		"events", humanize.Comma(int64(hist.TotalTimestamps())),
		"videos", humanize.Comma(int64(hist.TotalVideos())),
		"removed", hist.RemovedCount,
		"failed_entries", len(scanner.Failures),
		"failed_files", len(scanner.FailedFiles))

	client, err := r.newClient(ctx, p)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	if stats.AtStart, err = r.dbc.Queries(ctx).CountVideos(ctx); err != nil {
		return nil, err
	}

	r.setStage(runID, "Fetching video metadata...")
	r.setPercent(runID, 0)
	fetched, err := client.FetchAll(ctx, hist.ResolvedIDs(), p.CallBudget, func(fp youtube.FetchProgress) {
		r.setPercent(runID, fp.Percent)
	})
	if err != nil {
		return nil, err
	}
	stats.Updated = len(fetched.Videos)
	stats.FailedAPIRequests = fetched.FailedBatches

	r.setStage(runID, "Inserting records...")
	r.setPercent(runID, 0)
	if err := r.sync.InsertAll(ctx, hist, fetched, func(pct float64) {
		r.setPercent(runID, pct)
	}); err != nil {
		return nil, err
	}

	if err := r.finishStats(ctx, stats); err != nil {
		return nil, err
	}
	stats.Inserted = stats.RecordsInDB - stats.AtStart
	return stats, nil
}

// refresh is the periodic path: re-fetch stale rows, update them in
// place, and flip vanished videos inactive.
func (r *Runner) refresh(ctx context.Context, runID string, p Params) (*Stats, error) {
	r.setStage(runID, "Starting updating...")
	r.setPercent(runID, 0)

	client, err := r.newClient(ctx, p)
	if err != nil {
		return nil, err
	}

	threshold := p.RefreshAfter
	if threshold <= 0 {
		threshold = DefaultRefreshAfter
	}
	stale, err := r.dbc.Queries(ctx).SelectStaleVideoIDs(ctx, time.Now().Add(-threshold))
	if err != nil {
		return nil, err
	}

	r.setStage(runID, "Updating...")
	fetched, err := client.FetchAll(ctx, stale, p.CallBudget, func(fp youtube.FetchProgress) {
		r.setPercent(runID, fp.Percent)
	})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Updated:           len(fetched.Videos),
		FailedAPIRequests: fetched.FailedBatches,
	}
	if stats.NewlyInactive, err = r.sync.RefreshAll(ctx, fetched, nil); err != nil {
		return nil, err
	}
	if err := r.finishStats(ctx, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// newClient reads the credential file and verifies it once before any
// fetching; a missing or rejected key aborts the run.
func (r *Runner) newClient(ctx context.Context, p Params) (*youtube.Client, error) {
	raw, err := os.ReadFile(p.APIKeyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %v", youtube.ErrBadAPIKey, p.APIKeyPath, err)
	}

	client := youtube.NewClient(strings.TrimSpace(string(raw)))
	if p.APIBaseURL != "" {
		client.BaseURL = p.APIBaseURL
	}
	if err := client.VerifyKey(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Runner) finishStats(ctx context.Context, stats *Stats) error {
	q := r.dbc.Queries(ctx)
	var err error
	if stats.RecordsInDB, err = q.CountVideos(ctx); err != nil {
		return err
	}
	stats.Timestamps, err = q.CountTimestamps(ctx)
	return err
}

func (r *Runner) emit(runID, data, event string) {
	r.stream.publish(Event{Data: data, Event: event, ID: runID})
}

func (r *Runner) setStage(runID, stage string) {
	r.mu.Lock()
	r.stage = stage
	r.mu.Unlock()
	r.emit(runID, stage, EventStage)
}

func (r *Runner) setPercent(runID string, pct float64) {
	s := fmt.Sprintf("%.1f", pct)
	r.mu.Lock()
	r.percent = s
	r.mu.Unlock()
	r.emit(runID, s, EventPercent)
}
