package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// collectRun drains the stream until the run's stop event.
func collectRun(t *testing.T, s *Stream) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []Event
	for {
		e, err := s.Next(ctx)
		require.NoError(t, err)
		events = append(events, e)
		if e.Event == EventStop {
			return events
		}
	}
}

func waitIdle(t *testing.T, r *Runner) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !r.running.Load()
	}, 5*time.Second, time.Millisecond)
}

func TestRunner_CompletedRunEmitsStatsThenStop(t *testing.T) {
	r := NewRunner(nil)
	r.work = func(ctx context.Context, runID string, p Params) (*Stats, error) {
		return &Stats{Updated: 3, Inserted: 10, RecordsInDB: 12}, nil
	}

	runID, err := r.Start(Params{})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	events := collectRun(t, r.Events())
	require.Len(t, events, 2)

	require.Equal(t, EventStats, events[0].Event)
	require.Equal(t, runID, events[0].ID)
	var stats Stats
	require.NoError(t, json.Unmarshal([]byte(events[0].Data), &stats))
	require.Equal(t, 3, stats.Updated)
	require.Equal(t, int64(10), stats.Inserted)

	require.Equal(t, EventStop, events[1].Event)
	require.Equal(t, runID, events[1].ID)
}

func TestRunner_SecondStartIsRejected(t *testing.T) {
	r := NewRunner(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	r.work = func(ctx context.Context, runID string, p Params) (*Stats, error) {
		close(started)
		<-release
		return &Stats{}, nil
	}

	first, err := r.Start(Params{})
	require.NoError(t, err)
	<-started

	// The rejection is synchronous and leaves the active run untouched.
	_, err = r.Start(Params{})
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	events := collectRun(t, r.Events())
	for _, e := range events {
		require.Equal(t, first, e.ID)
	}

	// Once the worker is gone the slot frees up again. The re-start needs
	// its own work closure; the first one's channels are spent.
	waitIdle(t, r)
	r.work = func(ctx context.Context, runID string, p Params) (*Stats, error) {
		return &Stats{}, nil
	}
	_, err = r.Start(Params{})
	require.NoError(t, err)
	collectRun(t, r.Events())
}

func TestRunner_CancelledRunEmitsOnlyStop(t *testing.T) {
	r := NewRunner(nil)
	started := make(chan struct{})
	r.work = func(ctx context.Context, runID string, p Params) (*Stats, error) {
		r.setStage(runID, "Updating...")
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := r.Start(Params{})
	require.NoError(t, err)
	<-started
	r.Cancel()

	events := collectRun(t, r.Events())
	last := events[len(events)-1]
	require.Equal(t, EventStop, last.Event)
	for _, e := range events[:len(events)-1] {
		require.NotEqual(t, EventStop, e.Event)
		require.NotEqual(t, EventErrors, e.Event)
		require.NotEqual(t, EventStats, e.Event)
	}
}

func TestRunner_FailedRunEmitsErrorsThenStop(t *testing.T) {
	r := NewRunner(nil)
	r.work = func(ctx context.Context, runID string, p Params) (*Stats, error) {
		return nil, errors.New("no watch-history files found in \"/tmp/nope\"")
	}

	_, err := r.Start(Params{})
	require.NoError(t, err)

	events := collectRun(t, r.Events())
	require.Len(t, events, 2)
	require.Equal(t, EventErrors, events[0].Event)
	require.Contains(t, events[0].Data, "no watch-history files found")
	require.Equal(t, EventStop, events[1].Event)
}

func TestRunner_StatusTracksStageAndResets(t *testing.T) {
	r := NewRunner(nil)
	staged := make(chan struct{})
	release := make(chan struct{})
	r.work = func(ctx context.Context, runID string, p Params) (*Stats, error) {
		r.setStage(runID, "Inserting records...")
		r.setPercent(runID, 33.333)
		close(staged)
		<-release
		return &Stats{}, nil
	}

	_, err := r.Start(Params{})
	require.NoError(t, err)
	<-staged

	stage, percent := r.Status()
	require.Equal(t, "Inserting records...", stage)
	require.Equal(t, "33.3", percent)

	close(release)
	collectRun(t, r.Events())
	waitIdle(t, r)

	stage, percent = r.Status()
	require.Empty(t, stage)
	require.Equal(t, "0.0", percent)
}

func TestRunner_CancelWhenIdleIsHarmless(t *testing.T) {
	r := NewRunner(nil)
	r.Cancel()

	r.work = func(ctx context.Context, runID string, p Params) (*Stats, error) {
		return &Stats{}, nil
	}
	_, err := r.Start(Params{})
	require.NoError(t, err)
	collectRun(t, r.Events())
}
