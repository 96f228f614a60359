package takeout

import "time"

// Record accumulates everything the export knows about one video id:
// metadata gleaned from the entry markup and the set of watch timestamps.
type Record struct {
	Title        string
	ChannelID    string
	ChannelTitle string
	Timestamps   map[time.Time]struct{}
}

// History folds parsed entries into a video-id-keyed map of records.
// The UnknownID bucket collects timestamps that never resolved to an id.
type History struct {
	Videos map[string]*Record

	// RemovedCount tallies entries that carried nothing but a timestamp,
	// i.e. watches of videos that have since been removed.
	RemovedCount int
}

// NewHistory returns an empty history with the unknown bucket preset.
func NewHistory() *History {
	return &History{
		Videos: map[string]*Record{
			UnknownID: {Timestamps: map[time.Time]struct{}{}},
		},
	}
}

// Add folds one entry in. Metadata fields are first-non-empty-wins, so an
// earlier export file with richer markup is never clobbered by a later
// one; timestamps have set semantics.
func (h *History) Add(e Entry) {
	if e.Kind == KindRemoved {
		h.RemovedCount++
	}

	rec, ok := h.Videos[e.VideoID]
	if !ok {
		rec = &Record{Timestamps: map[time.Time]struct{}{}}
		h.Videos[e.VideoID] = rec
	}
	if rec.Title == "" {
		rec.Title = e.Title
	}
	if rec.ChannelID == "" {
		rec.ChannelID = e.ChannelID
	}
	if rec.ChannelTitle == "" {
		rec.ChannelTitle = e.ChannelTitle
	}
	rec.Timestamps[e.WatchedAt] = struct{}{}
}

// Reconcile removes from the unknown bucket every timestamp that also
// belongs to a resolved video. The same watch event can show up in both
// places when one export file resolves an entry that an older file could
// not; without this the event would be counted twice.
func (h *History) Reconcile() {
	unknown := h.Videos[UnknownID]
	for id, rec := range h.Videos {
		if id == UnknownID {
			continue
		}
		for ts := range rec.Timestamps {
			delete(unknown.Timestamps, ts)
		}
	}
}

// TotalTimestamps counts distinct watch events, unknown bucket included.
func (h *History) TotalTimestamps() int {
	total := 0
	for _, rec := range h.Videos {
		total += len(rec.Timestamps)
	}
	return total
}

// TotalVideos counts distinct ids, the unknown bucket excluded. The
// music bucket counts like any other id here; only ResolvedIDs filters
// it out.
func (h *History) TotalVideos() int {
	n := len(h.Videos) - 1
	if n < 0 {
		return 0
	}
	return n
}

// ResolvedIDs lists the ids worth asking the metadata API about: real
// video ids, not the unknown or music buckets.
func (h *History) ResolvedIDs() []string {
	ids := make([]string, 0, len(h.Videos))
	for id := range h.Videos {
		if id == UnknownID || id == MusicID {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
