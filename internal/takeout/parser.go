package takeout

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"hindsight.systems/hindsight/internal/videoid"
)

// Sentinel video ids for entries that never resolve to a real video.
const (
	// UnknownID buckets removed videos and other entries whose id could
	// not be extracted.
	UnknownID = "unknown"
	// MusicID buckets YouTube Music visits, which carry a timestamp but
	// no video.
	MusicID = "youtube_music"
)

// Kind classifies a parsed history entry.
type Kind int

const (
	// KindWatch is a normal watch with an extractable video id.
	KindWatch Kind = iota
	// KindRemoved is a watch of a video that has since been removed; the
	// export keeps the timestamp but nothing else.
	KindRemoved
	// KindNonVideo is a non-video visit, e.g. opening YouTube Music.
	KindNonVideo
)

// Entry is one watch-history event parsed from an export block.
type Entry struct {
	VideoID      string
	Title        string
	ChannelID    string
	ChannelTitle string
	WatchedAt    time.Time
	Kind         Kind
}

// ParseFailure records a block that could not be parsed. Failures are
// accumulated and reported in aggregate, never fatal.
type ParseFailure struct {
	RawText string
	Reason  string
}

// Progress marks a file boundary in the entry stream.
type Progress struct {
	FileIndex int
	FileCount int
}

const (
	removedPrefix = "Watched a video that has been removed"
	storyPrefix   = "Watched story"
	musicPrefix   = "Visited YouTube Music"
	deletedTitle  = "Deleted video"

	// Trailing line of every entry, minus the timezone token.
	timestampLayout = "Jan 2, 2006, 3:04:05 PM"
)

// Scanner streams entries out of watch-history export files. Parse
// failures and undecodable files are accumulated on the scanner; only I/O
// problems with the source location itself abort a scan.
type Scanner struct {
	// PruneHTML persists the normalized form of each file back to disk so
	// future runs skip the boilerplate stripping.
	PruneHTML bool

	Failures    []ParseFailure
	FailedFiles []string
}

// Scan locates export files under path and invokes onProgress at each file
// boundary and onEntry for every parsed entry. Cancellation is observed
// between files.
func (s *Scanner) Scan(ctx context.Context, path string, onProgress func(Progress), onEntry func(Entry)) error {
	files, err := Files(path)
	if err != nil {
		return err
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(Progress{FileIndex: i, FileCount: len(files)})
		}
		s.scanFile(file, onEntry)
	}
	return nil
}

func (s *Scanner) scanFile(path string, onEntry func(Entry)) {
	raw, err := os.ReadFile(path)
	if err != nil || !utf8Valid(raw) {
		s.FailedFiles = append(s.FailedFiles, path)
		slog.Error("failed to decode watch-history file", "path", path, "error", err)
		return
	}

	// The rewrite check compares against the post-NFKD read, not the raw
	// bytes: a file that only differs by compatibility characters is
	// already normalized and must not be rewritten on every run.
	original := norm.NFKD.String(string(raw))
	content := normalize(original)
	if s.PruneHTML && content != original {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			slog.Warn("could not persist normalized watch-history file", "path", path, "error", err)
		} else {
			slog.Info("rewrote watch-history file with boilerplate trimmed", "path", path)
		}
	}

	blocks := entryBlocks(content)
	if len(blocks) == 0 {
		s.FailedFiles = append(s.FailedFiles, path)
		slog.Error("could not find any records in file; it is either corrupt or in an unexpected format",
			"path", path)
		return
	}

	for _, block := range blocks {
		if entry, ok := s.parseBlock(block); ok {
			onEntry(entry)
		}
	}
}

func (s *Scanner) fail(rawText, reason string) {
	s.Failures = append(s.Failures, ParseFailure{RawText: rawText, Reason: reason})
}

// parseBlock turns one entry cell into an Entry. The trailing text line is
// always the timestamp; everything above it depends on the entry shape.
func (s *Scanner) parseBlock(block *html.Node) (Entry, bool) {
	text := strings.TrimSpace(nodeText(block))
	entry := Entry{VideoID: UnknownID}

	switch {
	case strings.HasPrefix(text, removedPrefix), strings.HasPrefix(text, storyPrefix):
		entry.Kind = KindRemoved
	case strings.HasPrefix(text, musicPrefix):
		entry.Kind = KindNonVideo
		entry.VideoID = MusicID
	default:
		anchor := findAnchor(block, "watch?v=")
		if anchor == nil {
			s.fail(text, "no watch url in entry")
			return Entry{}, false
		}
		href := attr(anchor, "href")
		id := videoid.FromWatchURL(href)
		if id == "" {
			s.fail(text, "no video id in watch url")
			return Entry{}, false
		}
		entry.Kind = KindWatch
		entry.VideoID = id

		// Some videos have their url as the title; those are usually not
		// available through YouTube or its API anymore.
		title := strings.TrimSpace(nodeText(anchor))
		if title != href && title != deletedTitle {
			entry.Title = title
			if channel := findAnchor(block, "youtube.com/channel"); channel != nil {
				channelURL := attr(channel, "href")
				entry.ChannelID = channelURL[strings.LastIndex(channelURL, "/")+1:]
				entry.ChannelTitle = strings.TrimSpace(nodeText(channel))
			}
		}
	}

	watchedAt, ok := parseWatchedAt(text)
	if !ok {
		s.fail(text, "unparseable timestamp")
		return Entry{}, false
	}
	entry.WatchedAt = watchedAt
	return entry, true
}

// parseWatchedAt extracts the trailing line of an entry's text and parses
// it as a timestamp, dropping the trailing timezone token.
func parseWatchedAt(text string) (time.Time, bool) {
	lines := strings.Split(text, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	cut := strings.LastIndex(last, " ")
	if cut < 0 {
		return time.Time{}, false
	}
	ts, err := time.Parse(timestampLayout, last[:cut])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// entryBlocks parses normalized content and collects the per-entry cells.
func entryBlocks(content string) []*html.Node {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil
	}

	var blocks []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" && attr(n, "class") == entryClass {
			blocks = append(blocks, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return blocks
}

// findAnchor returns the first descendant <a> whose href contains marker.
func findAnchor(n *html.Node, marker string) *html.Node {
	if n.Type == html.ElementNode && n.Data == "a" && strings.Contains(attr(n, "href"), marker) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findAnchor(c, marker); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// nodeText concatenates the text content of a node, preserving the
// newlines the normalizer introduced between tags.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func utf8Valid(b []byte) bool {
	return utf8.Valid(b)
}
