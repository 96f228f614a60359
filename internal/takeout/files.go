package takeout

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoFilesFound is returned when a source location yields no
// watch-history files at all.
var ErrNoFilesFound = errors.New("no watch-history files found")

// Files locates watch-history.html files under path.
//
// Three mutually exclusive strategies are tried in priority order:
//  1. path is itself a watch-history file
//  2. path is a directory containing watch-history*.html files
//  3. path is a directory of extracted Takeout archives
//     (takeout-<date>Z-<n>/Takeout/YouTube/history/watch-history.html)
//
// The first strategy with a non-empty match wins; mixed strategies within
// one run are not attempted. Processing is slightly faster if the files
// are ordered chronologically, which the archive naming convention gives
// for free.
func Files(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if strings.Contains(filepath.Base(path), "watch-history") {
			return []string{path}, nil
		}
		return nil, ErrNoFilesFound
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var found []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "watch-history") && strings.HasSuffix(name, ".html") {
			found = append(found, filepath.Join(path, name))
		}
	}
	if len(found) > 0 {
		return found, nil
	}

	for _, entry := range entries {
		if !entry.IsDir() || !isTakeoutArchiveDir(entry.Name()) {
			continue
		}
		candidate := filepath.Join(path, entry.Name(),
			"Takeout", "YouTube", "history", "watch-history.html")
		if _, err := os.Stat(candidate); err == nil {
			found = append(found, candidate)
		} else {
			slog.Warn("expected watch-history.html in archive directory, found none",
				"dir", entry.Name())
		}
	}

	if len(found) == 0 {
		return nil, ErrNoFilesFound
	}
	return found, nil
}

// isTakeoutArchiveDir matches the dated archive naming convention,
// e.g. "takeout-20181120T163352Z-001".
func isTakeoutArchiveDir(name string) bool {
	return strings.HasPrefix(name, "takeout-2") &&
		len(name) >= 5 && name[len(name)-5:len(name)-3] == "Z-"
}
