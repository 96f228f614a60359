// Package videoid extracts YouTube video ids from the url shapes that
// show up in watch-history exports.
package videoid

import (
	"net/url"
	"strings"
)

// Hosts that serve watch urls. youtu.be shortlinks carry the id as the
// first path segment instead of a query parameter.
var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
}

// FromWatchURL pulls the video id out of a watch url. Handles the
// canonical /watch?v= form, youtu.be shortlinks and the /embed/, /v/,
// /shorts/ and /live/ path forms; for anything unparseable it falls back
// to taking everything after the first '=', trimmed of a timecode
// parameter, which is how old export anchors are shaped. Returns "" when
// no id can be found.
func FromWatchURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err == nil {
		host := normalizeHost(u.Host)

		if host == "youtu.be" {
			return firstPathSegment(u.Path)
		}
		if youtubeHosts[host] {
			if v := u.Query().Get("v"); v != "" {
				return v
			}
			for _, prefix := range []string{"/embed/", "/v/", "/shorts/", "/live/"} {
				if strings.HasPrefix(u.Path, prefix) {
					if id := firstPathSegment(strings.TrimPrefix(u.Path, prefix)); id != "" {
						return id
					}
				}
			}
		}
	}
	return fallbackID(raw)
}

// fallbackID is the lenient rule for malformed or ancient watch urls:
// everything after the first '=', with any trailing timecode cut off.
func fallbackID(raw string) string {
	eq := strings.Index(raw, "=")
	if eq < 0 {
		return ""
	}
	id := raw[eq+1:]
	if end := strings.Index(id, "&t="); end > 0 {
		id = id[:end]
	}
	return id
}

func normalizeHost(hostport string) string {
	h := strings.TrimSpace(strings.ToLower(hostport))
	if i := strings.LastIndex(h, ":"); i >= 0 && !strings.Contains(h[i:], "]") {
		h = h[:i]
	}
	return strings.TrimSuffix(h, ".")
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "/")
	seg, _, _ := strings.Cut(p, "/")
	return strings.TrimSpace(seg)
}
