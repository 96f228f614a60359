// Package youtube fetches video metadata from the YouTube Data API v3,
// batching requests under the API's per-call query-cost budget.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hindsight.systems/hindsight/pkg/utils/isodur"
	"hindsight.systems/hindsight/pkg/utils/language"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// ErrBadAPIKey signals a missing or rejected API credential. It is a
// precondition failure: detected once up front, fatal for the whole run.
var ErrBadAPIKey = errors.New("missing or invalid API key")

// Video is the canonical metadata record for one video id.
type Video struct {
	ID                   string
	Title                string
	ChannelID            string
	ChannelTitle         string
	Tags                 []string
	CategoryID           string
	DefaultAudioLanguage string
	DurationSeconds      int64
	ViewCount            int64
	LikeCount            int64
	DislikeCount         int64
	CommentCount         int64
	RelevantTopicIDs     []string
	PublishedAt          time.Time
}

// Client talks to the videos.list endpoint. BaseURL and HTTPClient are
// overridable for tests.
type Client struct {
	Key        string
	BaseURL    string
	HTTPClient *http.Client

	// Limiter paces batch requests; the remote quota is the contended
	// resource, not local CPU, so calls are sequential and rate limited.
	Limiter *rate.Limiter
}

// NewClient returns a client with conservative request pacing.
func NewClient(key string) *Client {
	return &Client{
		Key:        key,
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Limiter:    rate.NewLimiter(rate.Limit(4), 1),
	}
}

// VerifyKey checks the credential with a zero-cost probe (part=id) before
// any real fetching starts.
func (c *Client) VerifyKey(ctx context.Context) error {
	_, err := c.list(ctx, []string{"jNQXAC9IVRw"}, "id")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrBadAPIKey, err)
	}
	return nil
}

// listResponse is the wire shape of a videos.list response. An id absent
// from items means the video is gone or inaccessible.
type listResponse struct {
	Items []listItem `json:"items"`
}

type listItem struct {
	ID      string `json:"id"`
	Snippet struct {
		PublishedAt          time.Time `json:"publishedAt"`
		ChannelID            string    `json:"channelId"`
		Title                string    `json:"title"`
		ChannelTitle         string    `json:"channelTitle"`
		Tags                 []string  `json:"tags"`
		CategoryID           string    `json:"categoryId"`
		DefaultAudioLanguage string    `json:"defaultAudioLanguage"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
	Statistics struct {
		ViewCount    string `json:"viewCount"`
		LikeCount    string `json:"likeCount"`
		DislikeCount string `json:"dislikeCount"`
		CommentCount string `json:"commentCount"`
	} `json:"statistics"`
	TopicDetails struct {
		RelevantTopicIDs []string `json:"relevantTopicIds"`
	} `json:"topicDetails"`
}

func (c *Client) list(ctx context.Context, ids []string, parts string) (*listResponse, error) {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}

	q := url.Values{}
	q.Set("part", parts)
	q.Set("id", strings.Join(ids, ","))
	q.Set("maxResults", strconv.Itoa(len(ids)))
	q.Set("key", c.Key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/videos?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build videos.list request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("videos.list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("videos.list: status %d", resp.StatusCode)
	}

	var parsed listResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode videos.list response: %w", err)
	}
	return &parsed, nil
}

// toVideo maps one response item to the canonical record.
func toVideo(item listItem) Video {
	return Video{
		ID:                   item.ID,
		Title:                item.Snippet.Title,
		ChannelID:            item.Snippet.ChannelID,
		ChannelTitle:         item.Snippet.ChannelTitle,
		Tags:                 item.Snippet.Tags,
		CategoryID:           item.Snippet.CategoryID,
		DefaultAudioLanguage: language.Normalize(item.Snippet.DefaultAudioLanguage),
		DurationSeconds:      isodur.Seconds(item.ContentDetails.Duration),
		ViewCount:            parseCount(item.Statistics.ViewCount),
		LikeCount:            parseCount(item.Statistics.LikeCount),
		DislikeCount:         parseCount(item.Statistics.DislikeCount),
		CommentCount:         parseCount(item.Statistics.CommentCount),
		RelevantTopicIDs:     item.TopicDetails.RelevantTopicIDs,
		PublishedAt:          item.Snippet.PublishedAt,
	}
}

// parseCount reads the API's stringly-typed counters; absent or malformed
// values degrade to zero.
func parseCount(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
