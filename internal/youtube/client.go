package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
)

// watchPattern accepts the usual watch/embed/short-link forms and captures
// the 11-character video id. The playlist guard on the watch form is a
// separate check because RE2 has no lookahead.
var watchPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.)?(?:m\.)?(?:youtube\.com/(?:watch\?(?:.*&)?v=|embed/|v/)|youtu\.be/)([a-zA-Z0-9_-]{11})(?:[?&]\S+)?$`)

// ErrNotAVideo means the submitted url does not reference a single video.
var ErrNotAVideo = errors.New("youtube: not a video url")

// ErrVideoNotFound means the url parsed but the provider has no such video.
var ErrVideoNotFound = errors.New("youtube: video not found")

// placeholderThumb is served when the provider returns no thumbnails at all.
const placeholderThumb = "https://cdn.pixabay.com/photo/2024/02/28/07/42/european-shorthair-8601492_640.jpg"

// ExtractVideoID validates a submitted url and returns its video id. A
// watch link carrying a playlist parameter is a playlist, not a single
// video; a list= on a short link is ignored.
func ExtractVideoID(rawURL string) (string, error) {
	m := watchPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", ErrNotAVideo
	}
	if strings.Contains(rawURL, "watch?") && strings.Contains(rawURL, "list=") {
		return "", ErrNotAVideo
	}
	return m[1], nil
}

type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type VideoDetails struct {
	Title      string
	Thumbnails []Thumbnail
}

// Client looks up video metadata through the YouTube Data API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    "https://www.googleapis.com/youtube/v3",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type videoListResponse struct {
	Items []struct {
		Snippet struct {
			Title      string               `json:"title"`
			Thumbnails map[string]Thumbnail `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// VideoDetails fetches title and thumbnail set for a video id.
func (c *Client) VideoDetails(ctx context.Context, videoID string) (*VideoDetails, error) {
	params := url.Values{}
	params.Add("part", "snippet")
	params.Add("id", videoID)
	params.Add("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/videos?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("youtube: videos request failed with status %d", resp.StatusCode)
	}

	var listResp videoListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, err
	}
	if len(listResp.Items) == 0 {
		return nil, ErrVideoNotFound
	}

	snippet := listResp.Items[0].Snippet
	details := &VideoDetails{Title: snippet.Title}
	if details.Title == "" {
		details.Title = "Can't find video"
	}
	for _, t := range snippet.Thumbnails {
		details.Thumbnails = append(details.Thumbnails, t)
	}
	return details, nil
}

// PickThumbnails chooses the small (second-largest by width) and big
// (largest) thumbnail urls. A single thumbnail serves as both; no
// thumbnails at all falls back to a placeholder image.
func PickThumbnails(thumbnails []Thumbnail) (small, big string) {
	if len(thumbnails) == 0 {
		return placeholderThumb, placeholderThumb
	}

	sorted := make([]Thumbnail, len(thumbnails))
	copy(sorted, thumbnails)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Width < sorted[j].Width })

	big = sorted[len(sorted)-1].URL
	if len(sorted) > 1 {
		small = sorted[len(sorted)-2].URL
	} else {
		small = big
	}
	return small, big
}
