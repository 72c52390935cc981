package youtube

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractVideoID(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"http://youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?feature=shared&v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		// list= on a short link tags the playlist context, the link still
		// names one video.
		{"https://youtu.be/dQw4w9WgXcQ?list=PLabcdef", "dQw4w9WgXcQ"},
	}
	for _, c := range cases {
		got, err := ExtractVideoID(c.url)
		if err != nil {
			t.Fatalf("url %q: %v", c.url, err)
		}
		if got != c.want {
			t.Fatalf("url %q: got id %q", c.url, got)
		}
	}
}

func TestExtractVideoIDRejects(t *testing.T) {
	for _, url := range []string{
		"",
		"not a url",
		"https://vimeo.com/12345",
		"https://example.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=short",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PLabcdef",
		"https://www.youtube.com/playlist?list=PLabcdef",
	} {
		if _, err := ExtractVideoID(url); !errors.Is(err, ErrNotAVideo) {
			t.Fatalf("url %q: expected ErrNotAVideo, got %v", url, err)
		}
	}
}

func TestPickThumbnails(t *testing.T) {
	small, big := PickThumbnails([]Thumbnail{
		{URL: "c.jpg", Width: 480},
		{URL: "a.jpg", Width: 120},
		{URL: "b.jpg", Width: 320},
	})
	if big != "c.jpg" {
		t.Fatalf("big should be the widest, got %q", big)
	}
	if small != "b.jpg" {
		t.Fatalf("small should be the second-widest, got %q", small)
	}
}

func TestPickThumbnailsSingle(t *testing.T) {
	small, big := PickThumbnails([]Thumbnail{{URL: "only.jpg", Width: 120}})
	if small != "only.jpg" || big != "only.jpg" {
		t.Fatalf("single thumbnail must serve both roles, got %q / %q", small, big)
	}
}

func TestPickThumbnailsEmpty(t *testing.T) {
	small, big := PickThumbnails(nil)
	if small == "" || big == "" {
		t.Fatalf("missing thumbnails must fall back to a placeholder")
	}
	if small != big {
		t.Fatalf("placeholder should be used for both roles")
	}
}

func TestVideoDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("id"); got != "dQw4w9WgXcQ" {
			t.Errorf("unexpected video id %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"items": [{
				"snippet": {
					"title": "Test Video",
					"thumbnails": {
						"default": {"url": "default.jpg", "width": 120, "height": 90},
						"high": {"url": "high.jpg", "width": 480, "height": 360}
					}
				}
			}]
		}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-key")
	c.baseURL = srv.URL

	details, err := c.VideoDetails(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("video details: %v", err)
	}
	if details.Title != "Test Video" {
		t.Fatalf("wrong title %q", details.Title)
	}
	if len(details.Thumbnails) != 2 {
		t.Fatalf("expected 2 thumbnails, got %d", len(details.Thumbnails))
	}
}

func TestVideoDetailsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items": []}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-key")
	c.baseURL = srv.URL

	if _, err := c.VideoDetails(context.Background(), "missing00000"); !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
}
