package music

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSearchUnsupported = errors.New("search queries are not supported by this fetcher")
	ErrFetchStatus       = errors.New("unexpected response status")
	ErrEmptyPlaylist     = errors.New("playlist has no entries")
)

// Track is a downloaded audio file.
type Track struct {
	ID        string
	URL       string
	Title     string
	Path      string
	Size      int64
	FetchedAt time.Time
}

// Resolved is what a query refers to.
type Resolved struct {
	URLs     []string
	Playlist bool
}

// Fetcher turns queries into downloaded tracks.
type Fetcher interface {
	// Resolve expands query into track URLs.
	Resolve(ctx context.Context, query string) (Resolved, error)
	// Fetch downloads the track at rawURL into dir.
	Fetch(ctx context.Context, rawURL, dir string) (*Track, error)
}

// HTTPFetcher downloads plain HTTP(S) audio URLs. URLs ending in .m3u or
// .m3u8 are treated as playlists of further URLs.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher creates a fetcher using client, or a client with a one
// minute timeout when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	return &HTTPFetcher{Client: client}
}

// Resolve implements Fetcher.
func (f *HTTPFetcher) Resolve(ctx context.Context, query string) (Resolved, error) {
	u, err := url.Parse(query)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Resolved{}, fmt.Errorf("%w: %q", ErrSearchUnsupported, query)
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if ext != ".m3u" && ext != ".m3u8" {
		return Resolved{URLs: []string{query}}, nil
	}

	resp, err := f.get(ctx, query)
	if err != nil {
		return Resolved{}, err
	}
	defer resp.Body.Close()

	var urls []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ref, err := u.Parse(line)
		if err != nil {
			continue
		}
		urls = append(urls, ref.String())
	}
	if err = scanner.Err(); err != nil {
		return Resolved{}, fmt.Errorf("failed to read playlist %s: %w", query, err)
	}
	if len(urls) == 0 {
		return Resolved{}, fmt.Errorf("%w: %s", ErrEmptyPlaylist, query)
	}
	return Resolved{URLs: urls, Playlist: true}, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL, dir string) (*Track, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid track url %q: %w", rawURL, err)
	}

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	id := uuid.NewString()
	tmp, err := os.CreateTemp(dir, id+"-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create download file: %w", err)
	}
	size, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err = errors.Join(err, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}

	final := filepath.Join(dir, id+path.Ext(u.Path))
	if err = os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to store download: %w", err)
	}

	return &Track{
		ID:        id,
		URL:       rawURL,
		Title:     trackTitle(resp.Header.Get("Content-Disposition"), u),
		Path:      final,
		Size:      size,
		FetchedAt: time.Now(),
	}, nil
}

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrFetchStatus, rawURL, resp.StatusCode)
	}
	return resp, nil
}

func trackTitle(disposition string, u *url.URL) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		return strings.TrimSuffix(params["filename"], path.Ext(params["filename"]))
	}
	if base := path.Base(u.Path); base != "/" && base != "." {
		if name, err := url.PathUnescape(strings.TrimSuffix(base, path.Ext(base))); err == nil && name != "" {
			return name
		}
	}
	return u.String()
}
