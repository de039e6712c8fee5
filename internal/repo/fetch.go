package repo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// FetchError reports a file the session server could not serve.
type FetchError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("fetch %s: HTTP status %d", e.Path, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// HTTPFetcher retrieves file content from the session server's
// /v1/file/<repoHash>/<commit>/<path> endpoint.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPFetcher creates a fetcher against the given server base URL
// (scheme and host, no trailing slash required).
func NewHTTPFetcher(baseURL string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  http.DefaultClient,
	}
}

func (f *HTTPFetcher) FetchFile(ctx context.Context, repoHash, commit, path string) (string, error) {
	fileURL := fmt.Sprintf("%s/v1/file/%s/%s/%s",
		f.BaseURL, url.PathEscape(repoHash), url.PathEscape(commit), escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", &FetchError{Path: path, Err: err}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", &FetchError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{Path: path, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &FetchError{Path: path, Err: err}
	}
	return string(body), nil
}

// escapePath escapes each path segment but keeps the separators, matching
// the server's wildcard route.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
