package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/sophialabs/odatamock/internal/domain/manifest"
)

const maxDocumentSize = 50 << 20 // 50 MB

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Fetcher reads documents from the local filesystem or over HTTP.
// Locations without a scheme are file paths.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher. A nil client means http.DefaultClient.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Fetch returns the content at loc. It makes a single attempt.
func (f *Fetcher) Fetch(ctx context.Context, loc string) ([]byte, error) {
	if !manifest.HasScheme(loc) {
		return readFile(loc)
	}

	u, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid location %q: %w", loc, err)
	}

	switch u.Scheme {
	case "file":
		return readFile(filepath.FromSlash(u.Path))
	case "http", "https":
		return f.fetchHTTP(ctx, u.String())
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %q", u.Scheme, loc)
	}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, loc string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", loc, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %d", loc, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", loc, err)
	}
	return data, nil
}
