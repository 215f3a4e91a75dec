package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"

	"github.com/sd8capricon/graph-rag/pkg/loader"
)

const maxBodyBytes = 32 << 20

// WebGraphLoader loads content from web URLs and extracts readable text.
// For HTML pages, it uses readability to extract the main content.
type WebGraphLoader struct {
	client *http.Client
	cache  *loader.Cache
}

// NewWebGraphLoader creates a web loader. A nil client uses a client with a
// one minute timeout.
func NewWebGraphLoader(client *http.Client) *WebGraphLoader {
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	return &WebGraphLoader{client: client, cache: loader.NewCache()}
}

// GetFileText fetches a URL and extracts readable text content.
func (l *WebGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	return l.cache.Load(file, func() ([]byte, error) {
		return l.fetch(ctx, file.Path)
	})
}

func (l *WebGraphLoader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("failed to fetch url: status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return io.ReadAll(body)
	}

	article, err := readability.FromReader(body, u)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	var builder strings.Builder
	if err := article.RenderText(&builder); err != nil {
		return nil, fmt.Errorf("failed to render article text: %w", err)
	}
	return []byte(builder.String()), nil
}
