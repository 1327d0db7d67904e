// Package raindrop is a read-only client for the Raindrop.io REST API,
// covering the endpoints the mirror engine needs: the user's group
// list, the collection forest, and the paginated raindrop feeds.
package raindrop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alexjbarnes/marksync/internal/mirror"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const baseURL = "https://api.raindrop.io/rest/v1"

const (
	// httpClientTimeout is the timeout for the default HTTP client used
	// by the API client when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads to prevent a
	// misbehaving server from consuming unbounded memory. A full page of
	// raindrops with long excerpts stays well under this.
	maxAPIResponseBytes = 4 * 1024 * 1024
)

// Client talks to the Raindrop.io REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

var _ mirror.RemoteClient = (*Client)(nil)

// NewClient creates an API client authenticating with the given token.
// If httpClient is nil, a client with a 30-second timeout is created.
func NewClient(token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      token,
	}
}

// WithBaseURL overrides the API base URL. Used by tests and self-hosted
// deployments.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// get sends an authenticated GET request and decodes the response into
// result.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, result interface{}) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("sending request to %s: %w", endpoint, err)
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.ErrorMessage != "" {
			err := fmt.Errorf("API %s (%d): %s", endpoint, resp.StatusCode, apiErr.ErrorMessage)
			if isTransientStatus(resp.StatusCode) {
				return &TransientError{Err: err}
			}

			return err
		}

		err := fmt.Errorf("API %s returned status %d: %s", endpoint, resp.StatusCode, sanitizeResponseBody(respBody))
		if isTransientStatus(resp.StatusCode) {
			return &TransientError{Err: err}
		}

		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response from %s: %w", endpoint, err)
		}
	}

	return nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// FetchGroups returns the user's visible groups in their configured
// order.
func (c *Client) FetchGroups(ctx context.Context) ([]mirror.RemoteGroup, error) {
	var resp userResponse
	if err := c.get(ctx, "/user", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}

	groups := make([]mirror.RemoteGroup, 0, len(resp.User.Groups))

	for _, g := range resp.User.Groups {
		if g.Hidden {
			continue
		}

		groups = append(groups, mirror.RemoteGroup{
			Title:         g.Title,
			CollectionIDs: g.Collections,
		})
	}

	return groups, nil
}

// FetchRootCollections returns every top-level collection.
func (c *Client) FetchRootCollections(ctx context.Context) ([]mirror.RemoteCollection, error) {
	return c.fetchCollections(ctx, "/collections")
}

// FetchChildCollections returns every nested collection, with parent
// references.
func (c *Client) FetchChildCollections(ctx context.Context) ([]mirror.RemoteCollection, error) {
	return c.fetchCollections(ctx, "/collections/childrens")
}

func (c *Client) fetchCollections(ctx context.Context, endpoint string) ([]mirror.RemoteCollection, error) {
	var resp collectionsResponse
	if err := c.get(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching collections: %w", err)
	}

	cols := make([]mirror.RemoteCollection, 0, len(resp.Items))

	for _, it := range resp.Items {
		cols = append(cols, mirror.RemoteCollection{
			ID:       it.ID,
			Title:    it.Title,
			SortKey:  it.Sort,
			ParentID: it.Parent.ID,
		})
	}

	return cols, nil
}

// FetchItemsPage returns one page of a collection's raindrops, sorted by
// descending last-update time. An empty slice means the feed is
// exhausted.
func (c *Client) FetchItemsPage(ctx context.Context, collectionID int64, page int) ([]mirror.RemoteItem, error) {
	query := url.Values{}
	query.Set("perpage", fmt.Sprint(mirror.PageSize))
	query.Set("page", fmt.Sprint(page))
	query.Set("sort", "-lastUpdate")

	var resp raindropsResponse
	if err := c.get(ctx, fmt.Sprintf("/raindrops/%d", collectionID), query, &resp); err != nil {
		return nil, fmt.Errorf("fetching raindrops page %d: %w", page, err)
	}

	items := make([]mirror.RemoteItem, 0, len(resp.Items))

	for _, it := range resp.Items {
		items = append(items, mirror.RemoteItem{
			ID:           it.ID,
			URL:          it.Link,
			Title:        it.Title,
			CollectionID: it.collectionID(),
			LastUpdate:   it.LastUpdate.UnixMilli(),
		})
	}

	return items, nil
}

// ItemExists reports whether a live raindrop with exactly the given URL
// exists in the collection. The search endpoint matches loosely, so the
// returned links are compared exactly.
func (c *Client) ItemExists(ctx context.Context, collectionID int64, link string) (bool, error) {
	query := url.Values{}
	query.Set("search", fmt.Sprintf("link:%q", link))
	query.Set("perpage", fmt.Sprint(mirror.PageSize))

	var resp raindropsResponse
	if err := c.get(ctx, fmt.Sprintf("/raindrops/%d", collectionID), query, &resp); err != nil {
		return false, fmt.Errorf("searching raindrops: %w", err)
	}

	for _, it := range resp.Items {
		if it.Link == link {
			return true, nil
		}
	}

	return false, nil
}
