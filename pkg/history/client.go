// Package history fetches paginated message history from the backend REST
// endpoint. The endpoint itself is an external collaborator; this package
// owns only the request shape, the rate limit, and response decoding.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"golang.org/x/time/rate"

	"fpchat/pkg/models"
	"fpchat/pkg/telemetry"
)

// DefaultPageSize matches the backend's default history page.
const DefaultPageSize = 20

// Client fetches history pages. Safe for concurrent use.
type Client struct {
	base     string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient builds a Client for the fetch-messages endpoint. rps <= 0
// disables rate limiting.
func NewClient(base string, pageSize int, rps float64, burst int) *Client {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var lim *rate.Limiter
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Client{
		base:     base,
		pageSize: pageSize,
		http:     &http.Client{Timeout: 15 * time.Second},
		limiter:  lim,
	}
}

// FetchPage fetches one page of a conversation's history, newest first. An
// empty cursor fetches the latest page. The backend namespaces conversation
// IDs as "user_<peer>".
func (c *Client) FetchPage(ctx context.Context, convID, cursor string) (models.HistoryPage, error) {
	var page models.HistoryPage
	if convID == "" {
		return page, fmt.Errorf("conversation id required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return page, err
		}
	}

	u, err := url.Parse(c.base)
	if err != nil {
		return page, fmt.Errorf("history endpoint: %w", err)
	}
	q := u.Query()
	q.Set("conversationId", apiConversationID(convID))
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return page, err
	}
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return page, fmt.Errorf("history fetch: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return page, fmt.Errorf("history fetch: status %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return page, fmt.Errorf("history decode: %w", err)
	}
	telemetry.HistoryFetchSeconds.Observe(time.Since(start).Seconds())
	slog.Debug("history_page_fetched",
		"conversation", convID, "count", len(page.Messages),
		"next_cursor", page.NextCursor != "", "elapsed_ms", time.Since(start).Milliseconds())
	return page, nil
}

func apiConversationID(convID string) string {
	if strings.HasPrefix(convID, "user_") {
		return convID
	}
	return "user_" + convID
}
