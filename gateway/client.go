// Package gateway implements the generic HTTP history source for platforms
// whose native APIs cannot serve message history. It speaks the same wire
// format as scrollback's own history endpoint, so one deployment can backfill
// from a bridge or from another scrollback instance.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/beltheas/scrollback/mirror"
)

const defaultPageSize = 100

// Client fetches pages of archived messages from
// GET {base}/api/channels/{id}/messages?before=<id>&limit=<n>. Pages are
// newest-first; next_cursor is the id of the oldest message in the page and
// an empty cursor means history is exhausted.
type Client struct {
	// BaseURL is the gateway root, e.g. "https://bridge.internal:8080".
	BaseURL string
	// Platform stamps the events this client produces; one client serves
	// exactly one platform.
	Platform string
	// PageSize caps messages per request. Zero means the default.
	PageSize int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	// Credentials, when set, obtains a bearer token via the OAuth2 client
	// credentials flow before each request.
	Credentials *clientcredentials.Config

	tokenOnce sync.Once
	tokens    oauth2.TokenSource
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// FetchPage implements mirror.Source.
func (c *Client) FetchPage(ctx context.Context, channelID, beforeID string) ([]mirror.Event, string, error) {
	if channelID == "" {
		return nil, "", fmt.Errorf("channelID empty")
	}
	size := c.PageSize
	if size <= 0 {
		size = defaultPageSize
	}

	endpoint := fmt.Sprintf("%s/api/channels/%s/messages", strings.TrimRight(c.BaseURL, "/"), url.PathEscape(channelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	q := req.URL.Query()
	q.Set("limit", strconv.Itoa(size))
	if beforeID != "" {
		q.Set("before", beforeID)
	}
	req.URL.RawQuery = q.Encode()
	if err := c.authorize(req); err != nil {
		return nil, "", err
	}

	resp, err := c.http().Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("gateway page request failed: %s: %s", resp.Status, string(b))
	}

	var body struct {
		Messages []struct {
			ID        string    `json:"id"`
			GuildID   string    `json:"guild_id"`
			UserID    string    `json:"user_id"`
			Username  string    `json:"username"`
			Nickname  string    `json:"nickname"`
			Content   string    `json:"content"`
			QuoteID   string    `json:"quote_id"`
			Timestamp time.Time `json:"ts"`
		} `json:"messages"`
		NextCursor string `json:"next_cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", err
	}

	events := make([]mirror.Event, 0, len(body.Messages))
	for _, m := range body.Messages {
		events = append(events, mirror.Event{
			Platform:  c.Platform,
			GuildID:   m.GuildID,
			ChannelID: channelID,
			MessageID: m.ID,
			UserID:    m.UserID,
			Username:  m.Username,
			Nickname:  m.Nickname,
			Content:   m.Content,
			QuoteID:   m.QuoteID,
			Timestamp: m.Timestamp,
		})
	}
	return events, body.NextCursor, nil
}

func (c *Client) authorize(req *http.Request) error {
	if c.Credentials == nil {
		return nil
	}
	c.tokenOnce.Do(func() {
		// The token endpoint goes through the same client so tests can
		// intercept it.
		base := context.WithValue(context.Background(), oauth2.HTTPClient, c.http())
		c.tokens = c.Credentials.TokenSource(base)
	})
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("gateway token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}
