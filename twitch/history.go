package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/beltheas/scrollback/mirror"
)

const defaultHistoryPageSize = 100

// HistoryClient fetches archived chat pages from a Helix-style archive
// service. Pages are newest-first; the pagination cursor is the id of the
// oldest message in the page and an empty cursor means the archive is
// exhausted.
type HistoryClient struct {
	BaseURL     string
	ClientID    string
	PageSize    int
	HTTPClient  *http.Client
	Credentials *clientcredentials.Config

	tokenOnce sync.Once
	tokens    oauth2.TokenSource
}

// NewHistoryClient builds an archive client authenticating with Twitch app
// credentials.
func NewHistoryClient(baseURL, clientID, clientSecret string) *HistoryClient {
	return &HistoryClient{
		BaseURL:  baseURL,
		ClientID: clientID,
		Credentials: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     "https://id.twitch.tv/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
}

func (hc *HistoryClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// FetchPage implements mirror.Source. channelID is the numeric room id.
func (hc *HistoryClient) FetchPage(ctx context.Context, channelID, beforeID string) ([]mirror.Event, string, error) {
	if channelID == "" {
		return nil, "", fmt.Errorf("channelID empty")
	}
	size := hc.PageSize
	if size <= 0 {
		size = defaultHistoryPageSize
	}

	endpoint := strings.TrimRight(hc.BaseURL, "/") + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	q := req.URL.Query()
	q.Set("channel_id", channelID)
	q.Set("first", strconv.Itoa(size))
	if beforeID != "" {
		q.Set("before", beforeID)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	if err := hc.authorize(req); err != nil {
		return nil, "", err
	}

	resp, err := hc.http().Do(req)
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
		return nil, "", fmt.Errorf("archive page request failed: %s: %s", resp.Status, string(b))
	}

	var body struct {
		Data []struct {
			ID               string    `json:"id"`
			UserID           string    `json:"user_id"`
			UserLogin        string    `json:"user_login"`
			UserName         string    `json:"user_name"`
			Message          string    `json:"message"`
			ReplyParentMsgID string    `json:"reply_parent_msg_id"`
			SentAt           time.Time `json:"sent_at"`
		} `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", err
	}

	events := make([]mirror.Event, 0, len(body.Data))
	for _, m := range body.Data {
		events = append(events, mirror.Event{
			Platform:  Platform,
			ChannelID: channelID,
			MessageID: m.ID,
			UserID:    m.UserID,
			Username:  m.UserLogin,
			Nickname:  m.UserName,
			Content:   m.Message,
			QuoteID:   m.ReplyParentMsgID,
			Timestamp: m.SentAt,
		})
	}
	return events, body.Pagination.Cursor, nil
}

func (hc *HistoryClient) authorize(req *http.Request) error {
	if hc.Credentials == nil {
		return nil
	}
	hc.tokenOnce.Do(func() {
		base := context.WithValue(context.Background(), oauth2.HTTPClient, hc.http())
		hc.tokens = hc.Credentials.TokenSource(base)
	})
	tok, err := hc.tokens.Token()
	if err != nil {
		return fmt.Errorf("twitch app token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}
