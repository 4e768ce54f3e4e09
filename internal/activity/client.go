package activity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/giveaway"
	"github.com/tidwall/gjson"
)

const maxResponseBytes = 1 << 20

// Client は外部のレベリング API からメンバーの活動量を取得する。
// 応答の形式はプロバイダごとに異なるため、値は gjson パスで取り出す。
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	levelPath  string
	weeklyPath string
}

type Option func(*Client)

// WithPaths overrides the gjson paths used to read the level and weekly activity.
func WithPaths(level, weekly string) Option {
	return func(c *Client) {
		if level != "" {
			c.levelPath = level
		}
		if weekly != "" {
			c.weeklyPath = weekly
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		levelPath:  "level",
		weeklyPath: "weekly_activity",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup fetches GET {base}/scopes/{scope}/members/{member}.
// Missing fields read as zero. Any transport or status error is returned to the caller.
func (c *Client) Lookup(ctx context.Context, scopeID, candidateID int64) (giveaway.ActivityStats, error) {
	reqURL := fmt.Sprintf("%s/scopes/%s/members/%s",
		c.baseURL,
		url.PathEscape(fmt.Sprint(scopeID)),
		url.PathEscape(fmt.Sprint(candidateID)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return giveaway.ActivityStats{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return giveaway.ActivityStats{}, fmt.Errorf("activity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// 未登録のメンバーは活動なし
		return giveaway.ActivityStats{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return giveaway.ActivityStats{}, fmt.Errorf("activity API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return giveaway.ActivityStats{}, fmt.Errorf("failed to read activity response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return giveaway.ActivityStats{}, fmt.Errorf("activity API returned invalid JSON")
	}

	return giveaway.ActivityStats{
		Level:          int(gjson.GetBytes(body, c.levelPath).Int()),
		WeeklyActivity: int(gjson.GetBytes(body, c.weeklyPath).Int()),
	}, nil
}
