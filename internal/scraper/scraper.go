// Package scraper wraps the external Twitter-scraping provider. Scrapes are
// the priciest operation in the system (20 credits) and the provider is
// fragile, so calls go through a retry policy with a circuit breaker.
package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"launchpilot/api_metering/pkg/clients"
	"launchpilot/api_metering/pkg/config"
	"launchpilot/api_metering/pkg/logging"
)

// Profile is the scraped account snapshot returned to callers.
type Profile struct {
	Handle        string    `json:"handle"`
	DisplayName   string    `json:"display_name"`
	Bio           string    `json:"bio,omitempty"`
	Followers     int       `json:"followers"`
	Following     int       `json:"following"`
	TweetCount    int       `json:"tweet_count"`
	AvgEngagement float64   `json:"avg_engagement"`
	RecentTweets  []Tweet   `json:"recent_tweets,omitempty"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// Tweet is one scraped post.
type Tweet struct {
	ID       string    `json:"id"`
	Text     string    `json:"text"`
	Likes    int       `json:"likes"`
	Retweets int       `json:"retweets"`
	Replies  int       `json:"replies"`
	PostedAt time.Time `json:"posted_at"`
}

// Config holds provider connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func LoadConfig() Config {
	return Config{
		BaseURL: config.GetEnv("SCRAPER_API_URL", ""),
		APIKey:  config.GetEnv("SCRAPER_API_KEY", ""),
		Timeout: config.GetEnvDuration("SCRAPER_TIMEOUT", 30*time.Second),
	}
}

// Client talks to the scraping provider.
type Client struct {
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
	baseURL    string
	apiKey     string
	logger     logging.Logger
}

func NewClient(cfg Config, logger logging.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scraper base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	executorCfg := clients.DefaultHTTPExecutorConfig()
	executorCfg.WithCircuitBreaker = true

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		executor:   clients.NewHTTPExecutor(executorCfg),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		logger:     logger,
	}, nil
}

// ScrapeProfile fetches a profile snapshot for the given handle.
func (c *Client) ScrapeProfile(ctx context.Context, handle string) (*Profile, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, fmt.Errorf("handle is required")
	}

	endpoint := fmt.Sprintf("%s/v1/profiles/%s", c.baseURL, url.PathEscape(handle))

	resp, err := clients.ExecuteHTTP(ctx, c.executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("scrape profile %s: %w", handle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("profile %s not found", handle)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("scraper returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode scraper response: %w", err)
	}
	if profile.ScrapedAt.IsZero() {
		profile.ScrapedAt = time.Now()
	}

	c.logger.WithFields(logging.Fields{
		"handle":    profile.Handle,
		"followers": profile.Followers,
	}).Debug("Scraped profile")

	return &profile, nil
}
