package healthapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/macrolens/mealreport/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const ingredientHealthPath = "/api/ingredient-health"

// ClientConfig holds settings for the ingredient health client
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
}

// Client handles communication with the ingredient health analysis endpoint
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	maxRetries  int
	rateLimiter *rate.Limiter
	logger      *zap.Logger
	debug       bool
}

// NewClient creates a new ingredient health API client
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:  cfg.MaxRetries,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:      logger,
	}
}

// SetDebug enables request/response logging
func (c *Client) SetDebug(debug bool) {
	c.debug = debug
}

// exponentialBackoff returns the wait before retrying after the given attempt
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(500*(1<<(attempt-1))) * time.Millisecond
}

// FetchIngredientHealth asks the analysis endpoint for the health profile of an ingredient.
// Transport errors, 429 and 5xx responses are retried; other 4xx responses are not.
func (c *Client) FetchIngredientHealth(ctx context.Context, ingredient string) (*domain.IngredientHealthInfo, error) {
	if strings.TrimSpace(ingredient) == "" {
		return nil, domain.ErrInvalidRequest
	}

	body, err := json.Marshal(domain.IngredientHealthRequest{Ingredient: ingredient})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	endpoint := c.baseURL + ingredientHealthPath

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		}

		info, retry, err := c.doRequest(ctx, endpoint, body)
		if err == nil {
			if c.debug {
				c.logger.Debug("ingredient health fetched",
					zap.String("ingredient", ingredient),
					zap.String("rating", string(info.HealthRating)))
			}
			return info, nil
		}

		lastErr = err
		if !retry || attempt == c.maxRetries {
			break
		}

		c.logger.Warn("ingredient health request failed, retrying",
			zap.String("ingredient", ingredient),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrHealthAPIFailure, ctx.Err())
		case <-time.After(exponentialBackoff(attempt)):
		}
	}

	return nil, lastErr
}

// doRequest performs one POST. The bool result reports whether the failure is retryable.
func (c *Client) doRequest(ctx context.Context, endpoint string, body []byte) (*domain.IngredientHealthInfo, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MealReport/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("%w: %v", domain.ErrHealthAPIFailure, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: reading body: %v", domain.ErrHealthAPIFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		if c.debug {
			c.logger.Debug("ingredient health API error",
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", respBody))
		}
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return nil, retry, fmt.Errorf("%w: status %d", domain.ErrHealthAPIFailure, resp.StatusCode)
	}

	var info domain.IngredientHealthInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, false, fmt.Errorf("%w: failed to decode response: %v", domain.ErrHealthAPIFailure, err)
	}
	if !info.HealthRating.Valid() {
		return nil, false, fmt.Errorf("%w: unknown health rating %q", domain.ErrHealthAPIFailure, info.HealthRating)
	}
	if info.NutritionalHighlights == nil {
		info.NutritionalHighlights = []string{}
	}

	return &info, false, nil
}
