package quote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stock-sim-go/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnknownSymbol is returned when the market-data API has no listing for
// the requested ticker.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Quote is a live price snapshot for a single ticker.
type Quote struct {
	Symbol string
	Name   string
	Price  float64
}

// Client defines the interface for the market-data lookup collaborator.
type Client interface {
	Lookup(ctx context.Context, symbol string) (*Quote, error)
}

// RestClient is a client for an IEX-style quote API.
// It implements the Client interface.
type RestClient struct {
	client  *resty.Client
	token   string
	logger  *zap.Logger
	limiter *rate.Limiter
}

// ensure RestClient implements the interface
var _ Client = (*RestClient)(nil)

// NewRestClient creates a new quote API client.
func NewRestClient(cfg *config.Quote, logger *zap.Logger) *RestClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:  client,
		token:   cfg.Token,
		logger:  logger,
		limiter: limiter,
	}
}

// stockQuote is the wire shape of the quote endpoint response.
type stockQuote struct {
	Symbol      string  `json:"symbol"`
	CompanyName string  `json:"companyName"`
	LatestPrice float64 `json:"latestPrice"`
}

// Lookup fetches the live quote for a ticker symbol. The symbol is
// normalized to upper case before the request. A 404 from the API maps to
// ErrUnknownSymbol.
func (c *RestClient) Lookup(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, ErrUnknownSymbol
	}

	req := c.client.R().
		SetContext(ctx).
		SetResult(&stockQuote{}).
		SetQueryParam("token", c.token)

	path := "/stock/" + url.PathEscape(symbol) + "/quote"
	resp, err := c.doRequest(ctx, "GET", path, req)
	if err != nil {
		if errors.Is(err, ErrUnknownSymbol) {
			return nil, ErrUnknownSymbol
		}
		c.logger.Error("Failed to look up quote", zap.String("symbol", symbol), zap.Error(err))
		return nil, fmt.Errorf("failed to look up quote for %s: %w", symbol, err)
	}

	result := resp.Result().(*stockQuote)
	return &Quote{
		Symbol: result.Symbol,
		Name:   result.CompanyName,
		Price:  result.LatestPrice,
	}, nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusNotFound {
				// Unknown ticker, not a transport failure.
				return nil, ErrUnknownSymbol
			}
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}
