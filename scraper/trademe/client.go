package trademe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"listingwatch/models"
	"listingwatch/utils"
)

const (
	DefaultBaseURL        = "https://api.trademe.co.nz/v1"
	DefaultCategoryPrefix = "0350"

	defaultPageSize    = 50
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultRetryDelay  = 2 * time.Second
	maxErrorBody       = 512
)

// Config configures the marketplace client.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string
	// CategoryPrefix restricts watchlist items to the real-estate tree.
	CategoryPrefix  string
	PageSize        int
	Timeout         time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
	// RetryBackoff doubles RetryDelay after every failed attempt.
	RetryBackoff    bool
	RequestInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.CategoryPrefix == "" {
		c.CategoryPrefix = DefaultCategoryPrefix
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
}

// Client calls the watchlist, detail and search endpoints with signed,
// rate-limited and retried GET requests.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	retry   *utils.RetryConfig
	logger  *utils.Logger
	now     func() time.Time
}

// New creates a ready-to-use Client.
func New(cfg Config, logger *utils.Logger) *Client {
	cfg.applyDefaults()

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			Delay:       cfg.RetryDelay,
			Backoff:     cfg.RetryBackoff,
			Logger:      logger,
		},
		logger: logger,
		now:    time.Now,
	}
}

// FetchWatchlist returns one page (1-based) of the watchlist, restricted to
// real-estate listings.
func (c *Client) FetchWatchlist(ctx context.Context, page int) (*WatchlistPage, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("rows", strconv.Itoa(c.cfg.PageSize))

	var resp listResponse
	if err := c.getJSON(ctx, "/MyTradeMe/Watchlist/All.json", q, &resp); err != nil {
		return nil, err
	}

	now := c.now()
	out := &WatchlistPage{
		TotalCount: resp.TotalCount,
		Page:       resp.Page,
		PageSize:   resp.PageSize,
	}
	if out.Page == 0 {
		out.Page = page
	}
	if out.PageSize == 0 {
		out.PageSize = c.cfg.PageSize
	}
	for _, item := range resp.List {
		if !strings.HasPrefix(item.Category, c.cfg.CategoryPrefix) {
			out.Filtered++
			continue
		}
		out.Listings = append(out.Listings, mapItem(item, now))
	}

	c.logger.Debug("[trademe] Watchlist page %d: %d listings, %d filtered, %d total",
		out.Page, len(out.Listings), out.Filtered, out.TotalCount)
	return out, nil
}

// FetchDetail returns the full listing for id. When the detail endpoint keeps
// failing, the first watchlist page is searched for the id before giving up.
func (c *Client) FetchDetail(ctx context.Context, id string) (*models.Listing, error) {
	if id == "" {
		return nil, models.ErrMissingID
	}

	var item apiItem
	detailErr := c.getJSON(ctx, "/Listings/"+url.PathEscape(id)+".json", nil, &item)
	if detailErr == nil {
		return mapItem(item, c.now()), nil
	}

	c.logger.Warn("[trademe] Detail for %s failed, falling back to watchlist: %v", id, detailErr)

	page, err := c.FetchWatchlist(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("trademe: detail %s: %w", id, errors.Join(detailErr, err))
	}
	for _, l := range page.Listings {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, fmt.Errorf("trademe: listing %s not in watchlist: %w", id, detailErr)
}

// Search runs a residential (or rental) property search.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]*models.Listing, error) {
	path := "/Search/Property/Residential.json"
	if p.Rental {
		path = "/Search/Property/Rental.json"
	}

	q := url.Values{}
	setIf := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	setIf("region", p.Region)
	setIf("suburb", p.Suburb)
	if p.PriceMin > 0 {
		q.Set("price_min", strconv.FormatInt(p.PriceMin, 10))
	}
	if p.PriceMax > 0 {
		q.Set("price_max", strconv.FormatInt(p.PriceMax, 10))
	}
	if p.BedroomsMin > 0 {
		q.Set("bedrooms_min", strconv.Itoa(p.BedroomsMin))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	rows := p.Rows
	if rows <= 0 {
		rows = c.cfg.PageSize
	}
	q.Set("rows", strconv.Itoa(rows))

	var resp listResponse
	if err := c.getJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	now := c.now()
	listings := make([]*models.Listing, 0, len(resp.List))
	for _, item := range resp.List {
		l := mapItem(item, now)
		if p.Rental {
			l.ListingType = models.ListingRental
		}
		listings = append(listings, l)
	}
	return listings, nil
}

// getJSON issues a signed GET and decodes the body into dst, retrying
// transport errors and non-2xx responses.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var lastStatus int
	attempts, err := c.retry.Do(ctx, "GET "+path, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", Sign(RoleAPI, c.cfg.ConsumerKey, c.cfg.ConsumerSecret, SignOptions{
			Token:       c.cfg.Token,
			TokenSecret: c.cfg.TokenSecret,
		}))
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastStatus = 0
			return err
		}
		defer resp.Body.Close()

		lastStatus = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
		}

		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return &APIError{Path: path, StatusCode: lastStatus, Attempts: attempts, Err: err}
	}
	return nil
}
