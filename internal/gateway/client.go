package gateway

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

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fernwood-labs/platefinder/internal/catalog"
)

const (
	defaultListRetryBudget = 2
	idempotencyKeyHeader   = "Idempotency-Key"
	requestIDHeader        = "X-Request-ID"

	opListRestaurants = "list_restaurants"
	opGetRestaurant   = "get_restaurant"
	opSetFavorite     = "set_favorite"
	opListReviews     = "list_reviews"
	opSubmitReview    = "submit_review"
	opDeleteReview    = "delete_review"
)

var errMissingBaseURL = errors.New("gateway: base url is required")

// Config captures the dependencies of a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
	// ListRetryBudget is the number of additional attempts for the
	// collection read. It is a plain count; there is no backoff.
	ListRetryBudget int
}

// Client is the remote gateway. Its only contract is "try the network,
// report success or failure"; offline fallback and write queuing are
// composed one layer up.
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker
	logger          *zap.Logger
	listRetryBudget int
}

// NewClient constructs a gateway client for the given API origin.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	retryBudget := cfg.ListRetryBudget
	if retryBudget <= 0 {
		retryBudget = defaultListRetryBudget
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "platefinder-api",
		Timeout: 5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("gateway breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL:         base,
		httpClient:      httpClient,
		breaker:         breaker,
		logger:          logger,
		listRetryBudget: retryBudget,
	}, nil
}

// ListRestaurants GETs the restaurant collection, retrying transient
// failures up to the configured budget before surfacing a NetworkError.
func (c *Client) ListRestaurants(ctx context.Context) ([]catalog.Restaurant, error) {
	endpoint := c.endpoint("restaurants") + "/"

	var lastErr error
	attempts := 1 + c.listRetryBudget
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &NetworkError{Op: opListRestaurants, URL: endpoint, Err: err}
		}
		var restaurants []catalog.Restaurant
		err := c.getJSON(ctx, opListRestaurants, endpoint, &restaurants)
		if err == nil {
			return restaurants, nil
		}
		lastErr = err
		c.logger.Debug("restaurant collection fetch failed",
			zap.Int("attempt", attempt+1),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
	return nil, lastErr
}

// GetRestaurant GETs a single restaurant. No retry; the caller composes
// its own fallback.
func (c *Client) GetRestaurant(ctx context.Context, id catalog.RestaurantID) (catalog.Restaurant, error) {
	endpoint := c.endpoint("restaurants", strconv.FormatInt(id.Int64(), 10))
	var restaurant catalog.Restaurant
	if err := c.getJSON(ctx, opGetRestaurant, endpoint, &restaurant); err != nil {
		return catalog.Restaurant{}, err
	}
	return restaurant, nil
}

// SetFavorite PUTs the new favorite flag. Single attempt; retries happen
// one layer up, by queuing.
func (c *Client) SetFavorite(ctx context.Context, id catalog.RestaurantID, favorite bool) error {
	endpoint := c.endpoint("restaurants", strconv.FormatInt(id.Int64(), 10)) +
		"/?is_favorite=" + strconv.FormatBool(favorite)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return &NetworkError{Op: opSetFavorite, URL: endpoint, Err: err}
	}
	response, err := c.do(opSetFavorite, request)
	if err != nil {
		return err
	}
	drainAndClose(response)
	return nil
}

// ListReviews GETs the reviews for one restaurant.
func (c *Client) ListReviews(ctx context.Context, restaurantID catalog.RestaurantID) ([]catalog.Review, error) {
	endpoint := c.endpoint("reviews") + "/?restaurant_id=" +
		strconv.FormatInt(restaurantID.Int64(), 10)
	var reviews []catalog.Review
	if err := c.getJSON(ctx, opListReviews, endpoint, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

// ReviewSubmission is the form-like bundle POSTed to the reviews endpoint.
// ReplayKey, when present, is sent as an idempotency token so a replayed
// submission is recorded at most once.
type ReviewSubmission struct {
	RestaurantID catalog.RestaurantID
	Name         string
	Rating       int
	Comments     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ReplayKey    string
}

// SubmitReview POSTs a review. When the API echoes the created review, it
// is returned so the caller can adopt the server-assigned identifier; a
// response without a usable body yields (nil, nil).
func (c *Client) SubmitReview(ctx context.Context, submission ReviewSubmission) (*catalog.Review, error) {
	endpoint := c.endpoint("reviews") + "/"

	form := url.Values{}
	form.Set("restaurant_id", strconv.FormatInt(submission.RestaurantID.Int64(), 10))
	form.Set("name", submission.Name)
	form.Set("rating", strconv.Itoa(submission.Rating))
	form.Set("comments", submission.Comments)
	if !submission.CreatedAt.IsZero() {
		form.Set("createdAt", submission.CreatedAt.UTC().Format(time.RFC3339))
	}
	if !submission.UpdatedAt.IsZero() {
		form.Set("updatedAt", submission.UpdatedAt.UTC().Format(time.RFC3339))
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &NetworkError{Op: opSubmitReview, URL: endpoint, Err: err}
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if submission.ReplayKey != "" {
		request.Header.Set(idempotencyKeyHeader, submission.ReplayKey)
	}

	response, err := c.do(opSubmitReview, request)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(response)

	var created catalog.Review
	if err := json.NewDecoder(response.Body).Decode(&created); err != nil || created.ID <= 0 {
		// The write succeeded; the echo is a convenience, not a contract.
		return nil, nil
	}
	return &created, nil
}

// DeleteReview DELETEs a review by its identifier.
func (c *Client) DeleteReview(ctx context.Context, id catalog.ReviewID) error {
	endpoint := c.endpoint("reviews", strconv.FormatInt(id.Int64(), 10))
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return &NetworkError{Op: opDeleteReview, URL: endpoint, Err: err}
	}
	response, err := c.do(opDeleteReview, request)
	if err != nil {
		return err
	}
	drainAndClose(response)
	return nil
}

func (c *Client) endpoint(segments ...string) string {
	joined := *c.baseURL
	joined.Path = strings.TrimRight(joined.Path, "/") + "/" + strings.Join(segments, "/")
	return joined.String()
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &NetworkError{Op: op, URL: endpoint, Err: err}
	}
	response, err := c.do(op, request)
	if err != nil {
		return err
	}
	defer drainAndClose(response)

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return &NetworkError{Op: op, URL: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// do executes one request through the breaker. Any failure, including an
// open breaker or a non-2xx status, is reported as a NetworkError; a nil
// error means the caller owns the response body.
func (c *Client) do(op string, request *http.Request) (*http.Response, error) {
	request.Header.Set(requestIDHeader, uuid.NewString())

	result, err := c.breaker.Execute(func() (any, error) {
		response, err := c.httpClient.Do(request)
		if err != nil {
			return nil, err
		}
		if response.StatusCode < 200 || response.StatusCode >= 300 {
			drainAndClose(response)
			return nil, &NetworkError{
				Op:         op,
				URL:        request.URL.String(),
				StatusCode: response.StatusCode,
			}
		}
		return response, nil
	})
	if err != nil {
		var networkErr *NetworkError
		if errors.As(err, &networkErr) {
			return nil, networkErr
		}
		return nil, &NetworkError{Op: op, URL: request.URL.String(), Err: err}
	}
	return result.(*http.Response), nil
}

func drainAndClose(response *http.Response) {
	io.Copy(io.Discard, response.Body) //nolint:errcheck
	response.Body.Close()              //nolint:errcheck
}
