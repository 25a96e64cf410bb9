// Package schedapi is the HTTP client for the scheduling backend that
// owns hosts, availability and bookings. Transport and auth details
// live here; the rest of the core only sees typed calls and errors.
package schedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"zapis/internal/metrics"
	"zapis/internal/models"
)

// APIError is a non-2xx response from the scheduling backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("scheduling api: http %d", e.Status)
	}
	return fmt.Sprintf("scheduling api: http %d: %s", e.Status, e.Message)
}

// IsConflict reports whether err is a 409 from the backend, meaning the
// requested slot was taken between fetch and submit.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusConflict
}

// Client calls the scheduling backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration

	limiter *rate.Limiter
}

// NewClient constructs a client with baseURL and API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
}

// UseRedisCache configures optional Redis caching for availability reads.
// Booking mutations are never cached.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// SetFetchRate overrides the availability fetch rate limit.
func (c *Client) SetFetchRate(perSecond float64, burst int) {
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

type availabilityResponse struct {
	// Days maps host-local YYYY-MM-DD to HH:MM start times.
	Days map[string][]string `json:"days"`
}

// FetchAvailability returns host-local availability for [rangeStart, rangeEnd],
// keyed by host date. Dates inside the range with no open slots are absent.
func (c *Client) FetchAvailability(ctx context.Context, hostID, rangeStart, rangeEnd string) (map[string][]models.HostSlot, error) {
	cacheKey := fmt.Sprintf("availability:%s:%s:%s", hostID, rangeStart, rangeEnd)

	var resp availabilityResponse
	if c.readCache(ctx, cacheKey, &resp) {
		metrics.IncAvailabilityFetch("cache_hit")
		return slotsByDate(resp.Days), nil
	}

	if err := c.fetchAvailability(ctx, hostID, rangeStart, rangeEnd, &resp); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return slotsByDate(resp.Days), nil
}

// RefreshAvailability fetches a single date bypassing the cache. Used
// after a slot conflict, when the cached view is known stale.
func (c *Client) RefreshAvailability(ctx context.Context, hostID, date string) (map[string][]models.HostSlot, error) {
	var resp availabilityResponse
	if err := c.fetchAvailability(ctx, hostID, date, date, &resp); err != nil {
		return nil, err
	}
	cacheKey := fmt.Sprintf("availability:%s:%s:%s", hostID, date, date)
	c.writeCache(ctx, cacheKey, resp)
	return slotsByDate(resp.Days), nil
}

func (c *Client) fetchAvailability(ctx context.Context, hostID, rangeStart, rangeEnd string, out *availabilityResponse) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/v1/hosts/%s/availability?start=%s&end=%s",
		c.baseURL, url.PathEscape(hostID), url.QueryEscape(rangeStart), url.QueryEscape(rangeEnd))
	if err := c.doGet(ctx, endpoint, out); err != nil {
		metrics.IncAvailabilityFetch("error")
		return err
	}
	metrics.IncAvailabilityFetch("ok")
	return nil
}

func slotsByDate(days map[string][]string) map[string][]models.HostSlot {
	result := make(map[string][]models.HostSlot, len(days))
	for date, times := range days {
		slots := make([]models.HostSlot, 0, len(times))
		for _, t := range times {
			slots = append(slots, models.HostSlot{HostDate: date, HostTime: t})
		}
		result[date] = slots
	}
	return result
}

// LookupHost returns the host profile (name, IANA timezone).
func (c *Client) LookupHost(ctx context.Context, hostID string) (*models.HostProfile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/hosts/%s", c.baseURL, url.PathEscape(hostID))
	cacheKey := "host:" + hostID

	var profile models.HostProfile
	if c.readCache(ctx, cacheKey, &profile) {
		return &profile, nil
	}
	if err := c.doGet(ctx, endpoint, &profile); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, profile)
	return &profile, nil
}

// CreateBooking submits a booking draft. The slot is host-local; the
// visitor timezone is stored server-side for notifications. An
// idempotency key guards against double-submits on retry.
func (c *Client) CreateBooking(ctx context.Context, hostID string, draft models.BookingDraft) (*models.BookingResult, error) {
	endpoint := fmt.Sprintf("%s/api/v1/hosts/%s/bookings", c.baseURL, url.PathEscape(hostID))
	var result models.BookingResult
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := c.doPost(ctx, endpoint, draft, &result, headers); err != nil {
		return nil, err
	}
	return &result, nil
}

// LookupBooking fetches an existing booking by manage token.
func (c *Client) LookupBooking(ctx context.Context, token string) (*models.ManagedBooking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/%s", c.baseURL, url.PathEscape(token))
	var booking models.ManagedBooking
	if err := c.doGet(ctx, endpoint, &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

type rescheduleRequest struct {
	StartTime       string `json:"start_time"` // RFC3339
	VisitorTimezone string `json:"visitor_timezone"`
}

// RescheduleBooking moves a booking to a new instant.
func (c *Client) RescheduleBooking(ctx context.Context, token string, newStart time.Time, visitorTimezone string) (*models.ManagedBooking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/%s/reschedule", c.baseURL, url.PathEscape(token))
	body := rescheduleRequest{
		StartTime:       newStart.UTC().Format(time.RFC3339),
		VisitorTimezone: visitorTimezone,
	}
	var booking models.ManagedBooking
	if err := c.doPost(ctx, endpoint, body, &booking, nil); err != nil {
		return nil, err
	}
	return &booking, nil
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CancelBooking cancels a booking with an optional free-text reason.
func (c *Client) CancelBooking(ctx context.Context, token, reason string) error {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/%s/cancel", c.baseURL, url.PathEscape(token))
	return c.doPost(ctx, endpoint, cancelRequest{Reason: reason}, nil, nil)
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req, nil)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body, out any, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req, headers)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil {
			apiErr.Message = errBody.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addHeaders(req *http.Request, extra map[string]string) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}
