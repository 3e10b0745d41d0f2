// Package client fetches topics and raw readings from the telemetry data API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/vjranagit/solarmon/pkg/query"
	"github.com/vjranagit/solarmon/pkg/types"
)

// HeaderRequestID carries the per-request correlation id
const HeaderRequestID = "X-Request-ID"

// API paths
const (
	PathTopics            = "/_/topics"
	PathData              = "/_/data"
	PathEarliestTimestamp = "/_/data/timestamp/earliest"
	PathLatestTimestamp   = "/_/data/timestamp/latest"
)

// Config holds client configuration
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:9090",
		Timeout:    10 * time.Second,
		RetryCount: 2,
	}
}

// Error is a non-2xx response from the data API
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("data API returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("data API returned %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

// Client is a data API client. It is safe for concurrent use.
type Client struct {
	rc *resty.Client
}

// New creates a client for the API at cfg.BaseURL
func New(cfg Config) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= 500)
		})
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}

	return &Client{rc: rc}
}

// Topics fetches all topics known to the API
func (c *Client) Topics(ctx context.Context) ([]types.Topic, error) {
	var topics []types.Topic
	if err := c.get(ctx, PathTopics, nil, &topics); err != nil {
		return nil, err
	}
	return topics, nil
}

// EarliestTimestamp fetches the time of the oldest stored reading
func (c *Client) EarliestTimestamp(ctx context.Context) (time.Time, error) {
	return c.timestamp(ctx, PathEarliestTimestamp)
}

// LatestTimestamp fetches the time of the newest stored reading
func (c *Client) LatestTimestamp(ctx context.Context) (time.Time, error) {
	return c.timestamp(ctx, PathLatestTimestamp)
}

func (c *Client) timestamp(ctx context.Context, path string) (time.Time, error) {
	var raw json.RawMessage
	if err := c.get(ctx, path, nil, &raw); err != nil {
		return time.Time{}, err
	}

	ts, err := types.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return ts, nil
}

// Readings fetches the raw readings selected by p. The granularity of p is
// not sent; the API only serves raw readings.
func (c *Client) Readings(ctx context.Context, p types.QueryParameters) ([]types.Reading, error) {
	var readings []types.Reading
	if err := c.get(ctx, PathData, query.Values(p), &readings); err != nil {
		return nil, err
	}

	for i := range readings {
		if readings[i].TopicID == 0 {
			readings[i].TopicID = p.TopicID
		}
	}
	return readings, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	req := c.rc.R().
		SetContext(ctx).
		SetHeader(HeaderRequestID, uuid.NewString())
	if params != nil {
		req.SetQueryParamsFromValues(params)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", path, err)
	}
	if !resp.IsSuccess() {
		return decodeError(resp)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// decodeError builds an *Error from the API's {code, message} body,
// falling back to the raw body
func decodeError(resp *resty.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode()}

	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Message != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(resp.Body()))
	if apiErr.Message == "" {
		apiErr.Message = resp.Status()
	}
	return apiErr
}
