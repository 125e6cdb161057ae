package wfs

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

	"github.com/geomonitor/prodes-ingest/internal/logging"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the TerraBrasilis GeoServer.
	DefaultBaseURL = "https://terrabrasilis.dpi.inpe.br/geoserver"

	// SourceSRS is the reference system requested from the service.
	SourceSRS = "EPSG:4674"

	DefaultPageSize = 10000
	DefaultTimeout  = 5 * time.Minute

	outputFormat = "application/json"
	component    = "wfs"
)

var ErrInvalidQuery = errors.New("invalid wfs query")

// FetchError means a page could not be retrieved within the retry
// budget, or its body could not be decoded. No features of the window
// are usable when it is returned.
type FetchError struct {
	Workspace  string
	Layer      string
	Offset     int
	Attempts   int
	StatusCode int // last HTTP status, 0 if the request never got a response
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s:%s at startIndex=%d failed after %d attempt(s)", e.Workspace, e.Layer, e.Offset, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (last status %d)", e.StatusCode)
	}
	return msg + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("wfs status %d", e.StatusCode)
	}
	return fmt.Sprintf("wfs status %d: %s", e.StatusCode, e.Body)
}

// Client pages through GetFeature results of a GeoServer WFS.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     RetryPolicy
	limiter    *rate.Limiter
	sleep      SleepFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (5 minute timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRateLimit spaces requests by every; zero disables limiting.
func WithRateLimit(every time.Duration) Option {
	return func(c *Client) {
		if every <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(every), 1)
	}
}

// WithSleep replaces the wait used between retries.
func WithSleep(s SleepFunc) Option {
	return func(c *Client) { c.sleep = s }
}

// NewClient creates a client for the GeoServer at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		policy:     DefaultRetryPolicy(),
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns every feature matching q, one page at a time. It stops
// on an empty page or on a page shorter than q.PageSize. A page that
// still fails after the retry budget aborts the whole fetch with
// *FetchError; no partial result is returned.
func (c *Client) Fetch(ctx context.Context, q Query) ([]RawFeature, error) {
	if q.Workspace == "" || q.Layer == "" {
		return nil, fmt.Errorf("%w: workspace and layer are required", ErrInvalidQuery)
	}
	if q.PageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidQuery, q.PageSize)
	}
	if q.YearEnd < q.YearStart {
		return nil, fmt.Errorf("%w: year range %d-%d is reversed", ErrInvalidQuery, q.YearStart, q.YearEnd)
	}

	var all []RawFeature
	offset := 0
	for {
		page, err := c.fetchPage(ctx, q, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		if len(page) == 0 || len(page) < q.PageSize {
			break
		}
		offset += q.PageSize
	}
	return all, nil
}

func (c *Client) endpoint(workspace, layer string) string {
	return fmt.Sprintf("%s/%s/%s/wfs", c.baseURL, url.PathEscape(workspace), url.PathEscape(layer))
}

func buildParams(q Query, offset int) url.Values {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "GetFeature")
	params.Set("typename", q.Workspace+":"+q.Layer)
	params.Set("outputFormat", outputFormat)
	params.Set("srsName", SourceSRS)
	params.Set("CQL_FILTER", fmt.Sprintf("year BETWEEN %d AND %d", q.YearStart, q.YearEnd))
	params.Set("sortBy", "year A")
	params.Set("startIndex", strconv.Itoa(offset))
	params.Set("count", strconv.Itoa(q.PageSize))
	return params
}

func (c *Client) fetchPage(ctx context.Context, q Query, offset int) ([]RawFeature, error) {
	base := c.endpoint(q.Workspace, q.Layer)
	fullURL := fmt.Sprintf("%s?%s", base, buildParams(q, offset).Encode())

	var (
		attempts   int
		lastStatus int
		features   []RawFeature
	)
	backoff := sleepingBackoff(ctx, c.policy.backoff(), c.sleep)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		logging.LogRequest(component, http.MethodGet, base, map[string]interface{}{
			"startIndex": offset,
			"count":      q.PageSize,
			"attempt":    attempts,
		})

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastStatus = 0
			logging.LogError(component, "fetch", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(fmt.Errorf("wfs request: %w", err))
		}
		defer resp.Body.Close()

		lastStatus = resp.StatusCode
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			logging.For(component).Warn("page request failed",
				"status", resp.StatusCode, "startIndex", offset, "attempt", attempts, "of", c.policy.Attempts)
			return retry.RetryableError(serr)
		}

		var page FeatureCollection
		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(&page); err != nil {
			logging.LogError(component, "decode", err)
			return fmt.Errorf("decode feature collection: %w", err)
		}

		features = page.Features
		logging.LogResponse(component, resp.StatusCode, time.Since(start), len(features))
		return nil
	})
	if err != nil {
		return nil, &FetchError{
			Workspace:  q.Workspace,
			Layer:      q.Layer,
			Offset:     offset,
			Attempts:   attempts,
			StatusCode: lastStatus,
			Err:        err,
		}
	}
	return features, nil
}

// ProbeResult describes a single-feature request against a layer.
type ProbeResult struct {
	StatusCode    int
	NumberMatched string
	Returned      int
	Duration      time.Duration
}

// Probe asks the layer for one feature, without retries, to check that
// the workspace and layer exist and the service answers.
func (c *Client) Probe(ctx context.Context, workspace, layer string) (ProbeResult, error) {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "GetFeature")
	params.Set("typename", workspace+":"+layer)
	params.Set("outputFormat", outputFormat)
	params.Set("count", "1")

	fullURL := fmt.Sprintf("%s?%s", c.endpoint(workspace, layer), params.Encode())
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	res := ProbeResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
	if resp.StatusCode != http.StatusOK {
		return res, &StatusError{StatusCode: resp.StatusCode}
	}

	var page FeatureCollection
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&page); err != nil {
		return res, fmt.Errorf("decode probe: %w", err)
	}
	res.Returned = len(page.Features)
	switch {
	case page.NumberMatched != nil:
		res.NumberMatched = fmt.Sprint(page.NumberMatched)
	case page.TotalFeatures != nil:
		res.NumberMatched = fmt.Sprint(page.TotalFeatures)
	}
	return res, nil
}
