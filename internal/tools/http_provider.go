package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/cache"
)

// HTTPProvider queries a mirador-core style observability API over JSON.
type HTTPProvider struct {
	baseURL       string
	metricsPath   string
	logsPath      string
	defaultWindow time.Duration
	httpClient    *http.Client
	cache         cache.Provider
	cacheTTL      time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewHTTPProvider constructs a provider targeting baseURL. A nil cache disables result caching.
func NewHTTPProvider(baseURL, metricsPath, logsPath string, timeout, defaultWindow time.Duration, cacheProvider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) *HTTPProvider {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if defaultWindow <= 0 {
		defaultWindow = time.Hour
	}
	return &HTTPProvider{
		baseURL:       strings.TrimRight(baseURL, "/"),
		metricsPath:   metricsPath,
		logsPath:      logsPath,
		defaultWindow: defaultWindow,
		httpClient:    &http.Client{Timeout: timeout},
		cache:         cacheProvider,
		cacheTTL:      cacheTTL,
		logger:        logger,
		now:           time.Now,
	}
}

// Metrics fetches a metric series.
func (c *HTTPProvider) Metrics(ctx context.Context, q MetricsQuery) (MetricsResult, error) {
	if err := c.ready(); err != nil {
		return MetricsResult{}, err
	}
	window := c.window(q.Window)
	end := c.now().UTC()
	start := end.Add(-window)

	cacheKey := fmt.Sprintf("tools:metrics:%s:%s:%s", q.Service, q.Metric, window)
	var cached MetricsResult
	if c.fromCache(ctx, cacheKey, &cached) {
		return cached, nil
	}

	payload := map[string]any{
		"service": q.Service,
		"metric":  q.Metric,
		"start":   start.Format(time.RFC3339),
		"end":     end.Format(time.RFC3339),
	}

	var response struct {
		Series []MetricPoint `json:"series"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.metricsPath), payload, &response); err != nil {
		return MetricsResult{}, fmt.Errorf("metrics request failed: %w", err)
	}

	avg, max := summarise(response.Series)
	result := MetricsResult{
		Service: q.Service,
		Metric:  q.Metric,
		Points:  response.Series,
		Avg:     avg,
		Max:     max,
		Count:   len(response.Series),
	}
	c.toCache(ctx, cacheKey, result)
	return result, nil
}

// Logs fetches error log aggregates.
func (c *HTTPProvider) Logs(ctx context.Context, q LogsQuery) (LogsResult, error) {
	if err := c.ready(); err != nil {
		return LogsResult{}, err
	}
	window := c.window(q.Window)
	pattern := q.Pattern
	if pattern == "" {
		pattern = "ERROR"
	}
	end := c.now().UTC()
	start := end.Add(-window)

	cacheKey := fmt.Sprintf("tools:logs:%s:%s:%s", q.Service, pattern, window)
	var cached LogsResult
	if c.fromCache(ctx, cacheKey, &cached) {
		return cached, nil
	}

	payload := map[string]any{
		"service": q.Service,
		"pattern": pattern,
		"start":   start.Format(time.RFC3339),
		"end":     end.Format(time.RFC3339),
	}

	var response struct {
		Entries []LogEntry `json:"entries"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.logsPath), payload, &response); err != nil {
		return LogsResult{}, fmt.Errorf("logs request failed: %w", err)
	}

	total := 0
	for _, e := range response.Entries {
		if e.Count <= 0 {
			total++
			continue
		}
		total += e.Count
	}
	result := LogsResult{Service: q.Service, Pattern: pattern, Entries: response.Entries, EventCount: total}
	c.toCache(ctx, cacheKey, result)
	return result, nil
}

// Health composes error logs and CPU metrics into a health verdict.
func (c *HTTPProvider) Health(ctx context.Context, q HealthQuery) (HealthResult, error) {
	logs, err := c.Logs(ctx, LogsQuery{Service: q.Service, Pattern: "ERROR", Window: q.Window})
	if err != nil {
		return HealthResult{}, err
	}
	cpu, err := c.Metrics(ctx, MetricsQuery{Service: q.Service, Metric: "cpu", Window: q.Window})
	if err != nil {
		return HealthResult{}, err
	}
	return AssessHealth(q.Service, logs, cpu, c.now().UTC()), nil
}

func (c *HTTPProvider) ready() error {
	if c == nil {
		return fmt.Errorf("observability provider not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("observability base URL not configured")
	}
	return nil
}

func (c *HTTPProvider) window(w time.Duration) time.Duration {
	if w <= 0 {
		return c.defaultWindow
	}
	return w
}

func (c *HTTPProvider) fromCache(ctx context.Context, key string, out any) bool {
	if c.cacheTTL <= 0 || fresh(ctx) {
		return false
	}
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug("tool cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (c *HTTPProvider) toCache(ctx context.Context, key string, value any) {
	if c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
		c.logger.Debug("tool cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *HTTPProvider) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *HTTPProvider) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("observability API returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type freshKey struct{}

// Fresh marks ctx so that providers bypass cached results. Verification uses it after remediation.
func Fresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshKey{}, true)
}

func fresh(ctx context.Context) bool {
	v, _ := ctx.Value(freshKey{}).(bool)
	return v
}
