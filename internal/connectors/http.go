package connectors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Пути REST-апстрима.
const (
	EndpointLogs          = "/logs/"
	EndpointMapLogs       = "/maplogs/"
	EndpointLogCounts     = "/logs/counts/"
	EndpointTopCountries  = "/charts/top-countries/"
	EndpointAttackTrends  = "/charts/attack-trends/"
	EndpointTimeOfDay     = "/charts/time-of-day/"
	maxResponseBodyBytes  = 8 << 20
	defaultRequestTimeout = 10 * time.Second
)

// HTTPClient: тонкий GET-клиент к REST-апстриму. Повторы и предохранитель
// навешиваются снаружи (engine.ReliabilityWrapper).
type HTTPClient struct {
	base   *url.URL
	client *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("connectors: invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("connectors: base url %q must be http(s)", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{base: u, client: &http.Client{Timeout: timeout}}, nil
}

// Get возвращает тело ответа для endpoint (путь + опциональный query).
func (c *HTTPClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("connectors: invalid endpoint %q: %w", endpoint, err)
	}
	target := *c.base
	target.Path = c.base.Path + ref.Path
	target.RawQuery = ref.RawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connectors: GET %s: %w", ref.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "":
		return nil, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Cause:      &StatusError{Endpoint: ref.Path, Code: resp.StatusCode},
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Endpoint: ref.Path, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("connectors: read %s: %w", ref.Path, err)
	}
	return body, nil
}
