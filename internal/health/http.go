package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker checks an HTTP dependency, such as the rerank service, by
// requiring a 2xx from its health URL.
type HTTPChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChecker creates a checker for the service called name at url.
func NewHTTPChecker(name, url string) *HTTPChecker {
	return &HTTPChecker{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck performs a GET on the health URL.
func (c *HTTPChecker) HealthCheck(ctx context.Context) error {
	if c.url == "" {
		return fmt.Errorf("%s url not configured", c.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s unhealthy: unexpected status code %d", c.name, resp.StatusCode)
	}
	return nil
}
