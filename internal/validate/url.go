package validate

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrDisallowedScheme = errors.New("URL scheme must be http or https")
)

const maxServiceURLLength = 2048

// ServiceURL checks the base URL of a downstream service (the model API,
// the rerank service). Plain http is accepted for in-cluster hosts.
// Credentials embedded in the URL are rejected; keys have their own
// settings and would otherwise end up in logs.
func ServiceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmpty
	}
	if len(raw) > maxServiceURLLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, maxServiceURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w, got %q", ErrDisallowedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: credentials in URL", ErrInvalidURL)
	}
	return raw, nil
}
