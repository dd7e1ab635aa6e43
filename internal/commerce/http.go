package commerce

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultDomain is the hosted commerce platform domain.
	DefaultDomain = "commercelayer.io"

	defaultHTTPTimeout = 20 * time.Second
	maxResponseBytes   = 4 << 20
)

// HTTPClientConfig controls the shared outbound client.
type HTTPClientConfig struct {
	Timeout time.Duration
	// Retries is the number of extra attempts on transport errors and 5xx/429.
	// Zero means a single attempt.
	Retries int
	Logger  *slog.Logger
}

// NewHTTPClient builds the client used for token and catalog calls.
// Non-2xx responses are passed through untouched so callers can surface the
// upstream status and body.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.Retries
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if cfg.Logger != nil {
		rc.Logger = cfg.Logger
	}
	return rc.StandardClient()
}

// AuthURL returns the OAuth token endpoint for a platform domain.
func AuthURL(domain string) string {
	if strings.TrimSpace(domain) == "" {
		domain = DefaultDomain
	}
	return "https://auth." + domain + "/oauth/token"
}

// APIURL returns the organization's API base URL.
func APIURL(organization, domain string) string {
	if strings.TrimSpace(domain) == "" {
		domain = DefaultDomain
	}
	return "https://" + organization + "." + domain
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
