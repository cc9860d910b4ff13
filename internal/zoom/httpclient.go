package zoom

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nicliuqi/test-opengauss-meetings/internal/recording"
)

// HTTPClientConfig holds configuration for the Zoom HTTP clients
type HTTPClientConfig struct {
	Timeout         time.Duration // Request timeout
	FollowRedirects bool          // Whether to follow redirects
	MaxRedirects    int           // Maximum number of redirects to follow
}

// NewHTTPClient creates an HTTP client with the configured redirect policy
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("too many redirects: %d", len(via))
			}
			return nil
		}
	}
	return client
}

// checkResponse converts a non-2xx response into a TransientNetworkError.
// The body is consumed and closed in that case.
func checkResponse(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()

	var cause error = fmt.Errorf("HTTP error %d: %s", resp.StatusCode, resp.Status)
	if apiErr := parseAPIError(resp.StatusCode, body); apiErr != nil {
		cause = apiErr
	}
	return &recording.TransientNetworkError{Op: op, StatusCode: resp.StatusCode, Err: cause}
}

// parseAPIError attempts to parse a Zoom API error response
func parseAPIError(statusCode int, body []byte) *APIError {
	if len(body) == 0 {
		return nil
	}
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil
	}
	if apiErr.Code == 0 && apiErr.Message == "" {
		return nil
	}
	apiErr.Status = statusCode
	return &apiErr
}
