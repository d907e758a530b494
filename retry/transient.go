package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"ewintr.nl/tubedigest/model"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// StatusError is returned by the hand written HTTP clients for unexpected
// response codes.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// CheckResponse returns a *StatusError for non 2xx responses. The body is not
// closed.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

// IsTransient reports whether err is expected to go away on retry: rate
// limits, 5xx responses and network trouble. Everything else, including 4xx
// auth and validation errors, is permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return transientStatus(statusErr.Code)
	}

	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) {
		if transientStatus(googleErr.Code) {
			return true
		}
		if googleErr.Code == http.StatusForbidden {
			for _, item := range googleErr.Errors {
				switch item.Reason {
				case "rateLimitExceeded", "userRateLimitExceeded":
					return true
				}
			}
		}
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
