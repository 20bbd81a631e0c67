package httprequester

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/qpub/qpub-client-go/internal/errs"
)

// apiError is the expected shape of a QPub HTTP error body, matching
// the ERROR frame's fields (§6) so request-side and streaming-side
// error reporting stay symmetric.
type apiError struct {
	Code       int    `json:"code"`
	Href       string `json:"href"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

// parseAPIError extracts and classifies an error from a non-2xx HTTP
// response, adapted from the teacher's ParseAPIError
// (internal/rest/errors.go) with BinanceError swapped for the QPub
// ERROR-frame shape and *errs.Error instead of a package-local type.
func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap("httprequester.response", errs.KindInternalParseError, "failed to read error response", err)
	}

	var apiErr apiError
	if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Message != "" {
		if apiErr.StatusCode == 0 {
			apiErr.StatusCode = resp.StatusCode
		}
		return errs.ProtocolError("httprequester.response", apiErr.Code, apiErr.Href, apiErr.Message, apiErr.StatusCode)
	}

	bodyStr := strings.TrimSpace(string(body))
	if bodyStr == "" {
		bodyStr = "empty response"
	}
	return errs.ProtocolError("httprequester.response", 0, "", bodyStr, resp.StatusCode)
}

// isRetryableStatus reports whether an HTTP status code should trigger
// a retry, mirroring the teacher's retryable-status allowlist.
func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, netErr := range []string{
		"connection refused", "no such host", "timeout",
		"network unreachable", "connection reset",
	} {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}
	return false
}
