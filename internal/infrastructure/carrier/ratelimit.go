package carrier

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shipsync/backend/internal/domain/shipping"
)

// Rate-limit response headers reported by the remote platforms
const (
	HeaderRateLimitLimit     = "X-Rate-Limit-Limit"
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitReset     = "X-Rate-Limit-Reset"
)

// ParseRateLimit reads the quota window from response headers. The window is
// Known only when the remaining count is present and numeric.
func ParseRateLimit(h http.Header) shipping.RateLimitWindow {
	remaining, ok := headerInt(h, HeaderRateLimitRemaining)
	if !ok {
		return shipping.RateLimitWindow{}
	}
	limit, _ := headerInt(h, HeaderRateLimitLimit)
	reset, _ := headerInt(h, HeaderRateLimitReset)
	return shipping.RateLimitWindow{
		Limit:        limit,
		Remaining:    remaining,
		ResetSeconds: reset,
		Known:        true,
	}
}

// ExhaustedWindow is the window assumed for a 429 response. Header values win
// when present; remaining is forced to zero either way.
func ExhaustedWindow(h http.Header) shipping.RateLimitWindow {
	limit, _ := headerInt(h, HeaderRateLimitLimit)
	reset, ok := headerInt(h, HeaderRateLimitReset)
	if !ok {
		reset, _ = headerInt(h, "Retry-After")
	}
	return shipping.RateLimitWindow{
		Limit:        limit,
		Remaining:    0,
		ResetSeconds: reset,
		Known:        true,
	}
}

func headerInt(h http.Header, key string) (int, bool) {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
