package esi

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryDelay extracts how long to back off after a throttled response.
// It checks the standard Retry-After header first, then ESI's error-limit
// headers when the error budget is exhausted. Returns 0 if neither applies.
func ParseRetryDelay(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
			return 0
		}
	}

	if resp.Header.Get("X-ESI-Error-Limit-Remain") == "0" {
		if reset, err := strconv.Atoi(resp.Header.Get("X-ESI-Error-Limit-Reset")); err == nil {
			return time.Duration(reset) * time.Second
		}
	}

	return 0
}
