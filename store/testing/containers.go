// Package storetesting provides throwaway database containers for
// integration tests.
package storetesting

import (
	"strings"
	"time"
)

const containerStartAttempts = 3

// isRetryableContainerStartErr reports whether a container start failure is
// worth retrying (port races and readiness timeouts on busy CI hosts).
func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused")
}

func startBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 750 * time.Millisecond
}
