// Package retry retries failed calls with exponential back-off and jitter.
// It offers a client middleware for pipeline clients and the generic [Do]
// helper for anything else. Neither is ever installed on the server side.
package retry

import (
	"math"
	"time"
)

// backoff returns the delay before the retry that follows the failed attempt
// with the given index (0 for the first failure). The exponential value is
// capped at MaxDelay and then jittered into [capped/2, capped]:
//
//	delay = round(min(MaxDelay, 2^attempt * BaseDelay) * (1 + rand) / 2)
func backoff(cfg Config, attempt int) time.Duration {
	capped := math.Min(float64(cfg.MaxDelay), math.Pow(2, float64(attempt))*float64(cfg.BaseDelay))
	return time.Duration(math.Round(capped * (1 + cfg.Rand()) / 2))
}
