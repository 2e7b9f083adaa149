package hubspot

import (
	"golang.org/x/time/rate"

	"hsexport/internal/config"
)

// newLimiter creates the client-side rate limiter, falling back to defaults for unset values.
func newLimiter(cfg config.APIConfig) *rate.Limiter {
	rps := 9.0
	burst := 10
	if cfg.RPS > 0 {
		rps = cfg.RPS
	}
	if cfg.Burst > 0 {
		burst = cfg.Burst
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
