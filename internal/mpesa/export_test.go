package mpesa

import "golang.org/x/time/rate"

func newLimiterForTest(rps float64) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(rps), 1)
}
