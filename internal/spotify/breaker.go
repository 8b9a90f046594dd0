package spotify

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/justestif/go-spotify-vibe-match/internal/logging"
	"github.com/justestif/go-spotify-vibe-match/internal/metrics"
)

const breakerName = "spotify-catalog"

// newBreaker returns the circuit breaker guarding catalog calls.
// It opens after 5 consecutive failures and probes again after 30 seconds.
// HTTP status errors are the user's problem (expired token, rate limit) and
// do not count as failures.
func newBreaker() *gobreaker.CircuitBreaker[any] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, isHTTP := httpStatus(err)
			return isHTTP
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// isRejected reports whether err came from the breaker rather than the API.
func isRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
