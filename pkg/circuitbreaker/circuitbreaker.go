package circuitbreaker

import "github.com/sony/gobreaker"

var (
	// MaxNumOfFailingTransfers ...
	MaxNumOfFailingTransfers = 5
	// FailingRatio ...
	FailingRatio = 0.6
)

// NewRefundBreaker returns a *gobreaker.CircuitBreaker guarding the refund
// transfer path against a flapping payment rail. It trips once the number of
// failing transfers reached a tweakable MaxNumOfFailingTransfers cap and the
// failing ratio has met the FailingRatio.
func NewRefundBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "refunds",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return int(counts.Requests) > MaxNumOfFailingTransfers && ratio >= FailingRatio
		},
	})
}
