/*
Package resilience provides a circuit breaker used to contain repeated
browser worker launch failures.

A profile whose worker binary keeps dying at startup (corrupt data dir,
missing binary, OS resource exhaustion) would otherwise be relaunched on
every start request and every auto-restart tick. Each profile gets its own
breaker: after enough consecutive launch failures the breaker opens and
launch attempts fail fast with ErrCircuitOpen until the timeout elapses.

# Usage

	group := resilience.NewGroup(resilience.Settings{
		Timeout: time.Minute,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	_, err := group.For(profileID).Execute(func() (interface{}, error) {
		return launchWorker()
	})
*/
package resilience
