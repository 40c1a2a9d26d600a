package classifier

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker guards a classifier with a circuit breaker and a per-call timeout.
type Breaker struct {
	next    Classifier
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func WithBreaker(next Classifier, timeout time.Duration) *Breaker {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Breaker{
		next:    next,
		timeout: timeout,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "classifier-" + next.Name(),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
	}
}

func (b *Breaker) Name() string { return b.next.Name() }

// State reports the breaker state, e.g. "closed" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Classify(ctx context.Context, text string) (*Result, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return b.next.Classify(callCtx, text)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Result), nil
}
