package progress

import (
	"context"
	"sync"

	"github.com/kausalhq/kausal/internal/logging"
)

// DefaultBreakerThreshold is the number of consecutive delivery failures
// after which updates stop being attempted.
const DefaultBreakerThreshold = 3

// Breaker wraps a Reporter with a circuit breaker. After threshold
// consecutive failures the circuit opens and further updates are dropped
// without being attempted; a single successful delivery closes it again.
// A Breaker is scoped to one job, so an open circuit never outlives the
// investigation that tripped it.
type Breaker struct {
	inner     Reporter
	threshold int
	logger    *logging.Logger

	mu       sync.Mutex
	failures int
	open     bool
}

// NewBreaker wraps inner with a circuit breaker. A threshold <= 0 uses
// DefaultBreakerThreshold.
func NewBreaker(inner Reporter, threshold int, logger *logging.Logger) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if logger == nil {
		logger = logging.GetLogger("progress")
	}
	return &Breaker{
		inner:     inner,
		threshold: threshold,
		logger:    logger,
	}
}

// Report implements Reporter. When the circuit is open the update is
// dropped and nil is returned: progress delivery is advisory and an open
// circuit is not an error the caller can act on.
func (b *Breaker) Report(ctx context.Context, u Update) error {
	b.mu.Lock()
	if b.open {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	err := b.inner.Report(ctx, u)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.failures >= b.threshold {
			b.open = true
			b.logger.Warn("progress circuit opened for job %s after %d consecutive failures: %v", u.JobID, b.failures, err)
		}
		return err
	}
	b.failures = 0
	return nil
}

// Open reports whether the circuit is currently open.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
