package outbox

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	retryInitialInterval = 30 * time.Second
	retryMaxInterval     = 30 * time.Minute
)

// retryDelay returns the wait before a record's next attempt, growing
// exponentially with its attempt count. A pass starting before the delay
// elapses skips the record, so a flapping connection cannot hammer the
// upstream with the same failing record.
func retryDelay(attempts int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialInterval
	eb.MaxInterval = retryMaxInterval

	delay := eb.NextBackOff()
	for i := 1; i < attempts; i++ {
		delay = eb.NextBackOff()
	}
	return delay
}
