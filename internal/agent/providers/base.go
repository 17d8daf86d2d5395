package providers

import (
	"context"
	"time"

	"github.com/fieldstonelabs/cadagent/internal/retry"
)

// BaseProvider holds shared retry configuration for LLM providers.
type BaseProvider struct {
	name   string
	config retry.Config
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name: name,
		config: retry.Config{
			MaxAttempts:  maxRetries,
			InitialDelay: retryDelay,
			MaxDelay:     retryDelay * time.Duration(maxRetries),
			Factor:       1.5,
			Jitter:       true,
		},
	}
}

// Retry executes op with backoff, stopping early when isRetryable reports
// an error as non-retryable (e.g. a 4xx from the provider's API).
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	result := retry.Do(ctx, b.config, func() error {
		err := op()
		if err == nil || isRetryable == nil || isRetryable(err) {
			return err
		}
		return retry.Permanent(err)
	})
	if permanent, ok := result.Err.(*retry.PermanentError); ok {
		return permanent.Unwrap()
	}
	return result.Err
}
