package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout bounds every single call to the processor.
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		AttemptTimeout:  5 * time.Second,
	}
}

// RetryingProcessor retries calls that fail with domain.ErrProcessorUnavailable
// using exponential backoff. Rejections are returned at once.
type RetryingProcessor struct {
	next   Processor
	policy RetryPolicy
	logger *slog.Logger
}

func NewRetryingProcessor(next Processor, policy RetryPolicy, logger *slog.Logger) *RetryingProcessor {
	return &RetryingProcessor{next: next, policy: policy, logger: logger}
}

func (p *RetryingProcessor) CreateIntent(ctx context.Context, req CreateRequest) (string, error) {
	return retry(ctx, p, "create_intent", func(ctx context.Context) (string, error) {
		return p.next.CreateIntent(ctx, req)
	})
}

func (p *RetryingProcessor) Confirm(ctx context.Context, processorID, methodRef string) (Result, error) {
	return retry(ctx, p, "confirm", func(ctx context.Context) (Result, error) {
		return p.next.Confirm(ctx, processorID, methodRef)
	})
}

func retry[T any](ctx context.Context, p *RetryingProcessor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.policy.InitialInterval
	b.MaxInterval = p.policy.MaxInterval

	attempt := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		attemptCtx := ctx
		if p.policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.policy.AttemptTimeout)
			defer cancel()
		}

		v, err := fn(attemptCtx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, domain.ErrProcessorUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.WarnContext(ctx, "payment processor call failed, retrying",
				"error", err, "operation", op, "attempt", attempt)
			return v, err
		}
		return v, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.policy.MaxTries))

	if err != nil && !errors.Is(err, domain.ErrProcessorUnavailable) && !errors.Is(err, domain.ErrProcessorRejected) {
		err = fmt.Errorf("%w: %w", domain.ErrProcessorUnavailable, err)
	}
	return result, err
}
