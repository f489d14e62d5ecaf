package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"remix/internal/domain"
)

const (
	defaultInterval    = time.Second
	defaultMaxDuration = 5 * time.Minute
	defaultMaxRetries  = 3
)

// Update is one normalized status-check response from a provider.
type Update struct {
	Status domain.Status
	// Output carries result URLs for generation jobs, or the transient
	// trained-artifact URL for training jobs.
	Output []string
	Detail string
}

// FetchFunc performs a single status check against a provider.
type FetchFunc func(ctx context.Context) (Update, error)

// FatalError marks a fetch failure that must stop the poll immediately,
// such as a non-2xx response from the status endpoint. Transport-level
// failures without this marker are retried with bounded backoff.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so the poller aborts without retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Config bounds a polling loop.
type Config struct {
	// Interval between consecutive status checks.
	Interval time.Duration
	// MaxDuration is the wall-clock budget for the whole poll; expiry
	// yields domain.ErrTimeout.
	MaxDuration time.Duration
	// RetryInterval seeds the backoff applied to transient fetch errors.
	RetryInterval time.Duration
	// MaxRetries bounds transient-error retries per status check.
	MaxRetries uint64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = defaultMaxDuration
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 250 * time.Millisecond
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// Poll invokes fetch at the configured interval until the reported status is
// terminal, the wall-clock budget expires, or ctx is canceled. The first
// check happens immediately and no check is made after a terminal response.
func Poll(ctx context.Context, cfg Config, fetch FetchFunc) (Update, error) {
	cfg = cfg.withDefaults()

	pollCtx, cancel := context.WithTimeout(ctx, cfg.MaxDuration)
	defer cancel()

	for {
		update, err := fetchWithRetry(pollCtx, cfg, fetch)
		if err != nil {
			if timedOut(ctx, pollCtx) {
				return Update{Status: domain.StatusTimedOut}, domain.ErrTimeout
			}
			if ctx.Err() != nil {
				return Update{}, ctx.Err()
			}
			return Update{}, fmt.Errorf("%w: %s", domain.ErrPollFailed, err)
		}
		if update.Status.Terminal() {
			return update, nil
		}

		select {
		case <-pollCtx.Done():
			if timedOut(ctx, pollCtx) {
				return Update{Status: domain.StatusTimedOut}, domain.ErrTimeout
			}
			return Update{}, ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}
}

func fetchWithRetry(ctx context.Context, cfg Config, fetch FetchFunc) (Update, error) {
	op := func() (Update, error) {
		update, err := fetch(ctx)
		if err != nil {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				return Update{}, backoff.Permanent(fatal.Err)
			}
			return Update{}, err
		}
		return update, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryInterval
	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, cfg.MaxRetries), ctx))
}

// timedOut distinguishes the poll budget expiring from the caller canceling.
func timedOut(parent, pollCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded)
}
