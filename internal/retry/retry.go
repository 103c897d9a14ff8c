// Package retry runs an operation a bounded number of times with
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds the attempts and the wait between them.
type Policy struct {
	Attempts   int           `yaml:"attempts"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Timeout    time.Duration `yaml:"timeout"` // per attempt, 0 = none
	Multiplier float64       `yaml:"multiplier"`
}

// DefaultPolicy tries three times, waiting 500ms then 1s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Timeout:    30 * time.Second,
		Multiplier: 2,
	}
}

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, the attempts
// run out, or ctx is done. Each attempt gets its own timeout when the
// policy sets one.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay

	var (
		err   error
		tried int
	)
	for i := 1; i <= attempts; i++ {
		tried = i
		err = attempt(ctx, p.Timeout, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("after %d attempts: %w", i, errors.Join(err, ctx.Err()))
		}
		if IsPermanent(err) || i == attempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("after %d attempts: %w", i, errors.Join(err, ctx.Err()))
		case <-t.C:
		}
		delay = next(delay, p)
	}
	return fmt.Errorf("after %d attempts: %w", tried, err)
}

func attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func next(d time.Duration, p Policy) time.Duration {
	m := p.Multiplier
	if m < 1 {
		m = 2
	}
	d = time.Duration(float64(d) * m)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
