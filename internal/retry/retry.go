// Package retry applies bounded exponential backoff at adapter boundaries.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"reviewflow/internal/domain"
)

type Policy struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// BackOff builds a fresh exponential backoff bound to ctx.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxElapsed > 0 {
		b.MaxElapsedTime = p.MaxElapsed
	}
	return backoff.WithContext(b, ctx)
}

// Do runs op, retrying while it fails with a transient error. Other errors are
// returned as is; exhausted retries become a domain.UnavailableError naming name.
func Do(ctx context.Context, p Policy, name string, op func() error) error {
	var lastTransient error
	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if Transient(err) {
			lastTransient = err
			return err
		}
		return backoff.Permanent(err)
	}, p.BackOff(ctx))
	if err != nil && lastTransient != nil && err == lastTransient {
		var unavailable domain.UnavailableError
		if errors.As(err, &unavailable) {
			return err
		}
		return domain.UnavailableError{Op: name, Err: err}
	}
	return err
}

// Transient reports whether err is a lock, busy or unavailability condition.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var unavailable domain.UnavailableError
	if errors.As(err, &unavailable) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
