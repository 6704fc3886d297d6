// Package retry wraps outbound calls that can fail transiently — trust-list
// downloads, OCSP lookups, IDP signing-key fetches — in exponential backoff.
// No repo in the example pack calls github.com/cenkalti/backoff/v4 directly,
// but it already rides along as a transitive dependency of several of them
// (AKJUS-bsc-erigon's go.mod carries it directly; codeninja55-go-radx,
// jordigilh-kubernaut, and a number of other_examples manifests pull it in
// indirectly), so it is the backoff library this corpus already settled on
// rather than a hand-rolled one.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures an exponential backoff run.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultPolicy matches the Fachdienst's PKI refresh cadence: fast first
// retry, capped backoff, give up rather than blocking startup forever.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
	}
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	return backoff.WithContext(b, ctx)
}

// Do runs fn, retrying on error with exponential backoff until it succeeds,
// the policy's MaxElapsedTime is exhausted, or ctx is cancelled. fn is
// responsible for distinguishing retryable failures from permanent ones; a
// caller that wants to stop retrying early should wrap the permanent error
// in backoff.Permanent.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	return backoff.Retry(fn, policy.backoff(ctx))
}

// Notify is like Do but invokes onRetry before each sleep, so callers can log
// the attempt the way the teacher's health checker records consecutive
// failures.
func Notify(ctx context.Context, policy Policy, fn func() error, onRetry func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(fn, policy.backoff(ctx), onRetry)
}
