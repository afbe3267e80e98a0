// Package tracker runs the scrape and publish loop.
package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/farwydi/bookaware"
	"github.com/farwydi/bookaware/homeassistant"
)

// FirstRetry is the delay before retrying a failed scrape.
const FirstRetry = time.Minute

// LoanSource fetches the current loans of one account.
type LoanSource interface {
	Loans(ctx context.Context) ([]bookaware.Loan, error)
}

// HistoryRecorder stores loan snapshots; may be nil.
type HistoryRecorder interface {
	Record(ctx context.Context, account string, scrapedAt time.Time, loans []bookaware.Loan) error
}

// Observer receives scrape outcomes; may be nil.
type Observer interface {
	ScrapeSucceeded(at time.Time, loans, dueSoon int)
	ScrapeFailed()
}

type Tracker struct {
	Source    LoanSource
	Publisher *homeassistant.Publisher
	History   HistoryRecorder
	Observer  Observer
	Logger    bookaware.Logger
	Account   string
	Interval  time.Duration
	Now       func() time.Time
}

func (t *Tracker) logger() bookaware.Logger {
	if t.Logger == nil {
		return bookaware.NewNopLogger()
	}
	return t.Logger
}

func (t *Tracker) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// Once scrapes, publishes the sensor states and records history.
func (t *Tracker) Once(ctx context.Context) ([]bookaware.Loan, error) {
	loans, err := t.Source.Loans(ctx)
	if err != nil {
		if t.Observer != nil {
			t.Observer.ScrapeFailed()
		}
		return nil, fmt.Errorf("scrape: %w", err)
	}

	at := t.now()
	summary, err := t.Publisher.PublishLoans(loans, at)
	if err != nil {
		return loans, fmt.Errorf("publish: %w", err)
	}

	if t.Observer != nil {
		t.Observer.ScrapeSucceeded(at, len(loans), summary.DueSoon)
	}

	if t.History != nil {
		if err := t.History.Record(ctx, t.Account, at, loans); err != nil {
			// the sensors are already out; history is best effort
			t.logger().Warnw("failed to record history", "error", err)
		}
	}

	t.logger().Infow("loans published",
		"count", len(loans),
		"due_total", summary.DueTotal,
		"due_soon", summary.DueSoon,
	)
	return loans, nil
}

// Run publishes discovery once and then cycles until ctx is done. A failed
// cycle is retried with exponential backoff capped at Interval.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.Publisher.PublishDiscovery(); err != nil {
		return fmt.Errorf("publish discovery: %w", err)
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = FirstRetry
	if retry.InitialInterval > t.Interval {
		retry.InitialInterval = t.Interval
	}
	retry.MaxInterval = t.Interval
	retry.MaxElapsedTime = 0
	retry.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		wait := t.Interval
		if _, err := t.Once(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = retry.NextBackOff()
			t.logger().Errorw("cycle failed", "error", err, "retry_in", wait)
		} else {
			retry.Reset()
		}

		timer.Reset(wait)
	}
}
