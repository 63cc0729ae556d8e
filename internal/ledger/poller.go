package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/mlledger/internal/blob"
	"github.com/me/mlledger/internal/logging"
	"github.com/me/mlledger/pkg/model"
)

// DefaultPollInterval is the wait between ledger reads.
const DefaultPollInterval = 10 * time.Second

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real-time SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poller waits for a record with a given correlation key to appear.
type Poller struct {
	store    blob.Store
	key      string
	interval time.Duration
	sleep    SleepFunc
	logger   *slog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithSleep replaces the wait between polls.
func WithSleep(fn SleepFunc) PollerOption {
	return func(p *Poller) {
		p.sleep = fn
	}
}

// NewPoller returns a Poller for the ledger at key. A non-positive interval
// means DefaultPollInterval.
func NewPoller(store blob.Store, key string, interval time.Duration, logger *slog.Logger, opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Poller{
		store:    store,
		key:      key,
		interval: interval,
		sleep:    Sleep,
		logger:   logger.With("component", "ledger-poller", "key", key),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AwaitRecord blocks until the ledger holds a record whose correlation key
// equals correlationKey and returns the last such record. A missing ledger
// and a ledger without a match are treated alike: wait and read again.
//
// There is no timeout. The wait ends on a match, a store or decode failure,
// or cancellation of ctx.
func (p *Poller) AwaitRecord(ctx context.Context, correlationKey string) (model.Record, error) {
	for attempt := 1; ; attempt++ {
		rec, found, err := p.check(ctx, correlationKey)
		if err != nil {
			return model.Record{}, err
		}
		if found {
			p.logger.Info("record found",
				"correlation_key", correlationKey,
				"job_identifier", rec.JobIdentifier,
				"attempts", attempt,
			)
			return rec, nil
		}

		p.logger.Debug("no matching record yet", "correlation_key", correlationKey, "attempt", attempt, "retry_in", p.interval)
		if err := p.sleep(ctx, p.interval); err != nil {
			return model.Record{}, err
		}
	}
}

func (p *Poller) check(ctx context.Context, correlationKey string) (model.Record, bool, error) {
	data, err := p.store.Fetch(ctx, p.key)
	if err != nil {
		if blob.IsNotFound(err) {
			return model.Record{}, false, nil
		}
		return model.Record{}, false, &Error{Op: "poll", Key: p.key, Kind: ErrLedgerUnavailable, Err: err}
	}

	l, err := Decode(data)
	if err != nil {
		return model.Record{}, false, err
	}
	rec, ok := LastMatch(l.Records, correlationKey)
	return rec, ok, nil
}

// LastMatch returns the most recently appended record with correlationKey.
func LastMatch(records []model.Record, correlationKey string) (model.Record, bool) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].CorrelationKey == correlationKey {
			return records[i], true
		}
	}
	return model.Record{}, false
}
