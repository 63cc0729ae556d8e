package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/mlledger/internal/blob"
	"github.com/me/mlledger/internal/logging"
	"github.com/me/mlledger/pkg/model"
)

// Writer appends records to the ledger with a plain read-modify-write cycle.
//
// There is no locking and no conditional write: if two writers fetch the
// same state and both store, the record of whichever stored first is lost.
type Writer struct {
	store  blob.Store
	key    string
	now    func() time.Time
	logger *slog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithClock sets the clock used to stamp records that have no timestamp.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter returns a Writer for the ledger object at key.
func NewWriter(store blob.Store, key string, logger *slog.Logger, opts ...WriterOption) *Writer {
	if logger == nil {
		logger = logging.Discard()
	}
	w := &Writer{
		store:  store,
		key:    key,
		now:    time.Now,
		logger: logger.With("component", "ledger-writer", "key", key),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append fetches the ledger (bootstrapping it from rec's metric names if it
// does not exist), appends rec and stores the result. It returns the ledger
// as stored. Nothing is stored if any step before the final upload fails.
func (w *Writer) Append(ctx context.Context, rec model.Record) (Ledger, error) {
	if err := validate(rec); err != nil {
		return Ledger{}, err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.now()
	}
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Second)

	w.logger.Info("fetching ledger")
	l, err := w.fetchOrBootstrap(ctx, rec)
	if err != nil {
		return Ledger{}, err
	}

	l.Records = append(l.Records, rec)
	if err := w.put(ctx, l); err != nil {
		return Ledger{}, err
	}

	w.logger.Info("record appended",
		"correlation_key", rec.CorrelationKey,
		"job_identifier", rec.JobIdentifier,
		"records", l.Len(),
	)
	l.Columns = l.metricColumns()
	return l, nil
}

func (w *Writer) fetchOrBootstrap(ctx context.Context, rec model.Record) (Ledger, error) {
	data, err := w.store.Fetch(ctx, w.key)
	switch {
	case err == nil:
		return Decode(data)
	case blob.IsNotFound(err):
		w.logger.Info("ledger not found, creating template", "columns", rec.Metrics.Names())
		l := Bootstrap(rec.Metrics.Names())
		// The header-only template is uploaded first so readers see the
		// schema before the first data row lands.
		if err := w.put(ctx, l); err != nil {
			return Ledger{}, err
		}
		return l, nil
	case blob.IsAccessDenied(err):
		w.logger.Error("access denied to ledger, check store permissions", "error", err)
		return Ledger{}, &Error{Op: "append", Key: w.key, Kind: ErrLedgerUnavailable, Err: err}
	default:
		w.logger.Error("unexpected store error", "error", err)
		return Ledger{}, &Error{Op: "append", Key: w.key, Kind: ErrLedgerUnavailable, Err: err}
	}
}

func (w *Writer) put(ctx context.Context, l Ledger) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	if err := w.store.Put(ctx, w.key, data); err != nil {
		return &Error{Op: "append", Key: w.key, Kind: ErrLedgerUnavailable, Err: err}
	}
	w.logger.Debug("ledger stored", "bytes", len(data), "records", l.Len())
	return nil
}

func validate(rec model.Record) error {
	switch {
	case rec.CorrelationKey == "":
		return &Error{Op: "append", Kind: ErrInvalidRecord, Err: fmt.Errorf("correlation key is empty")}
	case rec.JobIdentifier == "":
		return &Error{Op: "append", Kind: ErrInvalidRecord, Err: fmt.Errorf("job identifier is empty")}
	}
	if err := checkTextCells(rec); err != nil {
		return &Error{Op: "append", Kind: ErrInvalidRecord, Err: err}
	}
	return nil
}
