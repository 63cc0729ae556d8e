package ledger

import (
	"context"
	"slices"

	"github.com/me/mlledger/internal/blob"
	"github.com/me/mlledger/pkg/model"
)

// Latest returns the record with the most recent timestamp.
//
// Records are stable-sorted by timestamp, newest first, and the first is
// returned, so among records sharing the newest timestamp the one appended
// earliest wins.
// TODO: confirm with the model owners whether the most recently appended
// record should win ties instead.
func Latest(records []model.Record) (model.Record, error) {
	if len(records) == 0 {
		return model.Record{}, &Error{Op: "latest", Kind: ErrEmptyLedger}
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b model.Record) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return sorted[0], nil
}

// Load fetches and decodes the ledger at key. A missing object is reported
// as ErrNoLedger; the blob error stays in the chain.
func Load(ctx context.Context, store blob.Store, key string) (Ledger, error) {
	data, err := store.Fetch(ctx, key)
	if err != nil {
		if blob.IsNotFound(err) {
			return Ledger{}, &Error{Op: "load", Key: key, Kind: ErrNoLedger, Err: err}
		}
		return Ledger{}, &Error{Op: "load", Key: key, Kind: ErrLedgerUnavailable, Err: err}
	}
	return Decode(data)
}
