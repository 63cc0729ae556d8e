package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/me/mlledger/internal/blob"
	"github.com/me/mlledger/pkg/model"
)

// recordingStore wraps a Store and records every call.
type recordingStore struct {
	blob.Store

	mu      sync.Mutex
	fetches int
	puts    [][]byte
}

func (s *recordingStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.fetches++
	s.mu.Unlock()
	return s.Store.Fetch(ctx, key)
}

func (s *recordingStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	s.puts = append(s.puts, append([]byte(nil), data...))
	s.mu.Unlock()
	return s.Store.Put(ctx, key, data)
}

// failingStore fails Fetch and/or Put with fixed errors.
type failingStore struct {
	blob.Store
	fetchErr error
	putErr   error
}

func (s *failingStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.Store.Fetch(ctx, key)
}

func (s *failingStore) Put(ctx context.Context, key string, data []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Store.Put(ctx, key, data)
}

const testKey = "boston-housing-regression/reports.csv"

func ts(s string) time.Time {
	t, err := time.ParseInLocation(model.TimestampLayout, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedClock(s string) func() time.Time {
	t := ts(s)
	return func() time.Time { return t }
}

func mustEncode(l Ledger) []byte {
	data, err := Encode(l)
	if err != nil {
		panic(err)
	}
	return data
}

func mustDecode(data []byte) Ledger {
	l, err := Decode(data)
	if err != nil {
		panic(err)
	}
	return l
}

func storedLedger(s blob.Store) Ledger {
	data, err := s.Fetch(context.Background(), testKey)
	if err != nil {
		panic(err)
	}
	return mustDecode(data)
}

func jobIDs(records []model.Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.JobIdentifier
	}
	return ids
}
