package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/riskibarqy/statharvest/internal/domain/quality"
)

// RecordSink keeps the latest result per (kind, source, record key).
type RecordSink struct {
	mu      sync.RWMutex
	rows    map[string]quality.Result
	batches int
	failErr error
}

func NewRecordSink() *RecordSink {
	return &RecordSink{rows: make(map[string]quality.Result)}
}

// WriteBatch is all or nothing: a failing batch leaves no rows behind.
func (s *RecordSink) WriteBatch(_ context.Context, results []quality.Result) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return 0, s.failErr
	}
	for _, res := range results {
		s.rows[resultKey(res)] = res
	}
	s.batches++
	return int64(len(results)), nil
}

// Fail makes WriteBatch return err until called again with nil.
func (s *RecordSink) Fail(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

func (s *RecordSink) Results() []quality.Result {
	s.mu.RLock()
	keys := make([]string, 0, len(s.rows))
	for key := range s.rows {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]quality.Result, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.rows[key])
	}
	s.mu.RUnlock()
	return out
}

func (s *RecordSink) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

func resultKey(res quality.Result) string {
	rec := res.Record
	return string(rec.Kind) + "|" + rec.Provenance.SourceID + "|" + rec.Key()
}
