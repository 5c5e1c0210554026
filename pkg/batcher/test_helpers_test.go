package batcher_test

import (
	"bytes"
	"context"
	"sync"

	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
)

// newTestMessage builds a message of an exact payload size whose token is
// its own ID, so settlement recordings read naturally in assertions.
func newTestMessage(id string, size int) types.Message {
	return types.Message{
		ID:      id,
		Payload: bytes.Repeat([]byte("x"), size),
		Token:   id,
	}
}

// mockAckSink is an in-memory AckSink recording every settlement in call
// order. Errors can be injected per operation; failed calls are counted but
// not recorded as settled.
type mockAckSink struct {
	mu sync.Mutex

	ackErr  error
	nackErr error

	acked        []string
	nacked       []string
	requeues     []bool
	ackAttempts  int
	nackAttempts int
}

func (s *mockAckSink) Ack(_ context.Context, token types.AckToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackAttempts++
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acked = append(s.acked, token.(string))
	return nil
}

func (s *mockAckSink) Nack(_ context.Context, token types.AckToken, requeue bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nackAttempts++
	if s.nackErr != nil {
		return s.nackErr
	}
	s.nacked = append(s.nacked, token.(string))
	s.requeues = append(s.requeues, requeue)
	return nil
}

func (s *mockAckSink) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

func (s *mockAckSink) nackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.nacked...)
}

func (s *mockAckSink) nackRequeues() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.requeues...)
}

func (s *mockAckSink) attempts() (acks, nacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackAttempts, s.nackAttempts
}

// batchRecorder captures every batch a handler receives so tests can assert
// on flush counts and contents.
type batchRecorder struct {
	mu      sync.Mutex
	batches []*batcher.Batch
}

func (r *batchRecorder) record(batch *batcher.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *batchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *batchRecorder) batch(i int) *batcher.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[i]
}

// recordingHandler returns a handler that records each batch and reports
// the given outcome.
func recordingHandler(rec *batchRecorder, outcome error) batcher.Handler {
	return func(_ context.Context, _ types.AckSink, batch *batcher.Batch) error {
		rec.record(batch)
		return outcome
	}
}

func messageIDs(msgs []types.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
