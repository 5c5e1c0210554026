package batcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyAckSink fails a configured call number and succeeds otherwise.
type flakyAckSink struct {
	mu       sync.Mutex
	failOn   int
	calls    int
	settled  []string
	failWith error
}

func (s *flakyAckSink) settle(token types.AckToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == s.failOn {
		return s.failWith
	}
	s.settled = append(s.settled, token.(string))
	return nil
}

func (s *flakyAckSink) Ack(_ context.Context, token types.AckToken) error {
	return s.settle(token)
}

func (s *flakyAckSink) Nack(_ context.Context, token types.AckToken, _ bool) error {
	return s.settle(token)
}

func TestDispatcher_AckAllPreservesOrder(t *testing.T) {
	sink := &mockAckSink{}
	d := batcher.NewDispatcher(zerolog.Nop())

	messages := []types.Message{
		newTestMessage("m1", 1),
		newTestMessage("m2", 1),
		newTestMessage("m3", 1),
	}
	require.NoError(t, d.AckAll(context.Background(), sink, messages))
	assert.Equal(t, []string{"m1", "m2", "m3"}, sink.ackedIDs())
}

func TestDispatcher_NackAllPassesRequeueFlag(t *testing.T) {
	d := batcher.NewDispatcher(zerolog.Nop())

	for _, requeue := range []bool{true, false} {
		sink := &mockAckSink{}
		messages := []types.Message{newTestMessage("m1", 1), newTestMessage("m2", 1)}

		require.NoError(t, d.NackAll(context.Background(), sink, messages, requeue))
		assert.Equal(t, []string{"m1", "m2"}, sink.nackedIDs())
		assert.Equal(t, []bool{requeue, requeue}, sink.nackRequeues())
	}
}

func TestDispatcher_SinkFailureStopsSweep(t *testing.T) {
	sinkErr := errors.New("broken pipe")
	sink := &flakyAckSink{failOn: 2, failWith: sinkErr}
	d := batcher.NewDispatcher(zerolog.Nop())

	messages := []types.Message{
		newTestMessage("m1", 1),
		newTestMessage("m2", 1),
		newTestMessage("m3", 1),
	}
	err := d.AckAll(context.Background(), sink, messages)

	require.Error(t, err)
	assert.ErrorIs(t, err, sinkErr)
	assert.Contains(t, err.Error(), "m2", "the failing message is named in the error")
	assert.Equal(t, []string{"m1"}, sink.settled,
		"messages settled before the failure remain settled; later ones are not attempted")
}

func TestDispatcher_EmptyBatchIsNoop(t *testing.T) {
	sink := &mockAckSink{}
	d := batcher.NewDispatcher(zerolog.Nop())

	require.NoError(t, d.AckAll(context.Background(), sink, nil))
	require.NoError(t, d.NackAll(context.Background(), sink, nil, true))

	acks, nacks := sink.attempts()
	assert.Equal(t, 0, acks)
	assert.Equal(t, 0, nacks)
}
