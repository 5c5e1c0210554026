package pubsubbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSink_RejectsForeignTokens(t *testing.T) {
	var sink Sink

	err := sink.Ack(context.Background(), "not-a-pubsub-message")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected ack token type")

	err = sink.Nack(context.Background(), 42, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected ack token type")
}
