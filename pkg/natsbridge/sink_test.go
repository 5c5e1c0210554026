package natsbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSink_RejectsForeignTokens(t *testing.T) {
	var sink Sink

	err := sink.Ack(context.Background(), "not-a-nats-msg")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected ack token type")

	err = sink.Nack(context.Background(), struct{}{}, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected ack token type")
}
