// Package redisbridge connects a Redis Streams consumer group to a batcher:
// a consumer that buffers each stream entry and an AckSink that settles
// entries against the group's pending list.
package redisbridge

import (
	"context"
	"fmt"

	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/redis/go-redis/v9"
)

// Sink settles stream entries against a consumer group. Tokens must be the
// entry ID strings handed to the consumer callback.
type Sink struct {
	client *redis.Client
	stream string
	group  string
}

// NewSink returns a Sink acknowledging entries of stream on behalf of group.
func NewSink(client *redis.Client, stream, group string) Sink {
	return Sink{client: client, stream: stream, group: group}
}

func (s Sink) Ack(ctx context.Context, token types.AckToken) error {
	id, ok := token.(string)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want string entry ID", token)
	}
	if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
		return fmt.Errorf("failed to xack entry %s: %w", id, err)
	}
	return nil
}

// Nack with requeue leaves the entry in the group's pending list, where a
// consumer restart or an XAUTOCLAIM sweep picks it up again. Without
// requeue the entry is acked away, the closest Streams has to a terminal
// discard.
func (s Sink) Nack(ctx context.Context, token types.AckToken, requeue bool) error {
	id, ok := token.(string)
	if !ok {
		return fmt.Errorf("unexpected ack token type %T, want string entry ID", token)
	}
	if requeue {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
		return fmt.Errorf("failed to xack entry %s: %w", id, err)
	}
	return nil
}
