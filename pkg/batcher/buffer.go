package batcher

import (
	"github.com/illmade-knight/go-mqbatch/pkg/types"
)

// messageBuffer is one accumulation cycle: the pending messages in arrival
// order plus their running payload byte total.
type messageBuffer struct {
	messages   []types.Message
	totalBytes int64
}

func (b *messageBuffer) append(msg types.Message) {
	b.messages = append(b.messages, msg)
	b.totalBytes += msg.SizeBytes()
}

func (b *messageBuffer) size() int {
	return len(b.messages)
}

func (b *messageBuffer) byteTotal() int64 {
	return b.totalBytes
}

// detachAndReset returns the cycle's contents and byte total, then resets
// the cycle to empty. This is the only way a cycle empties after its first
// append, so a fresh cycle can never regain stale messages.
func (b *messageBuffer) detachAndReset() (int64, []types.Message) {
	total := b.totalBytes
	msgs := b.messages
	b.messages = nil
	b.totalBytes = 0
	return total, msgs
}
