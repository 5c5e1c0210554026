package fsstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/illmade-knight/go-mqbatch/pkg/batcher"
	"github.com/illmade-knight/go-mqbatch/pkg/fsstore"
	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deviceState struct {
	DeviceID string `json:"device_id"`
	Battery  int    `json:"battery"`
}

// MockDocumentWriter is a mock implementation of fsstore.DocumentWriter.
type MockDocumentWriter[T any] struct {
	mu            sync.Mutex
	receivedDocs  [][]fsstore.Document[T]
	callCount     int
	WriteBatchErr error
}

func (m *MockDocumentWriter[T]) WriteBatch(_ context.Context, docs []fsstore.Document[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.WriteBatchErr != nil {
		return m.WriteBatchErr
	}
	m.receivedDocs = append(m.receivedDocs, docs)
	return nil
}

func (m *MockDocumentWriter[T]) Close() error { return nil }

func (m *MockDocumentWriter[T]) GetReceivedDocs() [][]fsstore.Document[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivedDocs
}

func (m *MockDocumentWriter[T]) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

type recordingSink struct {
	mu     sync.Mutex
	acked  []string
	nacked []string
}

func (s *recordingSink) Ack(_ context.Context, token types.AckToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, token.(string))
	return nil
}

func (s *recordingSink) Nack(_ context.Context, token types.AckToken, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nacked = append(s.nacked, token.(string))
	return nil
}

func stateMessage(id string, state deviceState) types.Message {
	payload := []byte(fmt.Sprintf(`{"device_id":%q,"battery":%d}`, state.DeviceID, state.Battery))
	return types.Message{ID: id, Payload: payload, Token: id}
}

func TestHandler_WritesDocumentsAndAcksBatch(t *testing.T) {
	ctx := context.Background()
	writer := &MockDocumentWriter[deviceState]{}
	sink := &recordingSink{}

	b, err := batcher.NewBatcher(
		batcher.Config{},
		fsstore.NewHandler(writer, fsstore.NewJSONDecoder[deviceState](), zerolog.Nop()),
		zerolog.Nop(),
	)
	require.NoError(t, err)

	b.Buffer(ctx, sink, stateMessage("d1", deviceState{DeviceID: "sensor-1", Battery: 80}))
	b.Buffer(ctx, sink, stateMessage("d2", deviceState{DeviceID: "sensor-2", Battery: 54}))
	b.Flush(ctx)

	require.Equal(t, 1, writer.GetCallCount())
	batches := writer.GetReceivedDocs()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "d1", batches[0][0].ID)
	assert.Equal(t, "sensor-1", batches[0][0].Data.DeviceID)
	assert.Equal(t, 54, batches[0][1].Data.Battery)

	assert.Equal(t, []string{"d1", "d2"}, sink.acked)
	assert.Empty(t, sink.nacked)
}

func TestHandler_DecodeFailureNacksWholeBatch(t *testing.T) {
	ctx := context.Background()
	writer := &MockDocumentWriter[deviceState]{}
	sink := &recordingSink{}

	b, err := batcher.NewBatcher(
		batcher.Config{},
		fsstore.NewHandler(writer, fsstore.NewJSONDecoder[deviceState](), zerolog.Nop()),
		zerolog.Nop(),
	)
	require.NoError(t, err)

	b.Buffer(ctx, sink, stateMessage("d1", deviceState{DeviceID: "sensor-1", Battery: 80}))
	b.Buffer(ctx, sink, types.Message{ID: "d2", Payload: []byte("not json"), Token: "d2"})
	b.Flush(ctx)

	assert.Zero(t, writer.GetCallCount())
	assert.Empty(t, sink.acked)
	assert.Equal(t, []string{"d1", "d2"}, sink.nacked)
}

func TestHandler_WriteFailureNacksWholeBatch(t *testing.T) {
	ctx := context.Background()
	writer := &MockDocumentWriter[deviceState]{WriteBatchErr: errors.New("deadline exceeded")}
	sink := &recordingSink{}

	b, err := batcher.NewBatcher(
		batcher.Config{},
		fsstore.NewHandler(writer, fsstore.NewJSONDecoder[deviceState](), zerolog.Nop()),
		zerolog.Nop(),
	)
	require.NoError(t, err)

	b.Buffer(ctx, sink, stateMessage("d1", deviceState{DeviceID: "sensor-1", Battery: 80}))
	b.Flush(ctx)

	require.Equal(t, 1, writer.GetCallCount())
	assert.Empty(t, sink.acked)
	assert.Equal(t, []string{"d1"}, sink.nacked)
}

func TestJSONDecoder_GeneratesIDWhenMissing(t *testing.T) {
	decode := fsstore.NewJSONDecoder[deviceState]()

	doc, err := decode(types.Message{Payload: []byte(`{"device_id":"sensor-9","battery":12}`)})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, "sensor-9", doc.Data.DeviceID)
}
