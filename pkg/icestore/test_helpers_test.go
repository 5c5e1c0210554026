package icestore

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/illmade-knight/go-mqbatch/pkg/types"
	"github.com/stretchr/testify/require"
)

// mockGCSWriter is a GCSWriter capturing writes in memory.
type mockGCSWriter struct {
	buf      bytes.Buffer
	closed   bool
	writeErr error
	closeErr error
}

func (m *mockGCSWriter) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return m.closeErr
}

type mockGCSObjectHandle struct {
	writer   *mockGCSWriter
	writeErr error
	closeErr error
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context) GCSWriter {
	if m.writer == nil {
		m.writer = &mockGCSWriter{writeErr: m.writeErr, closeErr: m.closeErr}
	}
	return m.writer
}

type mockGCSBucketHandle struct {
	sync.Mutex
	objects  map[string]*mockGCSObjectHandle
	writeErr error
	closeErr error
}

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	m.Lock()
	defer m.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{writeErr: m.writeErr, closeErr: m.closeErr}
	}
	return m.objects[name]
}

func (m *mockGCSBucketHandle) objectNames() []string {
	m.Lock()
	defer m.Unlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *mockGCSBucketHandle) objectBytes(name string) []byte {
	m.Lock()
	defer m.Unlock()
	obj, ok := m.objects[name]
	if !ok || obj.writer == nil {
		return nil
	}
	return obj.writer.buf.Bytes()
}

type mockGCSClient struct {
	bucket *mockGCSBucketHandle
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{}}
}

func (m *mockGCSClient) Bucket(_ string) GCSBucketHandle {
	return m.bucket
}

// recordingSink captures settlement calls made through the batch handle.
type recordingSink struct {
	mu      sync.Mutex
	acked   []string
	nacked  []string
	requeue []bool
}

func (s *recordingSink) Ack(_ context.Context, token types.AckToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, token.(string))
	return nil
}

func (s *recordingSink) Nack(_ context.Context, token types.AckToken, requeue bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nacked = append(s.nacked, token.(string))
	s.requeue = append(s.requeue, requeue)
	return nil
}

func (s *recordingSink) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.acked))
	copy(out, s.acked)
	return out
}

func (s *recordingSink) nackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.nacked))
	copy(out, s.nacked)
	return out
}

// decodeArchive gunzips one object's bytes and decodes its JSONL records.
func decodeArchive(t *testing.T, data []byte) []Record {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = gz.Close() }()

	var out []Record
	dec := json.NewDecoder(gz)
	for {
		var rec Record
		if decodeErr := dec.Decode(&rec); decodeErr != nil {
			require.ErrorIs(t, decodeErr, io.EOF)
			break
		}
		out = append(out, rec)
	}
	return out
}
