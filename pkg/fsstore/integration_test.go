//go:build integration

package fsstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-mqbatch/pkg/fsstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreWriter_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set; skipping Firestore integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	client, err := firestore.NewClient(ctx, "test-project")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	collection := "devices-" + uuid.NewString()
	writer, err := fsstore.NewFirestoreWriter[deviceState](
		&fsstore.CollectionConfig{ProjectID: "test-project", CollectionName: collection},
		client,
		zerolog.Nop(),
	)
	require.NoError(t, err)

	docs := []fsstore.Document[deviceState]{
		{ID: "d1", Data: &deviceState{DeviceID: "sensor-1", Battery: 80}},
		{ID: "d2", Data: &deviceState{DeviceID: "sensor-2", Battery: 54}},
	}
	require.NoError(t, writer.WriteBatch(ctx, docs))

	snap, err := client.Collection(collection).Doc("d1").Get(ctx)
	require.NoError(t, err)

	var got deviceState
	require.NoError(t, snap.DataTo(&got))
	assert.Equal(t, "sensor-1", got.DeviceID)
	assert.Equal(t, 80, got.Battery)
}
