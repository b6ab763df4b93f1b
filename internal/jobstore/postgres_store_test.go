package jobstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	jobID := uuid.NewString()
	userID := uuid.NewString()

	require.NoError(t, store.Register(ctx, jobID))
	status, err := store.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, status)

	require.NoError(t, store.SetHash(ctx, jobID, "0xabc"))
	require.NoError(t, store.SetStatus(ctx, jobID, StatusRunning))
	require.NoError(t, store.SetReceipt(ctx, jobID, []byte(`{"status":"0x1"}`), "https://explorer/tx/0xabc"))
	require.NoError(t, store.AddAsset(ctx, Asset{
		UserID: userID, JobID: jobID, ContentID: "Qm123", TxHash: "0xabc", Metadata: []byte(`{"name":"n"}`),
	}))

	assets, err := store.ListAssets(ctx, userID)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "Qm123", assets[0].ContentID)

	_, err = store.GetStatus(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrJobNotFound)
}
