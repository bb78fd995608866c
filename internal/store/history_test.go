package store

import (
	"BootBridge/internal/model"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(i int) model.UploadRecord {
	return model.UploadRecord{
		Time:    time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
		Device:  "/dev/ttyUSB0",
		Payload: fmt.Sprintf("initrd-%d", i),
		Size:    int64(1000 + i),
		Sent:    int64(1000 + i),
		State:   model.StateDone.String(),
	}
}

func TestHistoryListNewestFirst(t *testing.T) {
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"), 0)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, h.Close())
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.Record(record(i)))
	}
	recs, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "initrd-2", recs[0].Payload)
	assert.Equal(t, "initrd-0", recs[2].Payload)
	assert.True(t, recs[0].Time.Equal(record(2).Time))

	recs, err = h.List(2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestHistoryLimitDropsOldest(t *testing.T) {
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"), 2)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, h.Close())
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Record(record(i)))
	}
	recs, err := h.List(0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "initrd-4", recs[0].Payload)
	assert.Equal(t, "initrd-3", recs[1].Payload)
}

func TestHistoryPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	h, err := OpenHistory(path, 0)
	require.NoError(t, err)
	rec := record(1)
	rec.State = model.StateAborted.String()
	rec.Error = "error after sending size"
	require.NoError(t, h.Record(rec))
	require.NoError(t, h.Close())

	h, err = OpenHistory(path, 0)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, h.Close())
	}()
	recs, err := h.List(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "aborted", recs[0].State)
	assert.Equal(t, "error after sending size", recs[0].Error)
}
