package correlation

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 12)
	assert.NotEqual(t, id, NewID(), "IDs must be unique")
}

func TestWithIDRoundtrip(t *testing.T) {
	ctx := WithID(context.Background(), "abc123def456")

	id, ok := ID(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc123def456", id)
}

func TestID_AbsentOrEmpty(t *testing.T) {
	_, ok := ID(context.Background())
	assert.False(t, ok)

	_, ok = ID(WithID(context.Background(), ""))
	assert.False(t, ok)
}

func TestWithNewID(t *testing.T) {
	id, ok := ID(WithNewID(context.Background()))
	require.True(t, ok)
	assert.Len(t, id, 12)
}

func TestHandler_InjectsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithID(context.Background(), "abc123def456")
	logger.InfoContext(ctx, "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "abc123def456", record["correlation_id"])
}

func TestHandler_NoIDNoAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	_, present := record["correlation_id"]
	assert.False(t, present)
}

func TestHandler_WithAttrsPreservesInjection(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewJSONHandler(&buf, nil))).With("component", "outbox")

	logger.InfoContext(WithID(context.Background(), "abc123def456"), "hello")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "outbox", record["component"])
	assert.Equal(t, "abc123def456", record["correlation_id"])
}
