package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWriter_Validation(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	assert.NoError(t, InitWriter(&buf, "", ""))
	assert.NoError(t, InitWriter(&buf, "text", "debug"))
	assert.Error(t, InitWriter(&buf, "xml", "INFO"))
	assert.Error(t, InitWriter(&buf, "json", "TRACE"))
}

func TestFromContext_Enrichment(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	require.NoError(t, InitWriter(&buf, "json", "INFO"))

	ctx := WithOperation(WithMiniAppID(context.Background(), "swap"), "sign_transaction")
	Info(ctx, "hello", "wallet_id", "w1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "swap", entry["mini_app_id"])
	assert.Equal(t, "sign_transaction", entry["operation"])
	assert.Equal(t, "w1", entry["wallet_id"])
}

func TestGetMiniAppID_Missing(t *testing.T) {
	assert.Equal(t, "", GetMiniAppID(context.Background()))
}
