// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credentials/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("STORE_CONNECT_FAILED").
		With("driver", "postgres").
		Errorf("connection refused")

	errutil.LogError(logger, "open store", err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "open store", entry["msg"])
	assert.Equal(t, "STORE_CONNECT_FAILED", entry["code"])
	assert.Equal(t, map[string]any{"driver": "postgres"}, entry["context"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "open store", errors.New("standard error"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

func TestCode(t *testing.T) {
	coded := oops.Code("CONFIG_INVALID").Errorf("bad")

	assert.Equal(t, "CONFIG_INVALID", errutil.Code(coded))
	assert.Equal(t, "CONFIG_INVALID", errutil.Code(fmt.Errorf("load: %w", coded)))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	assert.Empty(t, errutil.Code(nil))

	assert.True(t, errutil.HasCode(coded, "CONFIG_INVALID"))
	assert.False(t, errutil.HasCode(coded, "CONFIG_READ_FAILED"))
	assert.False(t, errutil.HasCode(nil, ""))
}
