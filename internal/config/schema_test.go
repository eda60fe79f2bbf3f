// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credentials/internal/config"
	"github.com/holomush/credentials/pkg/errutil"
)

func TestGenerateSchema(t *testing.T) {
	raw, err := config.GenerateSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, config.SchemaID, doc["$id"])
	assert.Equal(t, "credctl configuration", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"store", "hashing", "reset", "log", "metrics", "sweep"} {
		assert.Contains(t, props, key)
	}
}

func TestValidateYAML(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"empty document", "", false},
		{
			name: "full document",
			yaml: `
store:
  driver: postgres
  dsn: postgres://localhost/credentials
  connect_timeout: 10s
hashing:
  argon2:
    time: 2
    memory: 65536
    threads: 2
    key_len: 32
  legacy: [sha512, bcrypt]
  pbkdf2_iterations: 210000
  bcrypt_cost: 12
reset:
  expiry: 30m
log:
  level: debug
  format: text
metrics:
  addr: 127.0.0.1:9100
sweep:
  interval: 1m
`,
		},
		{"duration as integer", "sweep:\n  interval: 60000000000\n", false},
		{"unknown driver", "store:\n  driver: mysql\n", true},
		{"unknown legacy strategy", "hashing:\n  legacy: [md5]\n", true},
		{"bcrypt cost too high", "hashing:\n  bcrypt_cost: 40\n", true},
		{"unknown top-level key", "listen: :8080\n", true},
		{"malformed yaml", "store: [driver\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := config.ValidateYAML([]byte(tt.yaml))
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
				return
			}
			require.NoError(t, err)
		})
	}
}
