// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)

	for _, driver := range []Driver{DriverPostgres, DriverSQLite} {
		t.Run(string(driver), func(t *testing.T) {
			entries, err := migrationsFS.ReadDir(driver.migrationsDir())
			require.NoError(t, err, "should read embedded migrations directory")
			assert.Len(t, entries, 4, "two migrations, each with up and down")

			fileNames := make(map[string]bool)
			for _, entry := range entries {
				fileNames[entry.Name()] = true
				assert.True(t, pattern.MatchString(entry.Name()),
					"file %s should match pattern NNNNNN_name.(up|down).sql", entry.Name())
			}
			for _, expected := range []string{
				"000001_users.up.sql",
				"000001_users.down.sql",
				"000002_password_resets.up.sql",
				"000002_password_resets.down.sql",
			} {
				assert.True(t, fileNames[expected], "should contain %s", expected)
			}
		})
	}
}
