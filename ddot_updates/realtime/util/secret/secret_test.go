// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package secret

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvironment(t *testing.T) {
	t.Setenv("DDOT_TEST_SECRET", " s3cret\n")
	v, err := FromEnvironment("DDOT_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)
}

func TestFromEnvironmentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	t.Setenv("DDOT_TEST_SECRET", "")
	t.Setenv("DDOT_TEST_SECRET_FILE", path)

	v, err := FromEnvironment("DDOT_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-file", v)
}

func TestFromEnvironmentMissing(t *testing.T) {
	t.Setenv("DDOT_TEST_SECRET", "")
	t.Setenv("DDOT_TEST_SECRET_FILE", "")

	_, err := FromEnvironment("DDOT_TEST_SECRET")
	assert.Equal(t, MissingEnvironmentKey("DDOT_TEST_SECRET"), err)
	assert.EqualError(t, err, "DDOT_TEST_SECRET environment variable not set")
}

func TestOptional(t *testing.T) {
	t.Setenv("DDOT_TEST_SECRET", "")
	t.Setenv("DDOT_TEST_SECRET_FILE", "")

	v, err := Optional("DDOT_TEST_SECRET")
	require.NoError(t, err)
	assert.Empty(t, v)

	t.Setenv("DDOT_TEST_SECRET_FILE", filepath.Join(t.TempDir(), "missing"))
	_, err = Optional("DDOT_TEST_SECRET")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.ErrorContains(t, err, "DDOT_TEST_SECRET_FILE")
}
