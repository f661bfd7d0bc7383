// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package secret reads credentials (NATS tokens, schedule download
// authorization) from the environment, either directly or through
// a KEY_FILE variable pointing at a mounted secret.
package secret

import (
	"fmt"
	"os"
	"strings"
)

type MissingEnvironmentKey string

func (k MissingEnvironmentKey) Error() string {
	return fmt.Sprintf("%s environment variable not set", string(k))
}

// FromEnvironment returns the value of key, or the contents of the file named
// by key_FILE. Surrounding whitespace is trimmed.
func FromEnvironment(key string) (string, error) {
	value, ok, err := lookup(key)
	if err != nil {
		return "", err
	} else if !ok {
		return "", MissingEnvironmentKey(key)
	}
	return value, nil
}

// Optional works like FromEnvironment, but an unset key yields an empty string.
// Only an unreadable key_FILE is an error.
func Optional(key string) (string, error) {
	value, _, err := lookup(key)
	return value, err
}

func lookup(key string) (value string, ok bool, err error) {
	value = strings.TrimSpace(os.Getenv(key))
	if value != "" {
		return value, true, nil
	}

	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", false, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("%s_FILE: %w", key, err)
	}
	value = strings.TrimSpace(string(content))
	return value, value != "", nil
}
