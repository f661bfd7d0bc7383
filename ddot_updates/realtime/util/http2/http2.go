// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package http2

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

type Error struct {
	URL, Status string
	StatusCode  int
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Status)
}

func Check(r *http.Response) error {
	if r.StatusCode >= 400 && r.StatusCode < 600 {
		io.Copy(io.Discard, r.Body)
		r.Body.Close()
		return &Error{
			URL:        r.Request.URL.Redacted(),
			Status:     r.Status,
			StatusCode: r.StatusCode,
		}
	}
	return nil
}

// IsTemporary reports whether the request may succeed when retried later.
func IsTemporary(err error) bool {
	var httpErr *Error
	if !errors.As(err, &httpErr) {
		return false
	}
	switch httpErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// GetBytes performs the request and returns the whole response body.
// A 304 Not Modified response returns a nil body and a nil error.
func GetBytes(client *http.Client, req *http.Request) (body []byte, resp *http.Response, err error) {
	if client == nil {
		client = http.DefaultClient
	}

	resp, err = client.Do(req)
	if err != nil {
		return
	} else if err = Check(resp); err != nil {
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return
	}

	body, err = io.ReadAll(resp.Body)
	return
}
