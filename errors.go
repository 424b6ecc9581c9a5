// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoggedIn is returned by calls that need captured credentials.
	ErrNotLoggedIn = errors.New("webwx: not logged in")
	// ErrEmoticonNotGif is returned by SendEmoticon for non-gif input.
	ErrEmoticonNotGif = errors.New("webwx: emoticon must be a gif file")
)

// NetworkError means the transport exhausted its retries for one call.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webwx: %s failed with status %d after retries", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("webwx: %s failed after retries: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ParseError means a response didn't match the expected embedded pattern
// or JSON/XML shape. It usually implies protocol drift or session loss.
type ParseError struct {
	Op     string
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webwx: %s response parse failed: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("webwx: %s response parse failed: %s", e.Op, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ProtocolError means the remote returned a non-zero business code inside
// an otherwise successful HTTP response.
type ProtocolError struct {
	Op      string
	Ret     int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("webwx: %s returned business code %d: %s", e.Op, e.Ret, e.Message)
	}
	return fmt.Sprintf("webwx: %s returned business code %d", e.Op, e.Ret)
}
