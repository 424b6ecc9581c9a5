// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

import (
	"strconv"
	"strings"
)

// SyncKeyItem is one server-issued checkpoint pair.
type SyncKeyItem struct {
	Key int64 `json:"Key"`
	Val int64 `json:"Val"`
}

// SyncKey is the server-issued sync cursor. The pair order is the
// server's and must be preserved; the cursor is always replaced wholesale
// by a newer one, never merged.
type SyncKey struct {
	Count int           `json:"Count"`
	List  []SyncKeyItem `json:"List"`
}

// String serializes the cursor into the Key_Val|Key_Val form the
// sync-check query expects. An empty cursor serializes to "".
func (sk SyncKey) String() string {
	parts := make([]string, len(sk.List))
	for i, item := range sk.List {
		parts[i] = strconv.FormatInt(item.Key, 10) + "_" + strconv.FormatInt(item.Val, 10)
	}
	return strings.Join(parts, "|")
}

// Replace swaps in a newer cursor.
func (sk *SyncKey) Replace(newer SyncKey) {
	*sk = newer
}

// IsEmpty reports whether the cursor carries no checkpoints.
func (sk SyncKey) IsEmpty() bool {
	return len(sk.List) == 0
}
