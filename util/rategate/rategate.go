// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package rategate provides a sliding-window attempt counter used to stop
// runaway retry loops against the remote service.
package rategate

import (
	"sync"
	"time"
)

const (
	DefaultWindow  = 30 * time.Second
	DefaultCeiling = 10
)

type entry struct {
	start time.Time
	count int
}

// Gate counts hits per operation key within a sliding window. Once a
// key's count exceeds the ceiling, Hit returns true exactly once and the
// key's window is reset, so the caller can back off and start over.
type Gate struct {
	mu      sync.Mutex
	window  time.Duration
	ceiling int
	hits    map[string]*entry

	// now is replaceable in tests.
	now func() time.Time
}

func New(window time.Duration, ceiling int) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Gate{
		window:  window,
		ceiling: ceiling,
		hits:    make(map[string]*entry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// Hit records an attempt for key and reports whether the caller has made
// too many attempts within the window. A true return resets the key.
func (g *Gate) Hit(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	e, ok := g.hits[key]
	if !ok || now.Sub(e.start) > g.window {
		e = &entry{start: now}
		g.hits[key] = e
	}
	e.count++
	if e.count > g.ceiling {
		delete(g.hits, key)
		return true
	}
	return false
}

// Reset clears the window for a key.
func (g *Gate) Reset(key string) {
	g.mu.Lock()
	delete(g.hits, key)
	g.mu.Unlock()
}
