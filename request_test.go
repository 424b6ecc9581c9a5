// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestDoRetriesBadStatus(t *testing.T) {
	t.Parallel()
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "ok")
	})
	cli := newTestClient(t, mux)

	body, err := cli.request(context.Background(), http.MethodGet, cli.baseURL+"/flaky", requestOptions{})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}
	if hits != 3 {
		t.Errorf("server hit %d times, want 3", hits)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	t.Parallel()
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	})
	cli := newTestClient(t, mux)

	_, err := cli.request(context.Background(), http.MethodGet, cli.baseURL+"/down", requestOptions{})
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want NetworkError", err)
	}
	if netErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", netErr.StatusCode)
	}
	if hits != maxAttempts {
		t.Errorf("server hit %d times, want %d", hits, maxAttempts)
	}
}

func TestDoDoesNotFollowRedirects(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/hop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/elsewhere", func(w http.ResponseWriter, r *http.Request) {
		t.Error("redirect was followed")
	})
	cli := newTestClient(t, mux)

	_, header, err := cli.do(context.Background(), http.MethodGet, cli.baseURL+"/hop", requestOptions{})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if got := header.Get("Location"); got != "/elsewhere" {
		t.Errorf("Location = %q, want /elsewhere", got)
	}
}

func TestDoSendsBrowserHeaders(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("User-Agent missing")
		}
		if got := r.Header.Get("Origin"); got != originURL {
			t.Errorf("Origin = %q, want %q", got, originURL)
		}
		if r.Header.Get("Referer") == "" {
			t.Error("Referer missing")
		}
	})
	cli := newTestClient(t, mux)

	if _, err := cli.request(context.Background(), http.MethodGet, cli.baseURL+"/check", requestOptions{}); err != nil {
		t.Fatalf("request: %v", err)
	}
}

func TestDoContextCancelled(t *testing.T) {
	t.Parallel()
	cli := newTestClient(t, http.NewServeMux())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cli.request(ctx, http.MethodGet, cli.baseURL+"/any", requestOptions{}); err == nil {
		t.Fatal("request on cancelled context succeeded")
	}
}

func TestDeviceID(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := deviceID()
		if !deviceIDPattern.MatchString(id) {
			t.Fatalf("deviceID() = %q, want e followed by 15 digits", id)
		}
		seen[id] = true
	}
	if len(seen) < 99 {
		t.Errorf("only %d distinct ids out of 100", len(seen))
	}
}

func TestClientMsgID(t *testing.T) {
	t.Parallel()
	cli := newTestClient(t, http.NewServeMux())
	fixed := time.UnixMilli(1700000000000)
	cli.now = func() time.Time { return fixed }

	id := cli.clientMsgID()
	wantPrefix := strconv.FormatInt(fixed.UnixMilli(), 10)
	if len(id) != len(wantPrefix)+4 {
		t.Errorf("clientMsgID() = %q, want %d-digit timestamp plus 4 digits", id, len(wantPrefix))
	}
	if id[:len(wantPrefix)] != wantPrefix {
		t.Errorf("clientMsgID() = %q, want prefix %q", id, wantPrefix)
	}
}

func TestFmtQuery(t *testing.T) {
	t.Parallel()
	q := fmtQuery("a", "1", "b", "two")
	if got := q.Get("a"); got != "1" {
		t.Errorf("a = %q, want 1", got)
	}
	if got := q.Get("b"); got != "two" {
		t.Errorf("b = %q, want two", got)
	}
	if len(q) != 2 {
		t.Errorf("len = %d, want 2", len(q))
	}
}

func TestTruncateForLog(t *testing.T) {
	t.Parallel()
	short := []byte("short")
	if got := truncateForLog(short); got != "short" {
		t.Errorf("truncateForLog(short) = %q", got)
	}
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	if got := truncateForLog(long); len(got) != 256+3 {
		t.Errorf("len(truncateForLog(long)) = %d, want 259", len(got))
	}
}
