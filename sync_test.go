// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/lunabar/webwx/types"
	"github.com/lunabar/webwx/types/events"
)

func TestSyncCheck(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		response string
		want     SyncStatus
		wantErr  bool
	}{
		{name: "nothing new", response: `window.synccheck={retcode:"0",selector:"0"}`, want: SyncNormal},
		{name: "new message", response: `window.synccheck={retcode:"0",selector:"2"}`, want: SyncNewMessage},
		{name: "new join", response: `window.synccheck={retcode:"0",selector:"7"}`, want: SyncNewJoin},
		{name: "unknown selector", response: `window.synccheck={retcode:"0",selector:"4"}`, want: SyncUnknown},
		{name: "generic failure", response: `window.synccheck={retcode:"1",selector:"0"}`, want: SyncFail, wantErr: true},
		{name: "session lost", response: `window.synccheck={retcode:"1101",selector:"0"}`, want: SyncFail, wantErr: true},
		{name: "garbage body", response: `<html></html>`, want: SyncFail, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mux := http.NewServeMux()
			mux.HandleFunc("/synccheck", func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("synckey") == "" {
					t.Error("synccheck request missing synckey")
				}
				fmt.Fprint(w, tt.response)
			})
			cli := newTestClient(t, mux)
			primeLogin(cli)
			cli.syncKey.Replace(types.SyncKey{Count: 1, List: []types.SyncKeyItem{{Key: 1, Val: 100}}})

			status, err := cli.syncCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("syncCheck error = %v, wantErr %v", err, tt.wantErr)
			}
			if status != tt.want {
				t.Errorf("status = %s, want %s", status, tt.want)
			}
		})
	}
}

func TestSyncCheckProtocolError(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/synccheck", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `window.synccheck={retcode:"1100",selector:"0"}`)
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)

	_, err := cli.syncCheck(context.Background())
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("syncCheck error = %v, want ProtocolError", err)
	}
	if protoErr.Ret != 1100 {
		t.Errorf("Ret = %d, want 1100", protoErr.Ret)
	}
}

func TestSyncCheckNotLoggedIn(t *testing.T) {
	t.Parallel()
	cli := newTestClient(t, http.NewServeMux())
	_, err := cli.syncCheck(context.Background())
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("syncCheck error = %v, want ErrNotLoggedIn", err)
	}
}

func TestFetchDetail(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/webwxsync", func(w http.ResponseWriter, r *http.Request) {
		var req syncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode sync request: %v", err)
		}
		if req.SyncKey.String() != "1_100" {
			t.Errorf("posted cursor = %q, want 1_100", req.SyncKey.String())
		}
		if req.RR == "" {
			t.Error("sync request missing rr")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"BaseResponse": map[string]any{"Ret": 0},
			"AddMsgList": []map[string]any{
				{"MsgId": "m1", "MsgType": 1, "FromUserName": "@alice", "ToUserName": "@me", "Content": "hello"},
			},
			"SyncKey": map[string]any{
				"Count": 1,
				"List":  []map[string]any{{"Key": 1, "Val": 200}},
			},
		})
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)
	cli.syncKey.Replace(types.SyncKey{Count: 1, List: []types.SyncKeyItem{{Key: 1, Val: 100}}})
	got := collectEvents(cli)

	if err := cli.fetchDetail(context.Background()); err != nil {
		t.Fatalf("fetchDetail: %v", err)
	}
	// The returned cursor replaces the posted one wholesale.
	if cli.syncKey.String() != "1_200" {
		t.Errorf("cursor after sync = %q, want 1_200", cli.syncKey.String())
	}
	if len(*got) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(*got))
	}
	msg, ok := (*got)[0].(*events.Message)
	if !ok {
		t.Fatalf("event type %T, want *events.Message", (*got)[0])
	}
	if msg.Value != "hello" {
		t.Errorf("message value = %v, want hello", msg.Value)
	}
}

func TestFetchDetailMissingEnvelope(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/webwxsync", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)
	cli.syncKey.Replace(types.SyncKey{Count: 1, List: []types.SyncKeyItem{{Key: 1, Val: 100}}})

	err := cli.fetchDetail(context.Background())
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("fetchDetail error = %v, want ProtocolError for missing envelope", err)
	}
	// The cursor must survive a rejected detail fetch.
	if got := cli.syncKey.String(); got != "1_100" {
		t.Errorf("cursor = %q after rejected fetch, want 1_100", got)
	}
}

func TestFetchDetailBusinessError(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/webwxsync", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"BaseResponse": map[string]any{"Ret": 1101, "ErrMsg": "session expired"},
		})
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)

	err := cli.fetchDetail(context.Background())
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("fetchDetail error = %v, want ProtocolError", err)
	}
	if protoErr.Ret != 1101 {
		t.Errorf("Ret = %d, want 1101", protoErr.Ret)
	}
}
