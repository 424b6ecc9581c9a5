// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/lunabar/webwx/types"
)

func TestFetchContacts(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/webwxgetcontact", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"BaseResponse": map[string]any{"Ret": 0},
			"MemberCount":  3,
			"MemberList": []map[string]any{
				{"UserName": "@alice", "NickName": "Alice"},
				{"UserName": "@@group1", "NickName": "Weekend Plans"},
				{"UserName": "@pub1", "NickName": "News", "VerifyFlag": 8},
			},
		})
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)
	// A stale entry from a previous fetch must not survive the rebuild.
	cli.roster.AddContacts([]types.ContactRecord{{UserName: "@stale"}})

	if err := cli.fetchContacts(context.Background()); err != nil {
		t.Fatalf("fetchContacts: %v", err)
	}
	if got, want := cli.roster.Len(), 3; got != want {
		t.Fatalf("roster size = %d, want %d", got, want)
	}
	if _, ok := cli.roster.Get("@stale"); ok {
		t.Error("stale contact survived full rebuild")
	}
	pub, _ := cli.roster.Get("@pub1")
	if pub.Kind != types.ContactPublic {
		t.Errorf("public account classified as %s", pub.Kind)
	}
}

func TestFetchGroupMembersChunking(t *testing.T) {
	t.Parallel()
	var batchSizes []int
	mux := http.NewServeMux()
	mux.HandleFunc("/webwxbatchgetcontact", func(w http.ResponseWriter, r *http.Request) {
		var req batchContactRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode batch request: %v", err)
		}
		batchSizes = append(batchSizes, req.Count)
		groups := make([]map[string]any, len(req.List))
		for i, q := range req.List {
			groups[i] = map[string]any{
				"UserName":   q.UserName,
				"NickName":   "G",
				"MemberList": []map[string]any{{"UserName": "@member-of-" + q.UserName}},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"BaseResponse": map[string]any{"Ret": 0},
			"ContactList":  groups,
		})
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)
	records := make([]types.ContactRecord, 0, 70)
	for i := 0; i < 70; i++ {
		records = append(records, types.ContactRecord{UserName: groupName(i)})
	}
	cli.roster.AddContacts(records)

	if err := cli.fetchGroupMembers(context.Background()); err != nil {
		t.Fatalf("fetchGroupMembers: %v", err)
	}
	if len(batchSizes) != 2 {
		t.Fatalf("made %d batch calls for 70 groups, want 2", len(batchSizes))
	}
	if batchSizes[0] != 50 || batchSizes[1] != 20 {
		t.Errorf("batch sizes = %v, want [50 20]", batchSizes)
	}
	if got := cli.roster.GroupMembers(groupName(0)); len(got) != 1 {
		t.Errorf("group 0 members = %v, want one member", got)
	}
}

func groupName(i int) string {
	return "@@group" + string(rune('A'+i/26)) + string(rune('a'+i%26))
}
