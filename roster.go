// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"context"
	"net/http"

	"github.com/lunabar/webwx/types"
)

// groupChunkSize is how many groups one batch contact call may carry.
const groupChunkSize = 50

type contactResponse struct {
	BaseResponse *baseResponse         `json:"BaseResponse"`
	MemberCount  int                   `json:"MemberCount"`
	MemberList   []types.ContactRecord `json:"MemberList"`
}

// fetchContacts pulls the full contact list and rebuilds the roster from
// scratch.
func (cli *Client) fetchContacts(ctx context.Context) error {
	creds := cli.credentials()
	if !creds.Complete() {
		return ErrNotLoggedIn
	}
	body, err := cli.request(ctx, http.MethodGet, cli.baseURL+"/webwxgetcontact", requestOptions{
		query: fmtQuery(
			"pass_ticket", creds.PassTicket,
			"skey", creds.SKey,
			"r", cli.timestamp(),
			"seq", "0",
		),
	})
	if err != nil {
		return err
	}
	var resp contactResponse
	if err := unmarshalJSON(body, &resp, "webwxgetcontact"); err != nil {
		return err
	}
	if err := checkResponse("webwxgetcontact", resp.BaseResponse); err != nil {
		return err
	}
	cli.roster.Reset()
	cli.roster.AddContacts(resp.MemberList)
	cli.Log.Info().Int("contacts", cli.roster.Len()).Msg("Roster rebuilt")
	return nil
}

type batchContactQuery struct {
	UserName        string `json:"UserName"`
	EncryChatRoomID string `json:"EncryChatRoomId"`
}

type batchContactRequest struct {
	BaseRequest baseRequest         `json:"BaseRequest"`
	Count       int                 `json:"Count"`
	List        []batchContactQuery `json:"List"`
}

type groupRecord struct {
	types.ContactRecord
	MemberList []types.ContactRecord `json:"MemberList"`
}

type batchContactResponse struct {
	BaseResponse *baseResponse `json:"BaseResponse"`
	ContactList  []groupRecord `json:"ContactList"`
}

// fetchGroupMembers refreshes group membership in chunks of 50 groups per
// batch call. A failing chunk aborts the refresh with a ProtocolError,
// but chunks already folded into the roster stay applied: the refresh is
// best effort, not atomic.
func (cli *Client) fetchGroupMembers(ctx context.Context) error {
	groups := cli.roster.Groups()
	for start := 0; start < len(groups); start += groupChunkSize {
		end := start + groupChunkSize
		if end > len(groups) {
			end = len(groups)
		}
		if err := cli.fetchGroupChunk(ctx, groups[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (cli *Client) fetchGroupChunk(ctx context.Context, groups []string) error {
	base, err := cli.buildBaseRequest()
	if err != nil {
		return err
	}
	creds := cli.credentials()
	list := make([]batchContactQuery, len(groups))
	for i, g := range groups {
		list[i] = batchContactQuery{UserName: g}
	}
	var resp batchContactResponse
	err = cli.postJSON(ctx, cli.baseURL+"/webwxbatchgetcontact", fmtQuery(
		"type", "ex",
		"r", cli.timestamp(),
		"pass_ticket", creds.PassTicket,
	), batchContactRequest{
		BaseRequest: base,
		Count:       len(list),
		List:        list,
	}, &resp)
	if err != nil {
		return err
	}
	if err := checkResponse("webwxbatchgetcontact", resp.BaseResponse); err != nil {
		return err
	}
	for _, group := range resp.ContactList {
		cli.roster.SetGroupMembers(group.UserName, group.MemberList, group.ContactRecord)
	}
	return nil
}
