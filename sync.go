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
	"regexp"
	"strconv"

	"github.com/lunabar/webwx/types"
)

// SyncStatus is the outcome of one sync-check long poll.
type SyncStatus int

const (
	SyncNormal SyncStatus = iota
	SyncFail
	SyncNewMessage
	SyncNewJoin
	SyncUnknown
)

var syncStatusNames = map[SyncStatus]string{
	SyncNormal:     "normal",
	SyncFail:       "fail",
	SyncNewMessage: "new_message",
	SyncNewJoin:    "new_join",
	SyncUnknown:    "unknown",
}

func (ss SyncStatus) String() string {
	if name, ok := syncStatusNames[ss]; ok {
		return name
	}
	return "unknown"
}

// selectorStatus maps the wire selector to a status. Anything the table
// doesn't know is Unknown, which the loop logs and ignores.
var selectorStatus = map[int]SyncStatus{
	0: SyncNormal,
	2: SyncNewMessage,
	7: SyncNewJoin,
}

const syncGateKey = "synccheck"

var syncCheckRegex = regexp.MustCompile(`window\.synccheck=\{retcode:"(\d+)",selector:"(\d+)"\}`)

// syncCheck issues the long poll. The server holds the call open until
// there is news or its own timeout, so this uses the long sync timeout. A
// non-zero retcode means the session is lost and returns a ProtocolError.
func (cli *Client) syncCheck(ctx context.Context) (SyncStatus, error) {
	creds := cli.credentials()
	if !creds.Complete() {
		return SyncFail, ErrNotLoggedIn
	}
	body, err := cli.request(ctx, http.MethodGet, cli.pushURL+"/synccheck", requestOptions{
		query: fmtQuery(
			"r", cli.timestamp(),
			"skey", creds.SKey,
			"sid", creds.SID,
			"uin", creds.Uin,
			"deviceid", deviceID(),
			"synckey", cli.syncKey.String(),
			"_", cli.timestamp(),
		),
		timeout: cli.opts.SyncTimeout,
	})
	if err != nil {
		return SyncFail, err
	}
	matches := syncCheckRegex.FindSubmatch(body)
	if len(matches) != 3 {
		return SyncFail, &ParseError{Op: "synccheck", Detail: "synccheck pattern not found"}
	}
	retcode, _ := strconv.Atoi(string(matches[1]))
	selector, _ := strconv.Atoi(string(matches[2]))
	if retcode != 0 {
		return SyncFail, &ProtocolError{Op: "synccheck", Ret: retcode}
	}
	status, ok := selectorStatus[selector]
	if !ok {
		cli.Log.Warn().Int("selector", selector).Msg("Unknown sync selector")
		return SyncUnknown, nil
	}
	return status, nil
}

type syncRequest struct {
	BaseRequest baseRequest   `json:"BaseRequest"`
	SyncKey     types.SyncKey `json:"SyncKey"`
	RR          string        `json:"rr"`
}

type syncResponse struct {
	BaseResponse   *baseResponse     `json:"BaseResponse"`
	AddMsgList     []types.Message   `json:"AddMsgList"`
	ModContactList []json.RawMessage `json:"ModContactList"`
	DelContactList []json.RawMessage `json:"DelContactList"`
	SyncKey        types.SyncKey     `json:"SyncKey"`
}

// fetchDetail posts the current cursor and consumes what the server has
// accumulated since. The returned cursor replaces the current one
// unconditionally. Contact deletions and modifications are logged only:
// the roster refresh is the authority for membership, so the roster is
// knowingly stale until the next full refresh.
func (cli *Client) fetchDetail(ctx context.Context) error {
	base, err := cli.buildBaseRequest()
	if err != nil {
		return err
	}
	creds := cli.credentials()
	var resp syncResponse
	err = cli.postJSON(ctx, cli.baseURL+"/webwxsync", fmtQuery(
		"sid", creds.SID,
		"skey", creds.SKey,
		"pass_ticket", creds.PassTicket,
	), syncRequest{
		BaseRequest: base,
		SyncKey:     cli.syncKey,
		RR:          cli.reverseTimestamp(),
	}, &resp)
	if err != nil {
		return err
	}
	if err := checkResponse("webwxsync", resp.BaseResponse); err != nil {
		return err
	}
	cli.syncKey.Replace(resp.SyncKey)

	if len(resp.ModContactList) > 0 || len(resp.DelContactList) > 0 {
		cli.Log.Info().
			Int("modified", len(resp.ModContactList)).
			Int("deleted", len(resp.DelContactList)).
			Msg("Contact changes reported, roster will catch up on next refresh")
	}
	for i := range resp.AddMsgList {
		cli.handleMessage(ctx, &resp.AddMsgList[i])
	}
	return nil
}

// syncLoop is the inner session loop: long poll, fetch detail on news,
// repeat. It exits only when the session is lost or the context dies.
// When the rate gate trips it forces a full reload instead of hammering
// the push host.
func (cli *Client) syncLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cli.gate.Hit(syncGateKey) {
			cli.Log.Warn().Msg("Too many sync checks, forcing full reload")
			if !cli.sleep(ctx, gateBackoffDelay) {
				return ctx.Err()
			}
			if err := cli.reload(ctx); err != nil {
				return err
			}
			continue
		}
		status, err := cli.syncCheck(ctx)
		if err != nil {
			return err
		}
		switch status {
		case SyncNormal, SyncUnknown:
			// Nothing new; the long poll itself provided the pacing.
		case SyncNewMessage, SyncNewJoin:
			if err := cli.fetchDetail(ctx); err != nil {
				return err
			}
		}
	}
}
