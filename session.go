// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"context"
	"strconv"

	"github.com/lunabar/webwx/types"
)

// baseRequest is the authentication envelope every session call carries.
type baseRequest struct {
	Uin      int64  `json:"Uin"`
	Sid      string `json:"Sid"`
	Skey     string `json:"Skey"`
	DeviceID string `json:"DeviceID"`
}

// baseResponse is the business-code envelope inside every HTTP 200.
type baseResponse struct {
	Ret    int    `json:"Ret"`
	ErrMsg string `json:"ErrMsg"`
}

// checkResponse validates the business envelope of a session call. A body
// that decoded without an envelope at all (null, empty object) is as
// fatal as a non-zero return code: both mean the session is not being
// served.
func checkResponse(op string, br *baseResponse) error {
	if br == nil {
		return &ProtocolError{Op: op, Ret: -1, Message: "missing response envelope"}
	}
	if br.Ret != 0 {
		return &ProtocolError{Op: op, Ret: br.Ret, Message: br.ErrMsg}
	}
	return nil
}

// buildBaseRequest assembles the envelope with a fresh device token.
func (cli *Client) buildBaseRequest() (baseRequest, error) {
	creds := cli.credentials()
	if !creds.Complete() {
		return baseRequest{}, ErrNotLoggedIn
	}
	uin, err := strconv.ParseInt(creds.Uin, 10, 64)
	if err != nil {
		return baseRequest{}, &ParseError{Op: "baserequest", Detail: "non-numeric uin", Err: err}
	}
	return baseRequest{
		Uin:      uin,
		Sid:      creds.SID,
		Skey:     creds.SKey,
		DeviceID: deviceID(),
	}, nil
}

type initRequest struct {
	BaseRequest baseRequest `json:"BaseRequest"`
}

type initResponse struct {
	BaseResponse *baseResponse  `json:"BaseResponse"`
	User         types.Identity `json:"User"`
	SyncKey      types.SyncKey  `json:"SyncKey"`
	SKey         string         `json:"SKey"`
}

// initSession performs the full session initialization: it refreshes the
// session key if the server rotated it, replaces the sync cursor with the
// server's initial one and records the logged-in identity.
func (cli *Client) initSession(ctx context.Context) error {
	base, err := cli.buildBaseRequest()
	if err != nil {
		return err
	}
	creds := cli.credentials()
	var resp initResponse
	err = cli.postJSON(ctx, cli.baseURL+"/webwxinit", fmtQuery(
		"r", cli.reverseTimestamp(),
		"pass_ticket", creds.PassTicket,
	), initRequest{BaseRequest: base}, &resp)
	if err != nil {
		return err
	}
	if err := checkResponse("webwxinit", resp.BaseResponse); err != nil {
		return err
	}
	if resp.SKey != "" && resp.SKey != creds.SKey {
		cli.Log.Debug().Msg("Session key rotated by init")
		cli.refreshSKey(resp.SKey)
	}
	cli.syncKey.Replace(resp.SyncKey)
	cli.setSelf(resp.User)
	cli.Log.Info().Str("user", resp.User.NickName).Msg("Session initialized")
	return nil
}

type statusNotifyRequest struct {
	BaseRequest  baseRequest `json:"BaseRequest"`
	Code         int         `json:"Code"`
	FromUserName string      `json:"FromUserName"`
	ToUserName   string      `json:"ToUserName"`
	ClientMsgId  string      `json:"ClientMsgId"`
}

type statusNotifyResponse struct {
	BaseResponse *baseResponse `json:"BaseResponse"`
}

// statusNotify tells the service the client is online. Failure is
// surfaced by the caller but doesn't abort the session.
func (cli *Client) statusNotify(ctx context.Context) error {
	base, err := cli.buildBaseRequest()
	if err != nil {
		return err
	}
	creds := cli.credentials()
	self := cli.Self()
	var resp statusNotifyResponse
	err = cli.postJSON(ctx, cli.baseURL+"/webwxstatusnotify", fmtQuery(
		"pass_ticket", creds.PassTicket,
	), statusNotifyRequest{
		BaseRequest:  base,
		Code:         3,
		FromUserName: self.UserName,
		ToUserName:   self.UserName,
		ClientMsgId:  cli.timestamp(),
	}, &resp)
	if err != nil {
		return err
	}
	return checkResponse("webwxstatusnotify", resp.BaseResponse)
}
