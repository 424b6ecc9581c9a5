// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lunabar/webwx/types"
)

type sendMsg struct {
	Type         types.MsgType `json:"Type"`
	Content      string        `json:"Content"`
	MediaId      string        `json:"MediaId,omitempty"`
	EmojiFlag    int           `json:"EmojiFlag,omitempty"`
	FromUserName string        `json:"FromUserName"`
	ToUserName   string        `json:"ToUserName"`
	LocalID      string        `json:"LocalID"`
	ClientMsgId  string        `json:"ClientMsgId"`
}

type sendRequest struct {
	BaseRequest baseRequest `json:"BaseRequest"`
	Msg         sendMsg     `json:"Msg"`
	Scene       int         `json:"Scene"`
}

type sendResponse struct {
	BaseResponse *baseResponse `json:"BaseResponse"`
	MsgID        string        `json:"MsgID"`
	LocalID      string        `json:"LocalID"`
}

// send posts a prepared message envelope to the given endpoint path.
func (cli *Client) send(ctx context.Context, path string, query []string, msg sendMsg) error {
	base, err := cli.buildBaseRequest()
	if err != nil {
		return err
	}
	id := cli.clientMsgID()
	msg.LocalID = id
	msg.ClientMsgId = id
	msg.FromUserName = cli.Self().UserName

	var resp sendResponse
	err = cli.postJSON(ctx, cli.baseURL+path, fmtQuery(query...), &sendRequest{
		BaseRequest: base,
		Msg:         msg,
		Scene:       0,
	}, &resp)
	if err != nil {
		return err
	}
	return checkResponse(strings.TrimPrefix(path, "/"), resp.BaseResponse)
}

// SendText delivers a plain text message to the given username. Send
// failures are logged rather than returned; the report is just
// success or not.
func (cli *Client) SendText(ctx context.Context, to, text string) bool {
	err := cli.send(ctx, "/webwxsendmsg", []string{"pass_ticket", cli.credentials().PassTicket}, sendMsg{
		Type:       types.MsgText,
		Content:    text,
		ToUserName: to,
	})
	if err != nil {
		cli.Log.Err(err).Str("to", to).Msg("Failed to send text message")
		return false
	}
	return true
}

// SendImage uploads the image at path and sends it to the given
// username.
func (cli *Client) SendImage(ctx context.Context, to, path string) bool {
	mediaID, err := cli.uploadMedia(ctx, to, path)
	if err != nil {
		cli.Log.Err(err).Str("path", path).Msg("Failed to upload image")
		return false
	}
	err = cli.send(ctx, "/webwxsendmsgimg", []string{"fun", "async", "f", "json"}, sendMsg{
		Type:       types.MsgImage,
		MediaId:    mediaID,
		ToUserName: to,
	})
	if err != nil {
		cli.Log.Err(err).Str("to", to).Msg("Failed to send image message")
		return false
	}
	return true
}

// SendEmoticon uploads a GIF at path and sends it as an animated
// emoticon. Anything that isn't a .gif is refused.
func (cli *Client) SendEmoticon(ctx context.Context, to, path string) bool {
	if !strings.EqualFold(filepath.Ext(path), ".gif") {
		cli.Log.Err(ErrEmoticonNotGif).Str("path", path).Msg("Refusing to send emoticon")
		return false
	}
	mediaID, err := cli.uploadMedia(ctx, to, path)
	if err != nil {
		cli.Log.Err(err).Str("path", path).Msg("Failed to upload emoticon")
		return false
	}
	err = cli.send(ctx, "/webwxsendemoticon", []string{"fun", "sys"}, sendMsg{
		Type:       types.MsgEmotion,
		MediaId:    mediaID,
		EmojiFlag:  2,
		ToUserName: to,
	})
	if err != nil {
		cli.Log.Err(err).Str("to", to).Msg("Failed to send emoticon")
		return false
	}
	return true
}

// appMsgContent renders the attachment envelope an app message carries.
// A zero-length file still produces a well-formed envelope.
func appMsgContent(name string, size int64, mediaID string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return fmt.Sprintf(
		"<appmsg appid='wxeb7ec651dd0aefa9' sdkver=''>"+
			"<title>%s</title><des></des><action></action><type>6</type><content></content><url></url><lowurl></lowurl>"+
			"<appattach><totallen>%d</totallen><attachid>%s</attachid><fileext>%s</fileext></appattach>"+
			"<extinfo></extinfo></appmsg>",
		name, size, mediaID, ext)
}

// SendFile uploads an arbitrary file at path and sends it as an
// attachment message.
func (cli *Client) SendFile(ctx context.Context, to, path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		cli.Log.Err(err).Str("path", path).Msg("Failed to read file for sending")
		return false
	}
	mediaID, err := cli.uploadMedia(ctx, to, path)
	if err != nil {
		cli.Log.Err(err).Str("path", path).Msg("Failed to upload file")
		return false
	}
	err = cli.send(ctx, "/webwxsendappmsg", []string{"fun", "async", "f", "json"}, sendMsg{
		Type:       types.MsgApp,
		Content:    appMsgContent(filepath.Base(path), info.Size(), mediaID),
		ToUserName: to,
	})
	if err != nil {
		cli.Log.Err(err).Str("to", to).Msg("Failed to send file message")
		return false
	}
	return true
}
