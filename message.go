// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"context"
	"encoding/xml"
	"html"
	"strings"

	"github.com/lunabar/webwx/types"
	"github.com/lunabar/webwx/types/events"
)

// appMsgPayload is the HTML-escaped XML envelope inside a link-share
// message. Public accounts batch several articles into mmreader items.
type appMsgPayload struct {
	XMLName xml.Name `xml:"msg"`
	AppMsg  struct {
		Type        int    `xml:"type"`
		Title       string `xml:"title"`
		Description string `xml:"des"`
		URL         string `xml:"url"`
		MMReader    struct {
			Category struct {
				Items []appMsgItem `xml:"item"`
			} `xml:"category"`
		} `xml:"mmreader"`
	} `xml:"appmsg"`
}

type appMsgItem struct {
	Title  string `xml:"title"`
	Digest string `xml:"digest"`
	URL    string `xml:"url"`
}

// handleMessage classifies one raw inbound message and dispatches the
// semantic event. Unrecognized types are forwarded as an unknown variant
// carrying the raw payload, never dropped silently.
func (cli *Client) handleMessage(ctx context.Context, msg *types.Message) {
	evt := &events.Message{
		Type: msg.MsgType,
		From: cli.roster.IdentityOf(msg.FromUserName),
		To:   cli.roster.IdentityOf(msg.ToUserName),
		Raw:  msg,
	}

	switch msg.MsgType {
	case types.MsgText:
		if msg.URL != "" {
			// A text message with a location URL is really a location
			// share; the address is the text before the first colon.
			address, _, _ := strings.Cut(msg.Content, ":")
			evt.Type = types.MsgLocation
			evt.Value = events.Location{Address: address, URL: msg.URL}
		} else {
			evt.Value = msg.Content
		}
	case types.MsgLinkShare:
		cli.classifyLinkShare(msg, evt)
	case types.MsgImage, types.MsgVoice, types.MsgVideo:
		path, err := cli.downloadMedia(ctx, msg)
		if err != nil {
			cli.Log.Warn().Err(err).Str("msg_id", msg.MsgID).Msg("Media download failed")
			cli.dispatchEvent(&events.SessionFault{Op: "downloadmedia", Err: err})
			// The message itself is still forwarded; the consumer sees
			// it arrived even though the payload is missing.
			evt.Value = msg.Content
		} else {
			evt.Value = path
		}
	case types.MsgCard:
		evt.Value = events.Card{
			NickName: msg.RecommendInfo.NickName,
			Province: msg.RecommendInfo.Province,
			City:     msg.RecommendInfo.City,
		}
	case types.MsgSystem, types.MsgSYSNotice:
		evt.Value = msg.Content
	case types.MsgInit:
		// The service is telling the client to re-pull baseline state.
		// Not forwarded to handlers.
		cli.Log.Debug().Msg("Init message received, re-initializing session")
		if err := cli.initSession(ctx); err != nil {
			cli.Log.Warn().Err(err).Msg("Re-init after init message failed")
			cli.dispatchEvent(&events.SessionFault{Op: "webwxinit", Err: err})
		}
		return
	default:
		evt.Type = types.MsgUnknown
		evt.Value = msg.Content
		cli.Log.Debug().Int("msg_type", int(msg.MsgType)).Msg("Unclassified message type")
	}

	cli.dispatchEvent(evt)
}

// classifyLinkShare decodes the escaped XML payload of a share. Shares
// from public accounts are tagged as a distinct type so consumers can
// render article digests differently from peer-to-peer shares.
func (cli *Client) classifyLinkShare(msg *types.Message, evt *events.Message) {
	fromPublic := false
	if contact, ok := cli.roster.Get(msg.FromUserName); ok {
		fromPublic = contact.Kind == types.ContactPublic
	}
	if fromPublic {
		evt.Type = types.MsgPublicLinkShare
	}

	var payload appMsgPayload
	content := html.UnescapeString(msg.Content)
	if err := xml.Unmarshal([]byte(content), &payload); err != nil {
		cli.Log.Debug().Err(err).Str("msg_id", msg.MsgID).Msg("Unparseable link share payload")
		evt.Value = msg.Content
		return
	}
	// An app message with the attachment type code is a file, not a link.
	if payload.AppMsg.Type == int(types.MsgApp) {
		evt.Type = types.MsgAttachment
		evt.Value = msg.FileName
		return
	}
	if items := payload.AppMsg.MMReader.Category.Items; len(items) > 0 {
		shares := make([]events.LinkShareItem, len(items))
		for i, item := range items {
			shares[i] = events.LinkShareItem{Title: item.Title, Digest: item.Digest, URL: item.URL}
		}
		evt.Value = shares
		return
	}
	evt.Value = events.LinkShare{
		Title:       payload.AppMsg.Title,
		Description: payload.AppMsg.Description,
		URL:         payload.AppMsg.URL,
	}
}
