// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

// MsgType is the service's numeric message type. The negative values are
// synthetic: they never appear on the wire and are produced by
// classification (a link share from a public account, a file attachment
// expressed as an app message).
type MsgType int

const (
	MsgText       MsgType = 1
	MsgImage      MsgType = 3
	MsgApp        MsgType = 6
	MsgVoice      MsgType = 34
	MsgVerify     MsgType = 37
	MsgCard       MsgType = 42
	MsgLiveVideo  MsgType = 43
	MsgEmotion    MsgType = 47
	MsgLocation   MsgType = 48
	MsgLinkShare  MsgType = 49
	MsgVOIP       MsgType = 50
	MsgInit       MsgType = 51
	MsgVOIPNotify MsgType = 52
	MsgVOIPInvite MsgType = 53
	MsgVideo      MsgType = 62
	MsgSYSNotice  MsgType = 9999
	MsgSystem     MsgType = 10000
	MsgRevoke     MsgType = 10002

	MsgUnknown         MsgType = -1
	MsgPublicLinkShare MsgType = -2
	MsgAttachment      MsgType = -3
)

// msgTypeNames is the explicit, auditable wire-code-to-name table.
var msgTypeNames = map[MsgType]string{
	MsgText:            "text",
	MsgImage:           "image",
	MsgApp:             "app",
	MsgVoice:           "voice",
	MsgVerify:          "verify",
	MsgCard:            "card",
	MsgLiveVideo:       "live_video",
	MsgEmotion:         "emotion",
	MsgLocation:        "location",
	MsgLinkShare:       "link_share",
	MsgVOIP:            "voip",
	MsgInit:            "init",
	MsgVOIPNotify:      "voip_notify",
	MsgVOIPInvite:      "voip_invite",
	MsgVideo:           "video",
	MsgSYSNotice:       "sys_notice",
	MsgSystem:          "system",
	MsgRevoke:          "revoke",
	MsgUnknown:         "unknown",
	MsgPublicLinkShare: "public_link_share",
	MsgAttachment:      "attachment",
}

func (mt MsgType) String() string {
	if name, ok := msgTypeNames[mt]; ok {
		return name
	}
	return "unknown"
}

// RecommendInfo is the embedded card payload of a contact-card message.
type RecommendInfo struct {
	NickName string `json:"NickName"`
	Province string `json:"Province"`
	City     string `json:"City"`
}

// Message is a raw inbound message as received from the sync detail call.
// It is immutable once constructed from a server payload.
type Message struct {
	MsgID         string        `json:"MsgId"`
	MsgType       MsgType       `json:"MsgType"`
	FromUserName  string        `json:"FromUserName"`
	ToUserName    string        `json:"ToUserName"`
	Content       string        `json:"Content"`
	URL           string        `json:"Url"`
	FileName      string        `json:"FileName"`
	FileSize      string        `json:"FileSize"`
	CreateTime    int64         `json:"CreateTime"`
	RecommendInfo RecommendInfo `json:"RecommendInfo"`
}
