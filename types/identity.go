// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package types contains the data model shared by the webwx client:
// identities, the roster, the sync cursor and raw message payloads.
package types

import "strings"

// ContactKind classifies a roster entry. The kinds form a closed set;
// classification is a pure function of the contact record (see Classify).
type ContactKind int

const (
	ContactFriend ContactKind = iota
	ContactPublic
	ContactGroup
	ContactSpecial
	ContactGroupMember
)

var contactKindNames = map[ContactKind]string{
	ContactFriend:      "friend",
	ContactPublic:      "public",
	ContactGroup:       "group",
	ContactSpecial:     "special",
	ContactGroupMember: "group_member",
}

func (ck ContactKind) String() string {
	if name, ok := contactKindNames[ck]; ok {
		return name
	}
	return "unknown"
}

// verifyFlagPublic is the VerifyFlag bit the service sets on public
// (official) accounts.
const verifyFlagPublic = 8

// Identity is the stable id plus the mutable display labels of a user.
// UserName is the only stable key; NickName and RemarkName must never be
// used to key maps.
type Identity struct {
	UserName   string `json:"UserName"`
	NickName   string `json:"NickName"`
	RemarkName string `json:"RemarkName,omitempty"`
}

// IsZero reports whether the identity carries no information at all.
func (id Identity) IsZero() bool {
	return id.UserName == "" && id.NickName == "" && id.RemarkName == ""
}

// ContactRecord is the subset of a raw contact payload the roster keeps.
type ContactRecord struct {
	UserName   string `json:"UserName"`
	NickName   string `json:"NickName"`
	RemarkName string `json:"RemarkName"`
	VerifyFlag int    `json:"VerifyFlag"`
}

// Contact is a classified roster entry. GroupUserName is only set for
// group members and points back at the containing group.
type Contact struct {
	Identity
	Kind          ContactKind
	GroupUserName string
}

// IsGroupID reports whether a user name denotes a group chat.
func IsGroupID(userName string) bool {
	return strings.HasPrefix(userName, "@@")
}

// Classify determines the kind of a contact record. The precedence is
// fixed: the public verify flag wins over everything, then the @@ group
// prefix, then ids without the @ prefix (service accounts), then friend.
func Classify(rec ContactRecord) ContactKind {
	switch {
	case rec.VerifyFlag&verifyFlagPublic != 0:
		return ContactPublic
	case IsGroupID(rec.UserName):
		return ContactGroup
	case !strings.HasPrefix(rec.UserName, "@"):
		return ContactSpecial
	default:
		return ContactFriend
	}
}
