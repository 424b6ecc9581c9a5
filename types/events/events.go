// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package events contains the event structs the client dispatches to
// registered handlers.
package events

import "github.com/lunabar/webwx/types"

// QR is emitted when a fresh login ticket has been issued. Target is the
// URL whose rendering is the QR code to scan; ImagePath is the PNG the
// client wrote for out-of-band scanning, empty if no store is configured.
type QR struct {
	UUID      string
	Target    string
	ImagePath string
}

// LoginSuccess is emitted once credentials have been captured and the
// session is initialized.
type LoginSuccess struct {
	Self types.Identity
}

// Message is a classified inbound message. From and To are resolved
// against the roster and may be zero identities when the sender or
// recipient is unknown; consumers must tolerate that. Value depends on
// Type: string for text/system/media paths, Location, LinkShare,
// []LinkShareItem, or Card.
type Message struct {
	Type  types.MsgType
	From  types.Identity
	To    types.Identity
	Value any
	Raw   *types.Message
}

// Location is the value of a text message that carries a location URL.
type Location struct {
	Address string
	URL     string
}

// LinkShare is the value of a single shared link.
type LinkShare struct {
	Title       string
	Description string
	URL         string
}

// LinkShareItem is one entry of a multi-item share (public account
// article digests).
type LinkShareItem struct {
	Title  string
	Digest string
	URL    string
}

// Card is the value of a contact-card message.
type Card struct {
	NickName string
	Province string
	City     string
}

// SessionFault is emitted when a non-fatal protocol step failed and the
// engine carried on (for example a status notify that was rejected).
type SessionFault struct {
	Op  string
	Err error
}

// LoggedOut is emitted when the session was declared lost and the engine
// is about to restart from the login flow.
type LoggedOut struct {
	Reason error
}
