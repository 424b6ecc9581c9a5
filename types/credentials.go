// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

// Credentials are the four opaque tokens the service issues at login.
// They are replaced as a set at login; SKey alone may be refreshed in
// place by a later session init.
type Credentials struct {
	SKey       string
	SID        string
	Uin        string
	PassTicket string
}

// Complete reports whether all four tokens are present. A session is only
// usable when they are.
func (c Credentials) Complete() bool {
	return c.SKey != "" && c.SID != "" && c.Uin != "" && c.PassTicket != ""
}
