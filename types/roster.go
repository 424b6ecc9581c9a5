// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

// Roster is the client's local directory of contacts and group
// memberships. It is rebuilt wholesale on every full contact fetch and
// extended incrementally by batched group member fetches. The roster is
// not safe for concurrent use; the engine's single control loop is the
// only writer.
type Roster struct {
	contacts map[string]Contact
	// members maps a group's UserName to its member UserNames in the
	// order the server returned them.
	members map[string][]string
}

func NewRoster() *Roster {
	return &Roster{
		contacts: make(map[string]Contact),
		members:  make(map[string][]string),
	}
}

// Reset drops all contacts and memberships ahead of a full rebuild.
func (r *Roster) Reset() {
	r.contacts = make(map[string]Contact)
	r.members = make(map[string][]string)
}

// AddContacts classifies and stores each record, last write wins per
// UserName.
func (r *Roster) AddContacts(records []ContactRecord) {
	for _, rec := range records {
		r.contacts[rec.UserName] = Contact{
			Identity: Identity{
				UserName:   rec.UserName,
				NickName:   rec.NickName,
				RemarkName: rec.RemarkName,
			},
			Kind: Classify(rec),
		}
	}
}

// SetGroupMembers records the member list of a group and adds each member
// as a group-member contact. Members never overwrite an existing
// non-member entry with the same UserName: a friend who is also in a
// group keeps their friend entry. The group itself is added from
// groupInfo if the roster doesn't know it yet.
func (r *Roster) SetGroupMembers(groupUserName string, members []ContactRecord, groupInfo ContactRecord) {
	if _, ok := r.contacts[groupUserName]; !ok && groupInfo.UserName != "" {
		r.AddContacts([]ContactRecord{groupInfo})
	}

	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.UserName)
		if _, exists := r.contacts[m.UserName]; exists {
			continue
		}
		r.contacts[m.UserName] = Contact{
			Identity: Identity{
				UserName: m.UserName,
				NickName: m.NickName,
			},
			Kind:          ContactGroupMember,
			GroupUserName: groupUserName,
		}
	}
	r.members[groupUserName] = names
}

// Get returns the contact stored under the given UserName.
func (r *Roster) Get(userName string) (Contact, bool) {
	c, ok := r.contacts[userName]
	return c, ok
}

// GetByNick returns the first contact whose NickName matches. Nicknames
// are not unique; this is a convenience lookup only.
func (r *Roster) GetByNick(nickName string) (Contact, bool) {
	for _, c := range r.contacts {
		if c.NickName == nickName {
			return c, true
		}
	}
	return Contact{}, false
}

// IdentityOf resolves a UserName to its identity, or a zero Identity when
// the roster doesn't know the id. Consumers must tolerate the zero value.
func (r *Roster) IdentityOf(userName string) Identity {
	if c, ok := r.contacts[userName]; ok {
		return c.Identity
	}
	return Identity{}
}

// Groups returns the UserNames of all known group chats.
func (r *Roster) Groups() []string {
	var groups []string
	for name, c := range r.contacts {
		if c.Kind == ContactGroup {
			groups = append(groups, name)
		}
	}
	return groups
}

// GroupMembers returns the member UserNames of a group in server order.
func (r *Roster) GroupMembers(groupUserName string) []string {
	return r.members[groupUserName]
}

// Len returns the number of stored contacts.
func (r *Roster) Len() int {
	return len(r.contacts)
}
