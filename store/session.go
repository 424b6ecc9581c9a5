// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package store persists the minimal session state needed to resume a
// logged-in session without scanning a QR code again, plus the login QR
// image side file.
package store

import (
	"encoding/gob"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/lunabar/webwx/types"
)

// TransportOptions are the transport settings worth resuming with. The
// debug flag is deliberately not part of this: persisted state is session
// identity only.
type TransportOptions struct {
	UserAgent      string
	Browser        string
	ConnectTimeout time.Duration
	SyncTimeout    time.Duration
}

// Session is the persisted state blob. It round-trips exactly through
// Save and Load.
type Session struct {
	Self          types.Identity
	Credentials   types.Credentials
	UploadCounter uint32
	Transport     TransportOptions
}

// FileStore keeps the session blob and the QR image as files in one
// directory.
type FileStore struct {
	dir string
}

const (
	sessionFileName = "session.gob"
	qrFileName      = "qrcode.png"
	qrImageSize     = 256
)

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// NewDefaultFileStore creates a store in the user's XDG data directory.
func NewDefaultFileStore() (*FileStore, error) {
	return NewFileStore(filepath.Join(xdg.DataHome, "webwx"))
}

// Save writes the session blob atomically.
func (s *FileStore) Save(sess *Session) error {
	tmp, err := os.CreateTemp(s.dir, sessionFileName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := gob.NewEncoder(tmp).Encode(sess); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, sessionFileName))
}

// Load reads the session blob. A missing blob is not an error: it returns
// (nil, nil) so the caller can start a fresh, unauthenticated session.
func (s *FileStore) Load() (*Session, error) {
	file, err := os.Open(filepath.Join(s.dir, sessionFileName))
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()
	var sess Session
	if err := gob.NewDecoder(file).Decode(&sess); err != nil {
		return nil, fmt.Errorf("failed to decode session blob: %w", err)
	}
	return &sess, nil
}

// Delete removes the session blob, logging the client out of the resumed
// state.
func (s *FileStore) Delete() error {
	err := os.Remove(filepath.Join(s.dir, sessionFileName))
	if errors.Is(err, iofs.ErrNotExist) {
		return nil
	}
	return err
}

// WriteQR renders the login target URL as a QR PNG at a fixed path and
// returns that path, so an operator can scan it out-of-band.
func (s *FileStore) WriteQR(target string) (string, error) {
	path := filepath.Join(s.dir, qrFileName)
	if err := qrcode.WriteFile(target, qrcode.Medium, qrImageSize, path); err != nil {
		return "", err
	}
	return path, nil
}
