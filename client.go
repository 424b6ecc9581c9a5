// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package webwx implements a headless client for the web WeChat API. It
// reproduces a browser's authenticated session with plain HTTP requests:
// QR-code login, the sync-check long poll, the contact roster, media
// transfer and outbound sends, with no official client library under it.
package webwx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
	"golang.org/x/net/publicsuffix"

	"github.com/lunabar/webwx/config"
	"github.com/lunabar/webwx/store"
	"github.com/lunabar/webwx/types"
	"github.com/lunabar/webwx/types/events"
	"github.com/lunabar/webwx/util/rategate"
	"github.com/lunabar/webwx/util/tlsutil"
)

// Default protocol hosts. They live in fields on the client so tests can
// point them at a local server.
const (
	originURL       = "https://wx2.qq.com"
	defaultLoginURL = "https://login.weixin.qq.com"
	defaultWebURL   = "https://login.wx2.qq.com"
	defaultBaseURL  = "https://wx2.qq.com/cgi-bin/mmwebwx-bin"
	defaultPushURL  = "https://webpush.wx2.qq.com/cgi-bin/mmwebwx-bin"
	defaultFileURL  = "https://file.wx2.qq.com/cgi-bin/mmwebwx-bin"
)

const (
	// faultRetryDelay is the pause before restarting from login after the
	// session faulted.
	faultRetryDelay = 5 * time.Second
	// gateBackoffDelay is the sleep after the rate gate trips.
	gateBackoffDelay = 5 * time.Second
)

// EventHandler receives every event the client dispatches: events.QR,
// events.LoginSuccess, events.Message, events.SessionFault,
// events.LoggedOut.
type EventHandler func(evt any)

// SessionStore persists session state between runs. store.FileStore is
// the default implementation.
type SessionStore interface {
	Save(sess *store.Session) error
	Load() (*store.Session, error)
	Delete() error
	WriteQR(target string) (string, error)
}

// Options are the engine's tunables. The zero value is usable; NewClient
// fills in defaults.
type Options struct {
	UserAgent string
	// Browser selects the TLS fingerprint to present: chrome, firefox,
	// safari. Empty means chrome.
	Browser string
	// ConnectTimeout bounds every call except the sync long poll.
	ConnectTimeout time.Duration
	// SyncTimeout bounds the sync-check long poll. The server holds the
	// call open for tens of seconds, so it must comfortably exceed that.
	SyncTimeout time.Duration
	// MediaDir is where downloaded media lands, in {kind}/{msgid}.{ext}
	// files.
	MediaDir string
	// MaxAttempts is the rate-gate ceiling per 30-second window.
	MaxAttempts int
	// Debug enables verbose payload logging. Never persisted.
	Debug bool
}

func (o *Options) applyDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.SyncTimeout == 0 {
		o.SyncTimeout = 60 * time.Second
	}
	if o.MediaDir == "" {
		o.MediaDir = "media"
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = rategate.DefaultCeiling
	}
}

// sessionState is the outer lifecycle of the engine. The run loop is the
// only writer.
type sessionState int

const (
	stateLoggedOut sessionState = iota
	stateLoggingIn
	stateActive
	stateFaulted
)

// Client is one logical web session: credentials, cookie jar, sync
// cursor, roster and the loops that drive them. The engine runs as a
// single sequential control loop and is not meant to be driven from
// multiple goroutines, except for the outbound Send calls, which guard
// the credentials with their own lock.
type Client struct {
	Log zerolog.Logger

	opts  Options
	http  *http.Client
	store SessionStore

	// credsLock guards creds and self against concurrent outbound sends;
	// everything else is owned by the run loop.
	credsLock sync.RWMutex
	creds     types.Credentials
	self      types.Identity

	syncKey types.SyncKey
	roster  *types.Roster
	gate    *rategate.Gate

	uploadCounter atomic.Uint32

	eventHandlers     []EventHandler
	eventHandlersLock sync.RWMutex

	// Login ticket cache: reissuing on every poll tick would hammer the
	// login host.
	loginUUID     string
	loginUUIDTime time.Time

	// Protocol hosts, overridable in tests.
	loginURL string
	webURL   string
	baseURL  string
	pushURL  string
	fileURL  string

	// Clock and sleep are replaceable so loops are testable without real
	// delays. sleep returns false when the context died first.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewClient creates a client. The session store may be nil, in which case
// nothing is persisted and the QR image side file is not written. The
// logger may be a zero zerolog.Logger for silence.
func NewClient(sessionStore SessionStore, opts Options, log zerolog.Logger) *Client {
	opts.applyDefaults()

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never fails with a non-nil options struct.
		panic(fmt.Errorf("webwx: failed to create cookie jar: %w", err))
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	cli := &Client{
		Log:   log,
		opts:  opts,
		store: sessionStore,
		http: &http.Client{
			Jar: jar,
			// Redirects are inspected, not followed: the login confirm
			// step reads tokens out of the redirect response itself.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: tlsutil.NewRoundTripper(tlsutil.ClientHelloID(opts.Browser), transport),
		},
		roster:   types.NewRoster(),
		gate:     rategate.New(rategate.DefaultWindow, opts.MaxAttempts),
		loginURL: defaultLoginURL,
		webURL:   defaultWebURL,
		baseURL:  defaultBaseURL,
		pushURL:  defaultPushURL,
		fileURL:  defaultFileURL,
		now:      time.Now,
	}
	cli.sleep = func(ctx context.Context, d time.Duration) bool {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		}
	}
	return cli
}

// NewClientFromConfig builds a client plus its file store from a loaded
// config.
func NewClientFromConfig(cfg *config.Config, log zerolog.Logger) (*Client, error) {
	fileStore, err := store.NewFileStore(cfg.General.StateDir)
	if err != nil {
		return nil, err
	}
	cli := NewClient(fileStore, Options{
		UserAgent:      cfg.General.UserAgent,
		Browser:        cfg.General.Browser,
		ConnectTimeout: time.Duration(cfg.General.ConnectTimeoutSeconds) * time.Second,
		SyncTimeout:    time.Duration(cfg.General.SyncTimeoutSeconds) * time.Second,
		MediaDir:       cfg.General.MediaDir,
		MaxAttempts:    cfg.General.MaxAttempts,
		Debug:          cfg.General.Debug,
	}, log)
	if cfg.General.Proxy != "" {
		if err := cli.SetProxyAddress(cfg.General.Proxy); err != nil {
			return nil, err
		}
	}
	return cli, nil
}

// AddEventHandler registers a handler for dispatched events. Handlers run
// synchronously on the engine loop, in registration order.
func (cli *Client) AddEventHandler(handler EventHandler) {
	cli.eventHandlersLock.Lock()
	cli.eventHandlers = append(cli.eventHandlers, handler)
	cli.eventHandlersLock.Unlock()
}

func (cli *Client) dispatchEvent(evt any) {
	cli.eventHandlersLock.RLock()
	handlers := cli.eventHandlers
	cli.eventHandlersLock.RUnlock()
	for _, handler := range handlers {
		handler(evt)
	}
}

// SetProxyAddress routes all traffic through an http://, https:// or
// socks5:// proxy.
func (cli *Client) SetProxyAddress(addr string) error {
	parsed, err := url.Parse(addr)
	if err != nil {
		return err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5":
		px, err := proxy.FromURL(parsed, &net.Dialer{Timeout: 30 * time.Second})
		if err != nil {
			return err
		}
		transport.DialContext = px.(proxy.ContextDialer).DialContext
	default:
		return fmt.Errorf("webwx: unsupported proxy scheme %q", parsed.Scheme)
	}
	cli.http.Transport = tlsutil.NewRoundTripper(tlsutil.ClientHelloID(cli.opts.Browser), transport)
	return nil
}

// Self returns the logged-in user's identity.
func (cli *Client) Self() types.Identity {
	cli.credsLock.RLock()
	defer cli.credsLock.RUnlock()
	return cli.self
}

// Roster returns the live roster. It is owned by the engine loop; read it
// from event handlers only.
func (cli *Client) Roster() *types.Roster {
	return cli.roster
}

// IsLoggedIn reports whether a complete credential set is held.
func (cli *Client) IsLoggedIn() bool {
	cli.credsLock.RLock()
	defer cli.credsLock.RUnlock()
	return cli.creds.Complete()
}

func (cli *Client) credentials() types.Credentials {
	cli.credsLock.RLock()
	defer cli.credsLock.RUnlock()
	return cli.creds
}

func (cli *Client) setCredentials(creds types.Credentials) {
	cli.credsLock.Lock()
	cli.creds = creds
	cli.credsLock.Unlock()
}

func (cli *Client) refreshSKey(skey string) {
	cli.credsLock.Lock()
	cli.creds.SKey = skey
	cli.credsLock.Unlock()
}

func (cli *Client) setSelf(self types.Identity) {
	cli.credsLock.Lock()
	cli.self = self
	cli.credsLock.Unlock()
}

// RestoreSession loads the persisted blob, if any, and primes the client
// with its credentials, identity, upload counter and transport options.
// It reports whether a resumable session was found.
func (cli *Client) RestoreSession() (bool, error) {
	if cli.store == nil {
		return false, nil
	}
	sess, err := cli.store.Load()
	if err != nil {
		return false, err
	}
	if sess == nil || !sess.Credentials.Complete() {
		return false, nil
	}
	cli.setCredentials(sess.Credentials)
	cli.setSelf(sess.Self)
	cli.uploadCounter.Store(sess.UploadCounter)
	if sess.Transport.UserAgent != "" {
		cli.opts.UserAgent = sess.Transport.UserAgent
	}
	if sess.Transport.ConnectTimeout != 0 {
		cli.opts.ConnectTimeout = sess.Transport.ConnectTimeout
	}
	if sess.Transport.SyncTimeout != 0 {
		cli.opts.SyncTimeout = sess.Transport.SyncTimeout
	}
	cli.Log.Info().Str("user", sess.Self.NickName).Msg("Restored persisted session")
	return true, nil
}

// saveSession persists the current state. Debug and other non-identity
// settings are excluded on purpose.
func (cli *Client) saveSession() {
	if cli.store == nil {
		return
	}
	cli.credsLock.RLock()
	sess := &store.Session{
		Self:          cli.self,
		Credentials:   cli.creds,
		UploadCounter: cli.uploadCounter.Load(),
		Transport: store.TransportOptions{
			UserAgent:      cli.opts.UserAgent,
			Browser:        cli.opts.Browser,
			ConnectTimeout: cli.opts.ConnectTimeout,
			SyncTimeout:    cli.opts.SyncTimeout,
		},
	}
	cli.credsLock.RUnlock()
	if err := cli.store.Save(sess); err != nil {
		cli.Log.Warn().Err(err).Msg("Failed to persist session state")
	}
}

// Run drives the engine until the context is cancelled. It is an explicit
// state machine: LoggedOut -> LoggingIn -> Active -> Faulted ->
// LoggedOut. Recoverable protocol errors never escape; they fault the
// session, which restarts from the login flow after a short sleep.
func (cli *Client) Run(ctx context.Context) error {
	state := stateLoggedOut
	if cli.IsLoggedIn() {
		state = stateActive
	}
	var faultReason error
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch state {
		case stateLoggedOut:
			state = stateLoggingIn
		case stateLoggingIn:
			if err := cli.login(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				cli.Log.Error().Err(err).Msg("Login flow failed")
				faultReason = err
				state = stateFaulted
				continue
			}
			state = stateActive
		case stateActive:
			err := cli.runSession(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cli.Log.Error().Err(err).Msg("Session lost, will re-login")
			faultReason = err
			state = stateFaulted
		case stateFaulted:
			cli.dispatchEvent(&events.LoggedOut{Reason: faultReason})
			cli.setCredentials(types.Credentials{})
			if cli.store != nil {
				if err := cli.store.Delete(); err != nil {
					cli.Log.Warn().Err(err).Msg("Failed to delete stale session blob")
				}
			}
			if !cli.sleep(ctx, faultRetryDelay) {
				return ctx.Err()
			}
			state = stateLoggedOut
		}
	}
}

// runSession performs a full session (re)initialization and then runs the
// inner sync loop until the session is lost or the context dies.
func (cli *Client) runSession(ctx context.Context) error {
	if err := cli.reload(ctx); err != nil {
		return err
	}
	cli.saveSession()
	cli.dispatchEvent(&events.LoginSuccess{Self: cli.Self()})
	return cli.syncLoop(ctx)
}

// reload re-runs init, status notify and the roster refresh pair. A
// status notify failure is surfaced but does not abort the reload.
func (cli *Client) reload(ctx context.Context) error {
	if err := cli.initSession(ctx); err != nil {
		return err
	}
	if err := cli.statusNotify(ctx); err != nil {
		cli.Log.Warn().Err(err).Msg("Status notify failed")
		cli.dispatchEvent(&events.SessionFault{Op: "statusnotify", Err: err})
	}
	if err := cli.fetchContacts(ctx); err != nil {
		return err
	}
	if err := cli.fetchGroupMembers(ctx); err != nil {
		// Best effort: chunks that did apply stay applied.
		cli.Log.Warn().Err(err).Msg("Group member refresh incomplete")
		cli.dispatchEvent(&events.SessionFault{Op: "batchgetcontact", Err: err})
	}
	return nil
}
