// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package tlsutil provides an http.RoundTripper whose TLS ClientHello
// matches a real browser. The whole point of this client is passing as a
// browser session, so the TLS layer has to match the User-Agent it claims.
package tlsutil

import (
	"context"
	"net"
	"net/http"

	utls "github.com/refraction-networking/utls"
)

// ClientHelloID maps a browser name ("chrome", "firefox", "safari",
// "edge", "opera") to the uTLS hello to impersonate. Unknown names fall
// back to Chrome, which is also what the default User-Agent claims.
func ClientHelloID(browser string) utls.ClientHelloID {
	switch browser {
	case "firefox":
		return utls.HelloFirefox_120
	case "safari":
		return utls.HelloSafari_16_0
	default:
		// Edge and Opera are Chromium; the Chrome hello is correct for them.
		return utls.HelloChrome_120
	}
}

// NewRoundTripper wraps a transport so that every TLS connection is
// established with the given ClientHello instead of Go's native one.
func NewRoundTripper(clientHelloID utls.ClientHelloID, base *http.Transport) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &utlsRoundTripper{base: base, clientHelloID: clientHelloID}
}

type utlsRoundTripper struct {
	base          *http.Transport
	clientHelloID utls.ClientHelloID
}

func (u *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone per request: DialTLSContext captures the request host.
	transport := u.base.Clone()
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{}
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		uConn := utls.UClient(conn, &utls.Config{
			ServerName: req.URL.Hostname(),
		}, u.clientHelloID)
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return uConn, nil
	}
	return transport.RoundTrip(req)
}
