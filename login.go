// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"context"
	"encoding/xml"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/lunabar/webwx/types"
	"github.com/lunabar/webwx/types/events"
)

const (
	// loginAppID is the fixed application id the web client registers
	// itself with on the login host.
	loginAppID = "wx782c26e4c19acffb"
	// uuidCacheTTL caches an issued login ticket so per-tick polling
	// doesn't reissue it.
	uuidCacheTTL = 5 * time.Second
	// loginPollInterval paces the scan polling loop.
	loginPollInterval = 2 * time.Second
	// loginGateKey is the rate-gate key for the login wait loop.
	loginGateKey = "login"
)

var (
	uuidRegex      = regexp.MustCompile(`window\.QRLogin\.code = (\d+); window\.QRLogin\.uuid = "(\S+?)";`)
	loginCodeRegex = regexp.MustCompile(`window\.code=(\d+);`)
	redirectRegex  = regexp.MustCompile(`window\.code=200;window\.redirect_uri="(\S+?)";`)
)

// loginConfirm is the XML envelope behind the login redirect.
type loginConfirm struct {
	XMLName    xml.Name `xml:"error"`
	Ret        int      `xml:"ret"`
	Message    string   `xml:"message"`
	SKey       string   `xml:"skey"`
	WxSID      string   `xml:"wxsid"`
	WxUin      string   `xml:"wxuin"`
	PassTicket string   `xml:"pass_ticket"`
}

// issueUUID requests a fresh login ticket from the login host, parsing it
// out of the embedded-JS response.
func (cli *Client) issueUUID(ctx context.Context) (string, error) {
	body, err := cli.request(ctx, http.MethodGet, cli.loginURL+"/jslogin", requestOptions{
		query: fmtQuery(
			"appid", loginAppID,
			"fun", "new",
			"lang", "zh_CN",
			"_", cli.timestamp(),
		),
	})
	if err != nil {
		return "", err
	}
	matches := uuidRegex.FindSubmatch(body)
	if len(matches) != 3 {
		return "", &ParseError{Op: "jslogin", Detail: "QRLogin pattern not found"}
	}
	if code, _ := strconv.Atoi(string(matches[1])); code != 200 {
		return "", &ParseError{Op: "jslogin", Detail: "QRLogin code " + string(matches[1])}
	}
	return string(matches[2]), nil
}

// loginTicket returns a cached UUID if it is fresh enough, issuing a new
// one otherwise. On a fresh issue it writes the QR image side file and
// dispatches an events.QR.
func (cli *Client) loginTicket(ctx context.Context) (string, error) {
	if cli.loginUUID != "" && cli.now().Sub(cli.loginUUIDTime) < uuidCacheTTL {
		return cli.loginUUID, nil
	}
	uuid, err := cli.issueUUID(ctx)
	if err != nil {
		return "", err
	}
	cli.loginUUID = uuid
	cli.loginUUIDTime = cli.now()

	target := cli.renderQRTarget(uuid)
	var imagePath string
	if cli.store != nil {
		imagePath, err = cli.store.WriteQR(target)
		if err != nil {
			cli.Log.Warn().Err(err).Msg("Failed to write QR image")
		}
	}
	cli.Log.Info().Str("uuid", uuid).Msg("Issued fresh login ticket")
	cli.dispatchEvent(&events.QR{UUID: uuid, Target: target, ImagePath: imagePath})
	return uuid, nil
}

// renderQRTarget is pure string construction: the URL whose body is the
// QR PNG for a ticket.
func (cli *Client) renderQRTarget(uuid string) string {
	return cli.loginURL + "/qrcode/" + uuid
}

// pollScan checks once whether the ticket has been scanned and confirmed.
// It returns the redirect URL once the phone confirmed, or "" while the
// scan is still pending.
func (cli *Client) pollScan(ctx context.Context, uuid string) (string, error) {
	body, err := cli.request(ctx, http.MethodGet, cli.webURL+"/cgi-bin/mmwebwx-bin/login", requestOptions{
		query: fmtQuery(
			"uuid", uuid,
			"tip", "0",
			"_", cli.timestamp(),
		),
	})
	if err != nil {
		return "", err
	}
	matches := loginCodeRegex.FindSubmatch(body)
	if len(matches) != 2 {
		return "", nil
	}
	code, _ := strconv.Atoi(string(matches[1]))
	switch code {
	case 0:
		return "", nil
	case 200:
		redirect := redirectRegex.FindSubmatch(body)
		if len(redirect) != 2 {
			return "", &ParseError{Op: "login", Detail: "code 200 without redirect_uri"}
		}
		return string(redirect[1]), nil
	default:
		return "", &ParseError{Op: "login", Detail: "unexpected code " + string(matches[1])}
	}
}

// confirmLogin follows the scan redirect manually and captures the
// session credentials from its XML envelope. A non-zero ret means the
// phone has not confirmed yet; that is not an error.
func (cli *Client) confirmLogin(ctx context.Context, redirectURL string) (types.Credentials, bool, error) {
	body, err := cli.request(ctx, http.MethodGet, redirectURL+"&fun=new&version=v2", requestOptions{})
	if err != nil {
		return types.Credentials{}, false, err
	}
	var confirm loginConfirm
	if err := xml.Unmarshal(body, &confirm); err != nil {
		return types.Credentials{}, false, &ParseError{Op: "webwxnewloginpage", Detail: "invalid XML envelope", Err: err}
	}
	if confirm.Ret != 0 {
		cli.Log.Debug().Int("ret", confirm.Ret).Str("message", confirm.Message).Msg("Login not confirmed yet")
		return types.Credentials{}, false, nil
	}
	creds := types.Credentials{
		SKey:       confirm.SKey,
		SID:        confirm.WxSID,
		Uin:        confirm.WxUin,
		PassTicket: confirm.PassTicket,
	}
	if !creds.Complete() {
		return types.Credentials{}, false, &ParseError{Op: "webwxnewloginpage", Detail: "incomplete credential set"}
	}
	return creds, true, nil
}

// login runs the whole QR flow: issue a ticket, poll for the scan, and
// confirm the redirect. The rate gate bounds the polling; when it trips,
// the cached ticket is discarded and a fresh QR is issued.
func (cli *Client) login(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		uuid, err := cli.loginTicket(ctx)
		if err != nil {
			return err
		}
		if cli.gate.Hit(loginGateKey) {
			cli.Log.Warn().Msg("Too many login poll attempts, reissuing QR")
			cli.loginUUID = ""
			if !cli.sleep(ctx, gateBackoffDelay) {
				return ctx.Err()
			}
			continue
		}
		redirect, err := cli.pollScan(ctx, uuid)
		if err != nil {
			return err
		}
		if redirect == "" {
			if !cli.sleep(ctx, loginPollInterval) {
				return ctx.Err()
			}
			continue
		}
		creds, confirmed, err := cli.confirmLogin(ctx, redirect)
		if err != nil {
			return err
		}
		if !confirmed {
			if !cli.sleep(ctx, loginPollInterval) {
				return ctx.Err()
			}
			continue
		}
		cli.setCredentials(creds)
		cli.loginUUID = ""
		cli.gate.Reset(loginGateKey)
		cli.Log.Info().Msg("Captured session credentials")
		return nil
	}
}
