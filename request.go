// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.mau.fi/util/exhttp"
	"go.mau.fi/util/random"
)

const (
	// maxAttempts is how many times one logical call hits the wire before
	// the transport gives up with a NetworkError.
	maxAttempts = 3
	// retryDelay is the fixed pause between transport attempts.
	retryDelay = time.Second

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

type requestOptions struct {
	query   url.Values
	body    io.Reader
	headers map[string]string
	// timeout overrides the client's connect timeout; the sync long poll
	// needs a much longer one.
	timeout time.Duration
}

// setBrowserHeaders decorates a request with the header set a real
// browser tab would send against this origin.
func (cli *Client) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", cli.opts.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Origin", originURL)
	req.Header.Set("Referer", originURL+"/")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
}

// do performs one logical call with bounded retries. Any HTTP status
// outside [200,400) counts as a failed attempt; network-level errors are
// retried the same way. Redirects are never followed: several protocol
// steps inspect the redirect target instead.
func (cli *Client) do(ctx context.Context, method, rawURL string, opts requestOptions) ([]byte, http.Header, error) {
	if len(opts.query) > 0 {
		rawURL = rawURL + "?" + opts.query.Encode()
	}
	timeout := opts.timeout
	if timeout == 0 {
		timeout = cli.opts.ConnectTimeout
	}

	var bodyBytes []byte
	if opts.body != nil {
		var err error
		bodyBytes, err = io.ReadAll(opts.body)
		if err != nil {
			return nil, nil, err
		}
	}

	var lastStatus int
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if !cli.sleep(ctx, retryDelay) {
				return nil, nil, ctx.Err()
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		body, header, status, err := cli.doOnce(reqCtx, method, rawURL, bodyBytes, opts.headers)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if exhttp.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
				lastErr = err
				continue
			}
			return nil, nil, err
		}
		if status < 200 || status >= 400 {
			cli.Log.Warn().
				Str("url", rawURL).
				Int("status", status).
				Str("body", truncateForLog(body)).
				Msg("Request returned bad status, retrying")
			lastStatus = status
			lastErr = nil
			continue
		}
		return body, header, nil
	}
	return nil, nil, &NetworkError{Op: method + " " + rawURL, StatusCode: lastStatus, Err: lastErr}
}

func (cli *Client) doOnce(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) ([]byte, http.Header, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, nil, 0, err
	}
	cli.setBrowserHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := cli.http.Do(req)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, 0, err
	}
	return respBody, resp.Header, resp.StatusCode, nil
}

// request is the plain body-only form of do.
func (cli *Client) request(ctx context.Context, method, rawURL string, opts requestOptions) ([]byte, error) {
	body, _, err := cli.do(ctx, method, rawURL, opts)
	return body, err
}

// postJSON marshals payload, posts it and decodes the response into out.
func (cli *Client) postJSON(ctx context.Context, rawURL string, query url.Values, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, err := cli.request(ctx, http.MethodPost, rawURL, requestOptions{
		query: query,
		body:  bytes.NewReader(data),
		headers: map[string]string{
			"Content-Type": "application/json;charset=UTF-8",
		},
	})
	if err != nil {
		return err
	}
	return unmarshalJSON(body, out, rawURL)
}

func unmarshalJSON(body []byte, out any, op string) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &ParseError{Op: op, Detail: "invalid JSON body", Err: err}
	}
	return nil
}

func truncateForLog(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// deviceID generates the anti-replay device token the protocol expects on
// every base request: "e" followed by 15 random digits. It is not an
// identity and is never stored.
func deviceID() string {
	digits := random.Bytes(15)
	for i, b := range digits {
		digits[i] = '0' + b%10
	}
	return "e" + string(digits)
}

// clientMsgID produces a client-side message id unique enough for the
// server to dedupe: millisecond timestamp with a 4-digit random suffix.
func (cli *Client) clientMsgID() string {
	suffix := random.Bytes(4)
	for i, b := range suffix {
		suffix[i] = '0' + b%10
	}
	return strconv.FormatInt(cli.now().UnixMilli(), 10) + string(suffix)
}

func (cli *Client) timestamp() string {
	return strconv.FormatInt(cli.now().UnixMilli(), 10)
}

// reverseTimestamp is the "r"/"rr" query decoration. The observed
// computation collapses to the complement of the low 32 bits of the
// millisecond clock; the server only cares that the value is present and
// descending-ish, so it is treated as a fixed transform rather than
// reproduced bit by bit.
func (cli *Client) reverseTimestamp() string {
	return strconv.FormatInt(int64(^uint32(cli.now().UnixMilli())), 10)
}

func fmtQuery(kv ...string) url.Values {
	q := make(url.Values, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	return q
}
