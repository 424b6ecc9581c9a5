// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lunabar/webwx/types"
)

// mediaEndpoint describes where a media kind is downloaded from and the
// extension to assume when the response doesn't say.
type mediaEndpoint struct {
	kind       string
	path       string
	defaultExt string
}

var mediaEndpoints = map[types.MsgType]mediaEndpoint{
	types.MsgImage: {kind: "image", path: "/webwxgetmsgimg", defaultExt: "jpg"},
	types.MsgVoice: {kind: "voice", path: "/webwxgetvoice", defaultExt: "mp3"},
	types.MsgVideo: {kind: "video", path: "/webwxgetvideo", defaultExt: "mp4"},
}

// extFromContentType maps a Content-Type header to a file extension,
// preferred over the endpoint's default guess.
func extFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	_, subtype, ok := strings.Cut(mediaType, "/")
	if !ok {
		return ""
	}
	switch subtype {
	case "jpeg":
		return "jpg"
	case "mpeg":
		return "mp3"
	default:
		return subtype
	}
}

// downloadMedia fetches the payload of an image/voice/video message and
// stores it under MediaDir at {kind}/{MsgId}.{ext}, returning that path.
func (cli *Client) downloadMedia(ctx context.Context, msg *types.Message) (string, error) {
	endpoint, ok := mediaEndpoints[msg.MsgType]
	if !ok {
		return "", fmt.Errorf("webwx: message type %s has no media endpoint", msg.MsgType)
	}
	creds := cli.credentials()
	if !creds.Complete() {
		return "", ErrNotLoggedIn
	}
	opts := requestOptions{
		query: fmtQuery(
			"MsgID", msg.MsgID,
			"skey", creds.SKey,
		),
	}
	if msg.MsgType == types.MsgVideo {
		opts.headers = map[string]string{"Range": "bytes=0-"}
	}
	body, header, err := cli.do(ctx, http.MethodGet, cli.baseURL+endpoint.path, opts)
	if err != nil {
		return "", err
	}

	ext := endpoint.defaultExt
	if fromHeader := extFromContentType(header.Get("Content-Type")); fromHeader != "" {
		ext = fromHeader
	}
	dir := filepath.Join(cli.opts.MediaDir, endpoint.kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, msg.MsgID+"."+ext)
	// Write-then-rename so a partially written file never sits at the
	// final path.
	tmp := filepath.Join(dir, uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	cli.Log.Debug().Str("path", path).Int("bytes", len(body)).Msg("Stored inbound media")
	return path, nil
}

// nextFileID returns the next WU_FILE_ upload id. The counter is
// persisted so restarts never repeat an id.
func (cli *Client) nextFileID() string {
	n := cli.uploadCounter.Add(1) - 1
	return "WU_FILE_" + strconv.FormatUint(uint64(n), 10)
}

// uploadMediaType picks the coarse media class the upload form expects.
func uploadMediaType(ext string) string {
	switch ext {
	case "jpg", "jpeg", "png", "gif", "bmp":
		return "pic"
	case "mp4":
		return "video"
	default:
		return "doc"
	}
}

type uploadMediaRequest struct {
	UploadType    int         `json:"UploadType"`
	BaseRequest   baseRequest `json:"BaseRequest"`
	ClientMediaId string      `json:"ClientMediaId"`
	TotalLen      int         `json:"TotalLen"`
	StartPos      int         `json:"StartPos"`
	DataLen       int         `json:"DataLen"`
	MediaType     int         `json:"MediaType"`
	FromUserName  string      `json:"FromUserName"`
	ToUserName    string      `json:"ToUserName"`
	FileMd5       string      `json:"FileMd5"`
}

type uploadMediaResponse struct {
	BaseResponse *baseResponse `json:"BaseResponse"`
	MediaId      string        `json:"MediaId"`
}

// lastModifiedLayout is the browser-style date string the upload form
// carries for the file's mtime.
const lastModifiedLayout = "Mon Jan 02 2006 15:04:05 GMT-0700 (MST)"

// uploadMedia sends a file to the upload host in one shot (no chunking;
// files go whole) and returns the MediaId to reference in a send call.
func (cli *Client) uploadMedia(ctx context.Context, to, path string) (string, error) {
	base, err := cli.buildBaseRequest()
	if err != nil {
		return "", err
	}
	creds := cli.credentials()
	self := cli.Self()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	name := filepath.Base(path)
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	sum := md5.Sum(data)

	envelope, err := json.Marshal(uploadMediaRequest{
		UploadType:    2,
		BaseRequest:   base,
		ClientMediaId: cli.clientMsgID(),
		TotalLen:      len(data),
		StartPos:      0,
		DataLen:       len(data),
		MediaType:     4,
		FromUserName:  self.UserName,
		ToUserName:    to,
		FileMd5:       hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"id", cli.nextFileID()},
		{"name", name},
		{"type", mimeType},
		{"lastModifiedDate", info.ModTime().Format(lastModifiedLayout)},
		{"size", strconv.Itoa(len(data))},
		{"mediatype", uploadMediaType(ext)},
		{"uploadmediarequest", string(envelope)},
		{"webwx_data_ticket", cli.cookieValue("webwx_data_ticket")},
		{"pass_ticket", creds.PassTicket},
	}
	for _, field := range fields {
		if err := form.WriteField(field[0], field[1]); err != nil {
			return "", err
		}
	}
	part, err := form.CreateFormFile("filename", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	body, err := cli.request(ctx, http.MethodPost, cli.fileURL+"/webwxuploadmedia", requestOptions{
		query: fmtQuery("f", "json"),
		body:  &buf,
		headers: map[string]string{
			"Content-Type": form.FormDataContentType(),
		},
	})
	if err != nil {
		return "", err
	}
	var resp uploadMediaResponse
	if err := unmarshalJSON(body, &resp, "webwxuploadmedia"); err != nil {
		return "", err
	}
	if err := checkResponse("webwxuploadmedia", resp.BaseResponse); err != nil {
		return "", err
	}
	cli.saveSession()
	return resp.MediaId, nil
}

// cookieValue reads a session cookie by name from the shared jar.
func (cli *Client) cookieValue(name string) string {
	for _, host := range []string{cli.baseURL, cli.fileURL} {
		parsed, err := url.Parse(host)
		if err != nil {
			continue
		}
		for _, cookie := range cli.http.Jar.Cookies(parsed) {
			if cookie.Name == name {
				return cookie.Value
			}
		}
	}
	return ""
}
