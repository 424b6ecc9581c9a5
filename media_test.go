// Copyright (c) 2024
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package webwx

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/lunabar/webwx/types"
)

func TestDownloadMedia(t *testing.T) {
	t.Parallel()
	payload := []byte{0x89, 'P', 'N', 'G'}
	mux := http.NewServeMux()
	mux.HandleFunc("/webwxgetmsgimg", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("MsgID"); got != "m1" {
			t.Errorf("MsgID = %q, want m1", got)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)
	cli.opts.MediaDir = t.TempDir()

	path, err := cli.downloadMedia(context.Background(), &types.Message{MsgID: "m1", MsgType: types.MsgImage})
	if err != nil {
		t.Fatalf("downloadMedia: %v", err)
	}
	// The Content-Type header wins over the endpoint's default extension.
	if want := filepath.Join(cli.opts.MediaDir, "image", "m1.png"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored media: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("stored media differs from server payload")
	}
}

func TestDownloadMediaDefaultExtension(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/webwxgetvoice", func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		w.Write([]byte("voice-bytes"))
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)
	cli.opts.MediaDir = t.TempDir()

	path, err := cli.downloadMedia(context.Background(), &types.Message{MsgID: "m2", MsgType: types.MsgVoice})
	if err != nil {
		t.Fatalf("downloadMedia: %v", err)
	}
	if filepath.Ext(path) != ".mp3" {
		t.Errorf("path = %q, want default .mp3 extension", path)
	}
}

func TestDownloadMediaVideoRangeHeader(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/webwxgetvideo", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Range"); got != "bytes=0-" {
			t.Errorf("Range = %q, want bytes=0-", got)
		}
		w.Write([]byte("video-bytes"))
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)
	cli.opts.MediaDir = t.TempDir()

	if _, err := cli.downloadMedia(context.Background(), &types.Message{MsgID: "m3", MsgType: types.MsgVideo}); err != nil {
		t.Fatalf("downloadMedia: %v", err)
	}
}

func TestUploadMedia(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(src, []byte("jpeg-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webwxuploadmedia", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("id"); got != "WU_FILE_0" {
			t.Errorf("id = %q, want WU_FILE_0", got)
		}
		if got := r.FormValue("mediatype"); got != "pic" {
			t.Errorf("mediatype = %q, want pic", got)
		}
		var envelope uploadMediaRequest
		if err := json.Unmarshal([]byte(r.FormValue("uploadmediarequest")), &envelope); err != nil {
			t.Fatalf("decode uploadmediarequest: %v", err)
		}
		if envelope.UploadType != 2 || envelope.MediaType != 4 {
			t.Errorf("envelope = %+v", envelope)
		}
		if envelope.TotalLen != 10 || envelope.DataLen != 10 {
			t.Errorf("lengths = %d/%d, want 10/10", envelope.TotalLen, envelope.DataLen)
		}
		if envelope.FileMd5 == "" {
			t.Error("FileMd5 missing")
		}
		file, _, err := r.FormFile("filename")
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		file.Close()
		json.NewEncoder(w).Encode(map[string]any{
			"BaseResponse": map[string]any{"Ret": 0},
			"MediaId":      "@media1",
		})
	})
	cli := newTestClient(t, mux)
	primeLogin(cli)

	mediaID, err := cli.uploadMedia(context.Background(), "@bob", src)
	if err != nil {
		t.Fatalf("uploadMedia: %v", err)
	}
	if mediaID != "@media1" {
		t.Errorf("mediaID = %q, want @media1", mediaID)
	}
	// The next upload uses the next file id.
	if got, want := cli.nextFileID(), "WU_FILE_1"; got != want {
		t.Errorf("nextFileID() = %q, want %q", got, want)
	}
}

func TestExtFromContentType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", "jpg"},
		{"image/png", "png"},
		{"audio/mpeg", "mp3"},
		{"video/mp4; charset=binary", "mp4"},
		{"", ""},
		{"garbage", ""},
	}
	for _, tt := range tests {
		if got := extFromContentType(tt.contentType); got != tt.want {
			t.Errorf("extFromContentType(%q) = %q, want %q", tt.contentType, got, tt.want)
		}
	}
}
