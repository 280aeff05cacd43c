package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharemirror/internal/config"
	"sharemirror/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.GatewayConfig{
		BaseURL:        srv.URL,
		RequestTimeout: 2 * time.Second,
		PageSize:       2,
	}, nil)
}

var ref = models.ShareRef{Code: "sw3abc", Secret: "x1y2"}

func TestListSharePaginatesAndTitles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/share/snap", r.URL.Path)
		assert.Equal(t, "cookie=1", r.Header.Get("Cookie"))
		assert.Equal(t, "sw3abc", r.URL.Query().Get("share_code"))
		assert.Equal(t, "x1y2", r.URL.Query().Get("receive_code"))

		switch r.URL.Query().Get("offset") {
		case "0":
			fmt.Fprint(w, `{"state":true,"data":{"count":3,"list":[{"cid":"100","n":"Season 1"},{"fid":200,"n":"ep.mkv"}]}}`)
		case "2":
			fmt.Fprint(w, `{"state":true,"data":{"count":3,"list":[{"fid":"300","n":"extra"}]}}`)
		default:
			t.Errorf("unexpected offset %q", r.URL.Query().Get("offset"))
		}
	})

	listing, err := c.ListShare(context.Background(), "cookie=1", ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "200", "300"}, listing.FileIDs)
	assert.Equal(t, "Season 1", listing.Title)
}

func TestListShareUsesShareTitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"state":true,"data":{"count":1,"share_title":"Docs","list":[{"fid":"1","n":"a"}]}}`)
	})

	listing, err := c.ListShare(context.Background(), "c", ref)
	require.NoError(t, err)
	assert.Equal(t, "Docs", listing.Title)
}

func TestListShareEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"state":true,"data":{"count":0,"list":[]}}`)
	})

	listing, err := c.ListShare(context.Background(), "c", ref)
	require.NoError(t, err)
	assert.Empty(t, listing.FileIDs)
	assert.Equal(t, untitledShare, listing.Title)
}

func TestListShareErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "invalid share", status: 200, body: `{"state":false,"error":"wrong code"}`, wantErr: ErrInvalidShare},
		{name: "login required", status: 200, body: `{"state":false,"errno":990001,"error":"login"}`, wantErr: ErrAuthExpired},
		{name: "unauthorized", status: 401, body: ``, wantErr: ErrAuthExpired},
		{name: "server error", status: 502, body: ``, wantErr: ErrRemoteUnavailable},
		{name: "garbage", status: 200, body: `<html>`, wantErr: ErrRemoteUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := c.ListShare(context.Background(), "c", ref)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestListShareUnreachable(t *testing.T) {
	c := New(config.GatewayConfig{BaseURL: "http://127.0.0.1:1", RequestTimeout: time.Second}, nil)

	_, err := c.ListShare(context.Background(), "c", ref)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestTransfer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/share/receive", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "55", r.PostForm.Get("cid"))
		assert.Equal(t, "sw3abc", r.PostForm.Get("share_code"))
		assert.Equal(t, "1,2", r.PostForm.Get("file_id"))
		fmt.Fprint(w, `{"state":true}`)
	})

	res, err := c.Transfer(context.Background(), "c", models.Destination{ID: "55"}, ref, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
}

func TestTransferRejectedCarriesReason(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"state":false,"error":"quota exceeded"}`)
	})

	_, err := c.Transfer(context.Background(), "c", models.Destination{ID: "0"}, ref, []string{"1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferRejected)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestTransferEmptyMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	res, err := c.Transfer(context.Background(), "c", models.Destination{ID: "0"}, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, int32(0), calls.Load())
}

func TestVerifyCredential(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/index_info", r.URL.Path)
		if r.Header.Get("Cookie") == "good" {
			fmt.Fprint(w, `{"state":true,"data":{"user_name":"alice"}}`)
			return
		}
		fmt.Fprint(w, `{"state":false,"error":"not logged in"}`)
	})

	name, err := c.VerifyCredential(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	_, err = c.VerifyCredential(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrAuthExpired)

	_, err = c.VerifyCredential(context.Background(), " ")
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestListFoldersSkipsFiles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("cid"))
		fmt.Fprint(w, `{"state":true,"data":[{"cid":"8","n":"Movies"},{"cid":"7","fid":"9","n":"a.txt"},{"cid":10,"n":"Music"}]}`)
	})

	folders, err := c.ListFolders(context.Background(), "c", "7")
	require.NoError(t, err)
	assert.Equal(t, []models.Folder{{ID: "8", Name: "Movies"}, {ID: "10", Name: "Music"}}, folders)
}

func TestCanceledContextDoesNotCallRemote(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListShare(ctx, "c", ref)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Equal(t, int32(0), calls.Load())
}
