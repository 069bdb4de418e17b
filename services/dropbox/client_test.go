package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type staticTokens struct{}

func (staticTokens) AccessToken(ctx context.Context) (string, error) {
	return "test-token", nil
}

func TestListFolderKeepsOnlyFileEntries(t *testing.T) {
	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.Path != "/2/files/list_folder" {
				t.Fatalf("unexpected path %s", req.URL.Path)
			}
			if got := req.Header.Get("Authorization"); got != "Bearer test-token" {
				t.Fatalf("unexpected authorization header %q", got)
			}
			return jsonResponse(http.StatusOK, `{
				"entries": [
					{".tag":"folder","id":"id:dir","name":"Movies","path_lower":"/movies","path_display":"/Movies"},
					{".tag":"file","id":"id:1","name":"a.mkv","path_lower":"/movies/a.mkv","path_display":"/Movies/a.mkv","size":42},
					{".tag":"deleted","name":"gone.mkv","path_lower":"/movies/gone.mkv","path_display":"/Movies/gone.mkv"}
				],
				"cursor":"cur-1",
				"has_more":true
			}`), nil
		}),
	}

	client := NewClient(staticTokens{}, httpc)

	page, err := client.ListFolder(context.Background(), "")
	if err != nil {
		t.Fatalf("ListFolder failed: %v", err)
	}
	if len(page.Entries) != 1 {
		t.Fatalf("expected 1 file entry, got %d", len(page.Entries))
	}
	if page.Entries[0].ID != "id:1" || page.Entries[0].SizeBytes != 42 {
		t.Fatalf("unexpected entry %+v", page.Entries[0])
	}
	if page.Cursor != "cur-1" || !page.HasMore {
		t.Fatalf("unexpected pagination state %+v", page)
	}
}

func TestListFolderContinueSendsCursor(t *testing.T) {
	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.Path != "/2/files/list_folder/continue" {
				t.Fatalf("unexpected path %s", req.URL.Path)
			}
			var body struct {
				Cursor string `json:"cursor"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				t.Fatalf("decode request body: %v", err)
			}
			if body.Cursor != "cur-7" {
				t.Fatalf("expected cursor cur-7, got %q", body.Cursor)
			}
			return jsonResponse(http.StatusOK, `{"entries":[],"cursor":"cur-8","has_more":false}`), nil
		}),
	}

	client := NewClient(staticTokens{}, httpc)

	page, err := client.ListFolderContinue(context.Background(), "cur-7")
	if err != nil {
		t.Fatalf("ListFolderContinue failed: %v", err)
	}
	if page.HasMore {
		t.Fatalf("expected final page")
	}
}

func TestDownloadMissingPathIsNotFound(t *testing.T) {
	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusConflict, `{"error_summary":"path/not_found/..","error":{}}`), nil
		}),
	}

	client := NewClient(staticTokens{}, httpc)

	_, err := client.Download(context.Background(), "/.cloudplay/watch_history.json")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnauthorizedResponseIsAuthFailure(t *testing.T) {
	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusUnauthorized, `{"error_summary":"invalid_access_token/"}`), nil
		}),
	}

	client := NewClient(staticTokens{}, httpc)

	_, err := client.TemporaryLink(context.Background(), "/Movies/a.mkv")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestUploadOverwritesWholeDocument(t *testing.T) {
	var capturedArg string
	var capturedBody []byte

	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.Host != "content.dropboxapi.com" {
				t.Fatalf("upload must hit the content host, got %s", req.URL.Host)
			}
			capturedArg = req.Header.Get("Dropbox-API-Arg")
			var err error
			capturedBody, err = io.ReadAll(req.Body)
			if err != nil {
				t.Fatalf("read upload body: %v", err)
			}
			return jsonResponse(http.StatusOK, `{"name":"watch_history.json"}`), nil
		}),
	}

	client := NewClient(staticTokens{}, httpc)

	doc := []byte(`{"id:1":{"position":10,"duration":100,"lastWatched":1}}`)
	if err := client.Upload(context.Background(), "/.cloudplay/watch_history.json", doc); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if string(capturedBody) != string(doc) {
		t.Fatalf("uploaded body does not match document")
	}
	if !strings.Contains(capturedArg, `"mode":"overwrite"`) {
		t.Fatalf("expected overwrite mode in api arg, got %s", capturedArg)
	}
	if !strings.Contains(capturedArg, `"/.cloudplay/watch_history.json"`) {
		t.Fatalf("expected document path in api arg, got %s", capturedArg)
	}
}

func TestTemporaryLinkReturnsLink(t *testing.T) {
	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.Path != "/2/files/get_temporary_link" {
				t.Fatalf("unexpected path %s", req.URL.Path)
			}
			return jsonResponse(http.StatusOK, `{"link":"https://dl.dropboxusercontent.com/x/a.mkv"}`), nil
		}),
	}

	client := NewClient(staticTokens{}, httpc)

	link, err := client.TemporaryLink(context.Background(), "/Movies/a.mkv")
	if err != nil {
		t.Fatalf("TemporaryLink failed: %v", err)
	}
	if !strings.HasPrefix(link, "https://dl.dropboxusercontent.com/") {
		t.Fatalf("unexpected link %q", link)
	}
}
