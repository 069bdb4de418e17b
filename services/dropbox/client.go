package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloudplay/models"
)

const (
	apiBaseURL     = "https://api.dropboxapi.com"
	contentBaseURL = "https://content.dropboxapi.com"

	// listFolderPageLimit keeps individual listing responses small enough to
	// stream; Dropbox caps this at 2000 anyway.
	listFolderPageLimit = 1000

	// maxDocumentSize bounds downloads routed through Download (history
	// documents, thumbnails, descriptions) - never whole videos.
	maxDocumentSize = 25 * 1024 * 1024
)

// ErrNotFound means the requested remote path does not exist.
var ErrNotFound = errors.New("dropbox path not found")

type tokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client handles Dropbox API interactions: file listing, temporary streaming
// links, and whole-document download/upload.
type Client struct {
	httpClient *http.Client
	tokens     tokenProvider
}

// NewClient creates a Dropbox client using the supplied token provider.
// A nil httpClient falls back to a 60-second-timeout default.
func NewClient(tokens tokenProvider, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{httpClient: httpClient, tokens: tokens}
}

// ListFolderPage is one page of a folder enumeration.
type ListFolderPage struct {
	Entries []models.RemoteFile
	Cursor  string
	HasMore bool
}

type listFolderRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
	Limit     int    `json:"limit"`
}

type listFolderContinueRequest struct {
	Cursor string `json:"cursor"`
}

type listFolderEntry struct {
	Tag         string `json:".tag"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`
	Size        int64  `json:"size"`
}

type listFolderResponse struct {
	Entries []listFolderEntry `json:"entries"`
	Cursor  string            `json:"cursor"`
	HasMore bool              `json:"has_more"`
}

// ListFolder requests the first page of a recursive listing under root.
func (c *Client) ListFolder(ctx context.Context, root string) (ListFolderPage, error) {
	var resp listFolderResponse
	req := listFolderRequest{Path: root, Recursive: true, Limit: listFolderPageLimit}
	if err := c.rpc(ctx, "/2/files/list_folder", req, &resp); err != nil {
		return ListFolderPage{}, err
	}
	return pageFromResponse(resp), nil
}

// ListFolderContinue requests the next page for a previously issued cursor.
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (ListFolderPage, error) {
	var resp listFolderResponse
	if err := c.rpc(ctx, "/2/files/list_folder/continue", listFolderContinueRequest{Cursor: cursor}, &resp); err != nil {
		return ListFolderPage{}, err
	}
	return pageFromResponse(resp), nil
}

func pageFromResponse(resp listFolderResponse) ListFolderPage {
	page := ListFolderPage{Cursor: resp.Cursor, HasMore: resp.HasMore}
	for _, entry := range resp.Entries {
		// Folder and deleted entries carry no content; the catalog is built
		// from files alone.
		if entry.Tag != "file" {
			continue
		}
		page.Entries = append(page.Entries, models.RemoteFile{
			ID:          entry.ID,
			Name:        entry.Name,
			PathLower:   entry.PathLower,
			PathDisplay: entry.PathDisplay,
			SizeBytes:   entry.Size,
		})
	}
	return page
}

type temporaryLinkRequest struct {
	Path string `json:"path"`
}

type temporaryLinkResponse struct {
	Link string `json:"link"`
}

// TemporaryLink resolves a time-boxed streaming URL for the given path.
// Dropbox links stay valid for four hours.
func (c *Client) TemporaryLink(ctx context.Context, path string) (string, error) {
	var resp temporaryLinkResponse
	if err := c.rpc(ctx, "/2/files/get_temporary_link", temporaryLinkRequest{Path: path}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Link) == "" {
		return "", fmt.Errorf("temporary link response missing link for %q", path)
	}
	return resp.Link, nil
}

// Download fetches the full contents of one remote file.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := c.contentRequest(ctx, "/2/files/download", path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "download "+path); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read download %q: %w", path, err)
	}
	return data, nil
}

type uploadArg struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Mute bool   `json:"mute"`
}

// Upload overwrites the remote file at path with data. There are no partial
// or patch semantics; the whole document is replaced.
func (c *Client) Upload(ctx context.Context, path string, data []byte) error {
	req, err := c.contentRequest(ctx, "/2/files/upload", "", bytes.NewReader(data))
	if err != nil {
		return err
	}

	arg, err := json.Marshal(uploadArg{Path: path, Mode: "overwrite", Mute: true})
	if err != nil {
		return fmt.Errorf("marshal upload arg: %w", err)
	}
	req.Header.Set("Dropbox-API-Arg", string(arg))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %q: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "upload "+path); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// rpc posts a JSON request to an api.dropboxapi.com endpoint and decodes the
// JSON response into out.
func (c *Client) rpc(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dropbox api request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, endpoint); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) contentRequest(ctx context.Context, endpoint, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, contentBaseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if path != "" {
		arg, err := json.Marshal(temporaryLinkRequest{Path: path})
		if err != nil {
			return nil, fmt.Errorf("marshal api arg: %w", err)
		}
		req.Header.Set("Dropbox-API-Arg", string(arg))
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

type apiError struct {
	ErrorSummary string `json:"error_summary"`
}

// checkStatus maps Dropbox HTTP failures onto the client's error taxonomy.
func checkStatus(resp *http.Response, operation string) error {
	if resp.StatusCode < 400 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s - %s", ErrAuthFailed, resp.Status, strings.TrimSpace(string(body)))
	}

	if resp.StatusCode == http.StatusConflict {
		var apiErr apiError
		if err := json.Unmarshal(body, &apiErr); err == nil && strings.Contains(apiErr.ErrorSummary, "not_found") {
			return fmt.Errorf("%w: %s", ErrNotFound, operation)
		}
	}

	return fmt.Errorf("%s failed: %s - %s", operation, resp.Status, strings.TrimSpace(string(body)))
}
