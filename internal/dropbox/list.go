package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Entry tags returned by the list_folder endpoints.
const (
	TagFile    = "file"
	TagFolder  = "folder"
	TagDeleted = "deleted"
)

// Entry is one file or folder from a folder listing. Identity is the
// display path; entries are immutable once produced.
type Entry struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	Size           int64     `json:"size,omitempty"`
	ContentHash    string    `json:"content_hash,omitempty"`
	ServerModified time.Time `json:"server_modified,omitempty"`
}

// Path returns the entry's canonical path: path_display, falling back to
// path_lower for the rare entries that carry no display casing.
func (e *Entry) Path() string {
	if e.PathDisplay != "" {
		return e.PathDisplay
	}

	return e.PathLower
}

// IsFile reports whether the entry is a downloadable file.
func (e *Entry) IsFile() bool { return e.Tag == TagFile }

// IsFolder reports whether the entry is a folder.
func (e *Entry) IsFolder() bool { return e.Tag == TagFolder }

// Page is one page of a folder listing. The cursor is opaque and single-use:
// pass it to exactly one ListFolderContinue call.
type Page struct {
	Entries []Entry `json:"entries"`
	Cursor  string  `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

// listFolderRequest mirrors the /files/list_folder request JSON.
type listFolderRequest struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
}

// listContinueRequest mirrors the /files/list_folder/continue request JSON.
type listContinueRequest struct {
	Cursor string `json:"cursor"`
}

// ListFolder fetches the first page of entries under path.
// Pass an empty path for the account root. With recursive set, the server
// descends into subfolders itself and the caller only paginates.
func (c *Client) ListFolder(ctx context.Context, path string, recursive bool) (*Page, error) {
	c.logger.Debug("listing folder",
		slog.String("path", path),
		slog.Bool("recursive", recursive),
	)

	return c.listCall(ctx, "list_folder", "/files/list_folder", listFolderRequest{
		Path:      path,
		Recursive: recursive,
	})
}

// ListFolderContinue fetches the next page for a cursor obtained from a
// previous ListFolder or ListFolderContinue call.
func (c *Client) ListFolderContinue(ctx context.Context, cursor string) (*Page, error) {
	c.logger.Debug("continuing folder listing")

	return c.listCall(ctx, "list_folder/continue", "/files/list_folder/continue", listContinueRequest{
		Cursor: cursor,
	})
}

// listCall posts a JSON RPC body to the given API path and decodes a Page.
func (c *Client) listCall(ctx context.Context, name, apiPath string, reqBody any) (*Page, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("dropbox: encoding %s request: %w", name, err)
	}

	var page Page

	err = c.call(ctx, name,
		func() (*http.Request, error) {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+apiPath, bytes.NewReader(payload))
			if reqErr != nil {
				return nil, reqErr
			}

			req.Header.Set("Content-Type", "application/json")

			return req, nil
		},
		func(resp *http.Response) error {
			if decodeErr := json.NewDecoder(resp.Body).Decode(&page); decodeErr != nil {
				return fmt.Errorf("dropbox: decoding %s response: %w", name, decodeErr)
			}

			return nil
		},
	)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("listed page",
		slog.String("op", name),
		slog.Int("entries", len(page.Entries)),
		slog.Bool("has_more", page.HasMore),
	)

	return &page, nil
}
