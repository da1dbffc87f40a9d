package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// encodePathSegments URL-encodes each segment of a slash-separated path.
// Characters like #, ?, %, and spaces are encoded per-segment so the
// resulting path is safe for interpolation into Graph API URLs.
func encodePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}

	return strings.Join(segments, "/")
}

// parentReferencePath builds a parentReference.path value for a move,
// relative to the drive root. An empty parentPath addresses the drive
// root itself, which Graph expects as "/drive/root:" with no trailing
// path segment — appending a slash would address a child of the root
// named "", not the root.
func parentReferencePath(parentPath string) string {
	if parentPath == "" {
		return "/drive/root:"
	}

	return "/drive/root:/" + encodePathSegments(parentPath)
}

type createFolderRequest struct {
	Name             string            `json:"name"`
	Folder           createFolderFacet `json:"folder"`
	ConflictBehavior string            `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type createFolderFacet struct{}

type patchRequest struct {
	Name            string          `json:"name,omitempty"`
	ParentReference *patchParentRef `json:"parentReference,omitempty"`
	FileSystemInfo  *patchFSInfo    `json:"fileSystemInfo,omitempty"`
}

type patchParentRef struct {
	Path string `json:"path"`
}

type patchFSInfo struct {
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
}

// CreateByPath creates a new folder under parentPath (relative to the drive
// root, no leading slash; "" means the drive root). Uses conflictBehavior
// "fail" — a name collision surfaces as ErrConflict (409).
func (c *Client) CreateByPath(ctx context.Context, parentPath, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("parent_path", parentPath),
		slog.String("name", name),
	)

	path := childrenPath(parentPath)

	reqBody := createFolderRequest{
		Name:             name,
		Folder:           createFolderFacet{},
		ConflictBehavior: "fail",
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling create folder request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeItem(resp.Body, c.logger)
}

// childrenPath builds the children-collection API path for a parent
// identified by path relative to the drive root. An empty parentPath
// addresses the drive root itself.
func childrenPath(parentPath string) string {
	if parentPath == "" {
		return "/me/drive/root/children"
	}

	return fmt.Sprintf("/me/drive/root:/%s:/children", encodePathSegments(parentPath))
}

// UpdateByID patches an item's metadata (rename and/or move, and/or
// fileSystemInfo.lastModifiedDateTime), guarded by an If-Match precondition
// when ifMatch is non-empty. Zero-value PatchFields fields are omitted from
// the request. A 412 response (the remote item changed since ifMatch was
// read) is returned as a *GraphError carrying that status code.
func (c *Client) UpdateByID(ctx context.Context, id string, patch PatchFields, ifMatch string) (*Item, error) {
	c.logger.Info("updating item",
		slog.String("item_id", id),
		slog.String("new_name", patch.Name),
		slog.Any("new_parent_path", patch.ParentPath),
	)

	req := patchRequest{Name: patch.Name}

	if patch.ParentPath != nil {
		req.ParentReference = &patchParentRef{Path: parentReferencePath(*patch.ParentPath)}
	}

	if !patch.LastModifiedAt.IsZero() {
		req.FileSystemInfo = &patchFSInfo{LastModifiedDateTime: patch.LastModifiedAt.UTC().Format(rfc3339Millis)}
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("graph: marshaling update request: %w", err)
	}

	path := "/me/drive/items/" + id

	resp, err := c.DoWithHeaders(ctx, http.MethodPatch, path, bytes.NewReader(bodyBytes), ifMatchHeader(ifMatch))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeItem(resp.Body, c.logger)
}

// DeleteByID deletes an item by ID, guarded by an If-Match precondition
// when ifMatch is non-empty. Returns nil on success (HTTP 204).
func (c *Client) DeleteByID(ctx context.Context, id, ifMatch string) error {
	c.logger.Info("deleting item", slog.String("item_id", id))

	path := "/me/drive/items/" + id

	resp, err := c.DoWithHeaders(ctx, http.MethodDelete, path, nil, ifMatchHeader(ifMatch))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("graph: draining delete response body: %w", copyErr)
	}

	return nil
}

// rfc3339Millis is the timestamp format OneDrive's fileSystemInfo facet
// expects on write — RFC3339 with a fixed millisecond fraction.
const rfc3339Millis = "2006-01-02T15:04:05.000Z"

// decodeItem decodes a single driveItem response body via classify, so
// writes and reads share one interpretation of the wire shape.
func decodeItem(body io.Reader, logger *slog.Logger) (*Item, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("graph: reading item response: %w", err)
	}

	item, err := classify(raw, logger)
	if err != nil {
		return nil, err
	}

	return &item, nil
}
