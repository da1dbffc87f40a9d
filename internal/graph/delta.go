package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// deltaPreferHeader requests that the Graph API include remote/shared items
// using stable alias IDs in delta responses.
var deltaPreferHeader = http.Header{
	"Prefer": {"deltashowremoteitemsaliasid"},
}

// deltaResponse mirrors the Graph API delta response envelope. Unexported —
// callers receive normalized DeltaPage values.
type deltaResponse struct {
	Value     []json.RawMessage `json:"value"`
	NextLink  string            `json:"@odata.nextLink"`  //nolint:tagliatelle // OData annotation key
	DeltaLink string            `json:"@odata.deltaLink"` //nolint:tagliatelle // OData annotation key
}

// deltaHTTPPrefix is the scheme prefix used to detect full URL tokens
// returned by the Graph API delta endpoint, as opposed to a bare relative
// path some callers may choose to persist instead.
const deltaHTTPPrefix = "http"

// Delta fetches one page of delta changes. Pass an empty cursor for the
// initial sync. For subsequent calls pass the
// NextLink or DeltaLink value returned by the previous call — both are
// full URLs and get converted to relative paths against the client's base
// URL before the request is issued.
func (c *Client) Delta(ctx context.Context, cursor string) (*DeltaPage, error) {
	path, err := c.buildDeltaPath(cursor)
	if err != nil {
		return nil, err
	}

	c.logger.Info("fetching delta page", slog.Bool("initial_sync", cursor == ""))

	resp, err := c.DoWithHeaders(ctx, http.MethodGet, path, nil, deltaPreferHeader)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var dr deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("graph: decoding delta response: %w", err)
	}

	items := make([]Item, 0, len(dr.Value))

	for i := range dr.Value {
		item, classifyErr := classify(dr.Value[i], c.logger)
		if classifyErr != nil {
			// Malformed JSON for one item degrades that item rather than
			// aborting the whole page.
			c.logger.Warn("skipping malformed delta item", slog.String("error", classifyErr.Error()))

			continue
		}

		items = append(items, item)
	}

	c.logger.Debug("fetched delta page",
		slog.Int("raw_count", len(dr.Value)),
		slog.Int("decoded_count", len(items)),
		slog.Bool("has_next_link", dr.NextLink != ""),
		slog.Bool("has_delta_link", dr.DeltaLink != ""),
	)

	return &DeltaPage{
		Items:     items,
		NextLink:  dr.NextLink,
		DeltaLink: dr.DeltaLink,
	}, nil
}

// buildDeltaPath constructs the API path for a delta request. An empty
// cursor means the initial sync; a non-empty cursor is either a full URL
// from a previous response (stripped to a relative path) or a bare path,
// used as-is.
func (c *Client) buildDeltaPath(cursor string) (string, error) {
	if cursor == "" {
		return "/me/drive/root/delta", nil
	}

	if !strings.HasPrefix(cursor, deltaHTTPPrefix) {
		return cursor, nil
	}

	path, err := c.stripBaseURL(cursor)
	if err != nil {
		return "", fmt.Errorf("graph: invalid delta cursor URL: %w", err)
	}

	return path, nil
}

// stripBaseURL removes the client's base URL prefix from a full URL,
// returning the path and query string for use with DoWithHeaders.
func (c *Client) stripBaseURL(fullURL string) (string, error) {
	if !strings.HasPrefix(fullURL, c.baseURL) {
		return "", fmt.Errorf("graph: link URL %q does not match base URL %q", fullURL, c.baseURL)
	}

	return fullURL[len(c.baseURL):], nil
}
