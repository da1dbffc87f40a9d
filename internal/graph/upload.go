package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
)

// SimpleUpload uploads the local file at localPath as the content of
// remotePath (relative to the drive root, no leading slash) in a single
// PUT request. Files are not chunked — the
// remote interface defines no resumable upload session, so arbitrarily
// large files rely on the caller's own retry-the-whole-file behavior on
// failure. When ifMatch is non-empty, the write is guarded by an If-Match
// precondition and fails with a *GraphError carrying status 412 if the
// remote item changed since ifMatch was read.
func (c *Client) SimpleUpload(ctx context.Context, localPath, remotePath, ifMatch string) (*Item, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("graph: opening %s for upload: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("graph: stating %s: %w", localPath, err)
	}

	c.logger.Info("simple upload",
		slog.String("remote_path", remotePath),
		slog.Int64("size", info.Size()),
	)

	path := fmt.Sprintf("/me/drive/root:/%s:/content", encodePathSegments(remotePath))

	resp, err := c.doRawUpload(ctx, http.MethodPut, path, f, info.Size(), ifMatch)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeItem(resp.Body, c.logger)
}

// doRawUpload sends an authenticated PUT with an application/octet-stream
// body. Unlike DoWithHeaders, this never retries — replaying a
// partially-consumed file reader after a network error is not safe, so a
// failed upload is surfaced to the caller to retry from a fresh reader.
func (c *Client) doRawUpload(
	ctx context.Context, method, path string, body io.Reader, size int64, ifMatch string,
) (*http.Response, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("graph: creating upload request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("graph: obtaining token for upload: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.userAgent)
	req.ContentLength = size

	for k, vs := range ifMatchHeader(ifMatch) {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph: upload request failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		return nil, &GraphError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("request-id"),
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	return resp, nil
}
