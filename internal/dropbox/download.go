package dropbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// apiArgHeader carries the RPC arguments for content-host endpoints, which
// reserve the request body for file bytes.
const apiArgHeader = "Dropbox-API-Arg"

// downloadArg mirrors the Dropbox-API-Arg JSON for /files/download.
type downloadArg struct {
	Path string `json:"path"`
}

// Download streams the remote file's bytes to w. The copy happens inside
// the resilient call, so the limiter slot covers the whole transfer and a
// failed stream is retried from byte zero on a fresh response. The file is
// never buffered whole in memory. Returns the number of bytes written on
// the final (successful) attempt.
//
// Callers writing to a file should hand Download a fresh truncated writer
// per call; the mirror package does this via its partial-file scheme.
func (c *Client) Download(ctx context.Context, path string, w io.WriteSeeker) (int64, error) {
	arg, err := json.Marshal(downloadArg{Path: path})
	if err != nil {
		return 0, fmt.Errorf("dropbox: encoding download arg: %w", err)
	}

	var written int64

	err = c.call(ctx, "download",
		func() (*http.Request, error) {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/files/download", http.NoBody)
			if reqErr != nil {
				return nil, reqErr
			}

			req.Header.Set(apiArgHeader, string(arg))

			return req, nil
		},
		func(resp *http.Response) error {
			// Rewind and truncate before each attempt so a retried
			// stream replaces any bytes from a failed one.
			if _, seekErr := w.Seek(0, io.SeekStart); seekErr != nil {
				return fmt.Errorf("dropbox: rewinding download target: %w", seekErr)
			}

			if t, ok := w.(interface{ Truncate(int64) error }); ok {
				if truncErr := t.Truncate(0); truncErr != nil {
					return fmt.Errorf("dropbox: truncating download target: %w", truncErr)
				}
			}

			n, copyErr := io.Copy(w, resp.Body)
			written = n

			if copyErr != nil {
				return fmt.Errorf("dropbox: streaming %s: %w", path, copyErr)
			}

			return nil
		},
	)
	if err != nil {
		return 0, err
	}

	c.logger.Debug("download complete",
		slog.String("path", path),
		slog.Int64("bytes", written),
	)

	return written, nil
}
