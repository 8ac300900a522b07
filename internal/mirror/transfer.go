package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/DavisOwen/dropbox-backup/internal/dropbox"
)

// Downloader streams one remote file's bytes. Implemented by dropbox.Client.
type Downloader interface {
	Download(ctx context.Context, path string, w io.WriteSeeker) (int64, error)
}

// TransferResult reports the outcome of one transfer task.
type TransferResult struct {
	LocalPath string
	Bytes     int64
	Skipped   bool
}

// Transferrer streams single remote files into the destination tree.
// The destination is write-only and path-partitioned: no two tasks ever
// write the same local path, so no file locking is needed.
type Transferrer struct {
	api      Downloader
	destRoot string
	logger   *slog.Logger
}

// NewTransferrer creates a transfer worker rooted at destRoot.
func NewTransferrer(api Downloader, destRoot string, logger *slog.Logger) *Transferrer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Transferrer{
		api:      api,
		destRoot: destRoot,
		logger:   logger,
	}
}

// Transfer downloads remotePath to its mirrored location under the
// destination root. Bytes stream to a .partial file that atomically
// replaces the target on success, so a re-run always fully rewrites the
// file and a crash never leaves a truncated target behind.
//
// Entries with no downloadable content (Paper docs and similar) come back
// as a skip result with a nil error; all other failures are surfaced after
// the client's retries are exhausted.
func (t *Transferrer) Transfer(ctx context.Context, remotePath string) (*TransferResult, error) {
	localPath, err := t.localPathFor(remotePath)
	if err != nil {
		return nil, err
	}

	if mkErr := os.MkdirAll(filepath.Dir(localPath), 0o755); mkErr != nil {
		return nil, fmt.Errorf("mirror: creating directory for %s: %w", localPath, mkErr)
	}

	partialPath := localPath + ".partial"

	f, err := os.Create(partialPath)
	if err != nil {
		return nil, fmt.Errorf("mirror: creating partial file %s: %w", partialPath, err)
	}

	n, dlErr := t.api.Download(ctx, remotePath, f)

	if closeErr := f.Close(); closeErr != nil && dlErr == nil {
		dlErr = fmt.Errorf("mirror: closing partial file %s: %w", partialPath, closeErr)
	}

	if dlErr != nil {
		os.Remove(partialPath)

		if dropbox.IsSkippable(dlErr) {
			t.logger.Warn("entry has no downloadable content, skipping",
				slog.String("remote_path", remotePath),
			)

			return &TransferResult{LocalPath: localPath, Skipped: true}, nil
		}

		return nil, dlErr
	}

	if err := os.Rename(partialPath, localPath); err != nil {
		os.Remove(partialPath)

		return nil, fmt.Errorf("mirror: renaming partial to %s: %w", localPath, err)
	}

	t.logger.Info("downloaded",
		slog.String("remote_path", remotePath),
		slog.String("local_path", localPath),
		slog.Int64("bytes", n),
	)

	return &TransferResult{LocalPath: localPath, Bytes: n}, nil
}

// localPathFor maps a remote path onto the destination root, preserving the
// remote directory structure. Paths are NFC-normalized so macOS (NFD) and
// remote (NFC) spellings of the same name land on one file. Anything that
// would escape the destination root is rejected.
func (t *Transferrer) localPathFor(remotePath string) (string, error) {
	rel := strings.TrimPrefix(norm.NFC.String(remotePath), "/")
	if rel == "" {
		return "", fmt.Errorf("mirror: empty remote path")
	}

	local := filepath.Join(t.destRoot, filepath.FromSlash(rel))

	// filepath.Join cleans "..", so a malicious path resolves outside the
	// root rather than inside it, so reject it here.
	if !strings.HasPrefix(local, filepath.Clean(t.destRoot)+string(filepath.Separator)) {
		return "", fmt.Errorf("mirror: remote path %q escapes destination root", remotePath)
	}

	return local, nil
}
