package mirror

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/DavisOwen/dropbox-backup/internal/dropbox"
)

// Lister fetches folder listing pages. Implemented by dropbox.Client.
type Lister interface {
	ListFolder(ctx context.Context, path string, recursive bool) (*dropbox.Page, error)
	ListFolderContinue(ctx context.Context, cursor string) (*dropbox.Page, error)
}

// Walker recursively enumerates the remote tree and spawns transfer tasks.
// Each folder is one logical task: it pages through its own listing in
// order, fans out a concurrent child walk per subfolder entry and a
// concurrent transfer per file entry, and is done when its pagination ends.
// The shared errgroup's Wait is the join for the entire task tree.
type Walker struct {
	api    Lister
	xfer   *Transferrer
	ledger *Ledger
	report *Report
	logger *slog.Logger
}

// NewWalker creates a traversal engine. ledger may be nil (disabled).
func NewWalker(api Lister, xfer *Transferrer, ledger *Ledger, report *Report, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Walker{
		api:    api,
		xfer:   xfer,
		ledger: ledger,
		report: report,
		logger: logger,
	}
}

// Walk traverses the tree rooted at root ("" means the account root) and
// blocks until every spawned task (listings, child walks, transfers) has
// completed. Failed subtrees and transfers are recorded in the report
// and do not disturb siblings; only a credential-refresh failure or context
// cancellation aborts the whole walk.
func (w *Walker) Walk(ctx context.Context, root string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.walkFolder(gctx, g, root)
	})

	return g.Wait()
}

// walkFolder runs one folder's listing state machine: first page, then
// continuation pages while the server reports more, consuming each cursor
// exactly once. Entries on every page spawn children into g.
func (w *Walker) walkFolder(ctx context.Context, g *errgroup.Group, path string) error {
	page, err := w.api.ListFolder(ctx, path, false)
	if err != nil {
		return w.subtreeFailed(ctx, path, err)
	}

	for {
		w.spawnEntries(ctx, g, page.Entries)

		if !page.HasMore {
			break
		}

		page, err = w.api.ListFolderContinue(ctx, page.Cursor)
		if err != nil {
			return w.subtreeFailed(ctx, path, err)
		}
	}

	w.report.AddFolder()
	w.logger.Debug("folder listed", slog.String("path", path))

	return nil
}

// spawnEntries fans out one page's entries: files become transfer tasks,
// folders become recursive child walks. Siblings run concurrently with no
// ordering between them.
func (w *Walker) spawnEntries(ctx context.Context, g *errgroup.Group, entries []dropbox.Entry) {
	for i := range entries {
		entry := entries[i]

		switch {
		case entry.IsFile():
			g.Go(func() error {
				return w.transferFile(ctx, entry.Path())
			})
		case entry.IsFolder():
			g.Go(func() error {
				return w.walkFolder(ctx, g, entry.Path())
			})
		default:
			// Deleted entries and unknown tags carry nothing to mirror.
			w.logger.Debug("ignoring entry",
				slog.String("tag", entry.Tag),
				slog.String("path", entry.Path()),
			)
		}
	}
}

// transferFile runs one transfer task and folds its outcome into the
// report and ledger.
func (w *Walker) transferFile(ctx context.Context, remotePath string) error {
	res, err := w.xfer.Transfer(ctx, remotePath)
	if err != nil {
		if fatal := w.fatalErr(ctx, err); fatal != nil {
			return fatal
		}

		w.report.AddFailure(remotePath, err)
		w.ledger.RecordFile(ctx, remotePath, FileFailed, 0)
		w.logger.Error("download failed permanently",
			slog.String("remote_path", remotePath),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if res.Skipped {
		w.report.AddSkip()
		w.ledger.RecordFile(ctx, remotePath, FileSkipped, 0)

		return nil
	}

	w.report.AddDownload(res.Bytes)
	w.ledger.RecordFile(ctx, remotePath, FileDownloaded, res.Bytes)

	return nil
}

// subtreeFailed handles a listing failure: fatal errors propagate and
// cancel the run, anything else marks this folder's subtree failed while
// siblings keep going.
func (w *Walker) subtreeFailed(ctx context.Context, path string, err error) error {
	if fatal := w.fatalErr(ctx, err); fatal != nil {
		return fatal
	}

	w.report.AddFailure(path, err)
	w.logger.Error("listing failed permanently, abandoning subtree",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)

	return nil
}

// fatalErr returns a non-nil error when err must abort the entire run:
// credential-refresh failure or cancellation of the walk context.
func (w *Walker) fatalErr(ctx context.Context, err error) error {
	if errors.Is(err, dropbox.ErrRefreshFailed) {
		return err
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	return nil
}
