package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Refresher performs the blocking credential exchange. Implemented by
// dropbox.Credentials.
type Refresher interface {
	Refresh(ctx context.Context, stale string) error
}

// Runner coordinates one mirror run: bootstrap credentials, create the
// destination root, walk the remote tree, and report elapsed time.
type Runner struct {
	creds      Refresher
	walker     *Walker
	ledger     *Ledger
	report     *Report
	destRoot   string
	remoteRoot string
	logger     *slog.Logger
}

// NewRunner assembles a run coordinator. remoteRoot "" means the account
// root; ledger may be nil.
func NewRunner(creds Refresher, walker *Walker, ledger *Ledger, report *Report, destRoot, remoteRoot string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		creds:      creds,
		walker:     walker,
		ledger:     ledger,
		report:     report,
		destRoot:   destRoot,
		remoteRoot: remoteRoot,
		logger:     logger,
	}
}

// Run executes the full mirror. The startup credential refresh is fatal on
// failure; afterwards the walk runs to completion and the final report is
// returned even when some subtrees failed. The error is non-nil only for
// run-fatal conditions (refresh failure, cancellation).
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	// Refresh once up front so the whole run starts on a fresh token.
	if err := r.creds.Refresh(ctx, ""); err != nil {
		return nil, fmt.Errorf("mirror: startup credential refresh: %w", err)
	}

	if err := os.MkdirAll(r.destRoot, 0o755); err != nil {
		return nil, fmt.Errorf("mirror: creating destination root %s: %w", r.destRoot, err)
	}

	if err := r.ledger.BeginRun(ctx, r.remoteRoot, r.destRoot); err != nil {
		r.logger.Warn("ledger unavailable for this run", slog.String("error", err.Error()))
	}

	r.logger.Info("mirror run starting",
		slog.String("remote_root", r.remoteRoot),
		slog.String("destination", r.destRoot),
	)

	walkErr := r.walker.Walk(ctx, r.remoteRoot)

	if err := r.ledger.FinishRun(ctx, r.report); err != nil {
		r.logger.Warn("ledger finish failed", slog.String("error", err.Error()))
	}

	elapsed := time.Since(start)

	if walkErr != nil {
		r.logger.Error("mirror run aborted",
			slog.Duration("elapsed", elapsed),
			slog.String("error", walkErr.Error()),
		)

		return r.report, walkErr
	}

	r.logger.Info("mirror run complete",
		slog.Duration("elapsed", elapsed),
		slog.String("summary", r.report.Summary()),
	)

	return r.report, nil
}
