package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/DavisOwen/dropbox-backup/internal/config"
	"github.com/DavisOwen/dropbox-backup/internal/dropbox"
	"github.com/DavisOwen/dropbox-backup/internal/mirror"
	"github.com/DavisOwen/dropbox-backup/internal/tokenfile"
)

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Mirror the remote tree to the destination directory",
		Long: "Recursively lists the configured remote root, downloads every file\n" +
			"into the destination directory preserving the folder structure, and\n" +
			"reports counters and elapsed time when done.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBackup(cmd)
		},
	}
}

// runBackup wires the credential store, API client, limiter, and mirror
// engine together and executes one run.
func runBackup(cmd *cobra.Command) error {
	cfg := resolvedCfg
	logger := buildLogger()

	if err := config.ValidateAuth(cfg); err != nil {
		return err
	}

	creds, err := buildCredentials(cfg, logger)
	if err != nil {
		return err
	}

	requestDelay, err := cfg.ParsedRequestDelay()
	if err != nil {
		return err
	}

	retryDelay, err := cfg.ParsedRetryDelay()
	if err != nil {
		return err
	}

	limiter := mirror.NewRequestLimiter(cfg.Transfers.Concurrency, requestDelay, logger)

	retry := dropbox.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Transfers.MaxRetries
	retry.Delay = retryDelay
	retry.Backoff = cfg.Transfers.RetryBackoff

	client := dropbox.NewClient(creds, defaultHTTPClient(), limiter, logger,
		dropbox.WithRetryPolicy(retry))

	var ledger *mirror.Ledger
	if cfg.Ledger.Path != "" {
		ledger, err = mirror.OpenLedger(cfg.Ledger.Path, logger)
		if err != nil {
			// The ledger is diagnostic only; run without it.
			logger.Warn("ledger unavailable", slog.String("error", err.Error()))
			ledger = nil
		} else {
			defer ledger.Close()
		}
	}

	report := &mirror.Report{}
	xfer := mirror.NewTransferrer(client, cfg.Backup.Destination, logger)
	walker := mirror.NewWalker(client, xfer, ledger, report, logger)
	runner := mirror.NewRunner(creds, walker, ledger, report,
		cfg.Backup.Destination, cfg.Backup.RemoteRoot, logger)

	finalReport, runErr := runner.Run(cmd.Context())
	if runErr != nil {
		return runErr
	}

	fmt.Fprintln(cmd.OutOrStdout(), finalReport.Summary())

	if s := finalReport.Snapshot(); s.Failed > 0 {
		return fmt.Errorf("%d entries failed; see log for paths", s.Failed)
	}

	return nil
}

// buildCredentials seeds the credential store from the token file when one
// is configured and present (it holds the most recently rotated tokens),
// falling back to the configured static tokens. Rotations are persisted
// back to the token file.
func buildCredentials(cfg *config.Config, logger *slog.Logger) (*dropbox.Credentials, error) {
	tok := oauth2.Token{
		AccessToken:  cfg.Auth.AccessToken,
		RefreshToken: cfg.Auth.RefreshToken,
	}

	if cfg.Auth.TokenFile != "" {
		saved, err := tokenfile.Load(cfg.Auth.TokenFile)
		if err != nil {
			return nil, err
		}

		if saved != nil && saved.RefreshToken != "" {
			logger.Debug("using saved token file", slog.String("path", cfg.Auth.TokenFile))

			tok = *saved
		}
	}

	creds := dropbox.NewCredentials(dropbox.DefaultTokenURL,
		cfg.Auth.AppKey, cfg.Auth.AppSecret, tok, defaultHTTPClient(), logger)

	if path := cfg.Auth.TokenFile; path != "" {
		creds.OnRotate(func(t *oauth2.Token) {
			if err := tokenfile.Save(path, t); err != nil {
				logger.Warn("failed to persist rotated token",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)

				return
			}

			logger.Debug("persisted rotated token", slog.String("path", path))
		})
	}

	return creds, nil
}
