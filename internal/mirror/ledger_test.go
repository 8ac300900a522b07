package mirror

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()

	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	return l
}

func TestLedger_RecordsRunAndFiles(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	require.NoError(t, l.BeginRun(ctx, "/photos", "/backup"))
	require.NotEmpty(t, l.RunID())

	l.RecordFile(ctx, "/photos/a.jpg", FileDownloaded, 1024)
	l.RecordFile(ctx, "/photos/doc.paper", FileSkipped, 0)
	l.RecordFile(ctx, "/photos/bad.bin", FileFailed, 0)

	report := &Report{}
	report.AddFolder()
	report.AddDownload(1024)
	report.AddSkip()
	report.AddFailure("/photos/bad.bin", assert.AnError)

	require.NoError(t, l.FinishRun(ctx, report))

	var fileCount int

	row := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_files WHERE run_id = ?`, l.RunID())
	require.NoError(t, row.Scan(&fileCount))
	assert.Equal(t, 3, fileCount)

	var (
		downloaded, skipped, failed int
		bytes                       int64
		finishedAt                  string
	)

	row = l.db.QueryRowContext(ctx,
		`SELECT downloaded, skipped, failed, bytes, finished_at FROM runs WHERE id = ?`, l.RunID())
	require.NoError(t, row.Scan(&downloaded, &skipped, &failed, &bytes, &finishedAt))
	assert.Equal(t, 1, downloaded)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, failed)
	assert.Equal(t, int64(1024), bytes)
	assert.NotEmpty(t, finishedAt)
}

func TestLedger_SeparateRunsKeepSeparateIDs(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	require.NoError(t, l.BeginRun(ctx, "", "/backup"))
	first := l.RunID()

	require.NoError(t, l.BeginRun(ctx, "", "/backup"))
	second := l.RunID()

	assert.NotEqual(t, first, second)

	var runCount int

	row := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`)
	require.NoError(t, row.Scan(&runCount))
	assert.Equal(t, 2, runCount)
}

func TestLedger_NilIsNoOp(t *testing.T) {
	ctx := context.Background()

	var l *Ledger

	require.NoError(t, l.BeginRun(ctx, "", ""))
	assert.Empty(t, l.RunID())
	l.RecordFile(ctx, "/a", FileDownloaded, 1)
	require.NoError(t, l.FinishRun(ctx, &Report{}))
	require.NoError(t, l.Close())
}

func TestLedger_RecordBeforeBeginIsIgnored(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t)

	// No BeginRun yet: writes are dropped rather than violating the runs FK.
	l.RecordFile(ctx, "/a", FileDownloaded, 1)

	var fileCount int

	row := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_files`)
	require.NoError(t, row.Scan(&fileCount))
	assert.Zero(t, fileCount)
}
