package mirror

import (
	"fmt"
	"strings"
	"sync"
)

// FailureRecord describes one subtree or transfer that permanently failed.
type FailureRecord struct {
	Path string
	Err  error
}

// Report accumulates run counters across concurrent walk and transfer
// tasks. All methods are safe for concurrent use.
type Report struct {
	mu sync.Mutex

	FoldersListed int
	Downloaded    int
	Skipped       int
	Failed        int
	Bytes         int64
	Failures      []FailureRecord
}

// AddFolder records one fully listed folder.
func (r *Report) AddFolder() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.FoldersListed++
}

// AddDownload records one completed transfer of n bytes.
func (r *Report) AddDownload(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Downloaded++
	r.Bytes += n
}

// AddSkip records one entry skipped because it has no downloadable content.
func (r *Report) AddSkip() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Skipped++
}

// AddFailure records one permanently failed path. The failure stays local
// to its subtree; it never cancels sibling tasks.
func (r *Report) AddFailure(path string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Failed++
	r.Failures = append(r.Failures, FailureRecord{Path: path, Err: err})
}

// Snapshot returns a copy of the counters, safe to read after concurrent
// updates have finished or mid-run for progress sampling.
func (r *Report) Snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Report{
		FoldersListed: r.FoldersListed,
		Downloaded:    r.Downloaded,
		Skipped:       r.Skipped,
		Failed:        r.Failed,
		Bytes:         r.Bytes,
		Failures:      append([]FailureRecord(nil), r.Failures...),
	}
}

// Summary renders a one-line human-readable summary.
func (r *Report) Summary() string {
	s := r.Snapshot()

	var b strings.Builder

	fmt.Fprintf(&b, "%d folders listed, %d files downloaded (%d bytes), %d skipped, %d failed",
		s.FoldersListed, s.Downloaded, s.Bytes, s.Skipped, s.Failed)

	return b.String()
}
