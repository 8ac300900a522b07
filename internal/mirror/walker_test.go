package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavisOwen/dropbox-backup/internal/dropbox"
)

// fakeRemote is an in-memory Dropbox tree implementing Lister and Downloader.
// Folder listings are served in pages of pageSize entries; cursors encode the
// folder path and the next page index.
type fakeRemote struct {
	mu        sync.Mutex
	folders   map[string][]dropbox.Entry
	files     map[string]string
	pageSize  int
	listErr   map[string]error // folder path -> listing error
	fileErr   map[string]error // file path -> download error
	downloads map[string]int   // file path -> Download call count
}

func newFakeRemote(pageSize int) *fakeRemote {
	return &fakeRemote{
		folders:   map[string][]dropbox.Entry{},
		files:     map[string]string{},
		pageSize:  pageSize,
		listErr:   map[string]error{},
		fileErr:   map[string]error{},
		downloads: map[string]int{},
	}
}

// addFile registers a file and its entry in the parent folder listing.
func (f *fakeRemote) addFile(folder, path, content string) {
	f.files[path] = content
	f.folders[folder] = append(f.folders[folder], dropbox.Entry{
		Tag:         dropbox.TagFile,
		Name:        filepath.Base(path),
		PathDisplay: path,
		Size:        int64(len(content)),
	})
}

// addFolder registers a subfolder entry in the parent folder listing.
func (f *fakeRemote) addFolder(parent, path string) {
	if _, ok := f.folders[path]; !ok {
		f.folders[path] = nil
	}
	f.folders[parent] = append(f.folders[parent], dropbox.Entry{
		Tag:         dropbox.TagFolder,
		Name:        filepath.Base(path),
		PathDisplay: path,
	})
}

func (f *fakeRemote) page(path string, idx int) (*dropbox.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.listErr[path]; ok {
		return nil, err
	}

	entries, ok := f.folders[path]
	if !ok {
		return nil, &dropbox.APIError{StatusCode: http.StatusNotFound, Err: dropbox.ErrNotFound}
	}

	start := idx * f.pageSize
	if start > len(entries) {
		start = len(entries)
	}

	end := start + f.pageSize
	if end > len(entries) {
		end = len(entries)
	}

	hasMore := end < len(entries)

	page := &dropbox.Page{
		Entries: entries[start:end],
		HasMore: hasMore,
	}
	if hasMore {
		page.Cursor = fmt.Sprintf("%s|%d", path, idx+1)
	}

	return page, nil
}

func (f *fakeRemote) ListFolder(_ context.Context, path string, _ bool) (*dropbox.Page, error) {
	return f.page(path, 0)
}

func (f *fakeRemote) ListFolderContinue(_ context.Context, cursor string) (*dropbox.Page, error) {
	sep := strings.LastIndex(cursor, "|")
	if sep < 0 {
		return nil, fmt.Errorf("bad cursor %q", cursor)
	}

	idx, err := strconv.Atoi(cursor[sep+1:])
	if err != nil {
		return nil, fmt.Errorf("bad cursor %q", cursor)
	}

	return f.page(cursor[:sep], idx)
}

func (f *fakeRemote) Download(_ context.Context, path string, w io.WriteSeeker) (int64, error) {
	f.mu.Lock()
	f.downloads[path]++

	content, ok := f.files[path]
	err := f.fileErr[path]
	f.mu.Unlock()

	if err != nil {
		return 0, err
	}

	if !ok {
		return 0, &dropbox.APIError{StatusCode: http.StatusNotFound, Err: dropbox.ErrNotFound}
	}

	n, werr := w.Write([]byte(content))

	return int64(n), werr
}

func (f *fakeRemote) downloadCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.downloads[path]
}

// testLogger returns a logger that discards everything, keeping test output
// readable.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestWalker wires a walker over the fake remote with a fresh report and
// no ledger, mirroring into dest.
func newTestWalker(remote *fakeRemote, dest string) (*Walker, *Report) {
	logger := testLogger()
	report := &Report{}
	xfer := NewTransferrer(remote, dest, logger)

	return NewWalker(remote, xfer, nil, report, logger), report
}

func TestWalk_MirrorsTreeAcrossPages(t *testing.T) {
	remote := newFakeRemote(1) // one entry per page forces continuation on every folder
	remote.addFolder("", "/A")
	remote.addFile("", "/root.txt", "root contents")
	remote.addFile("/A", "/A/1.txt", "one")
	remote.addFile("/A", "/A/2.txt", "two")

	dest := t.TempDir()
	walker, report := newTestWalker(remote, dest)

	require.NoError(t, walker.Walk(context.Background(), ""))

	for path, want := range map[string]string{
		"root.txt": "root contents",
		"A/1.txt":  "one",
		"A/2.txt":  "two",
	} {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(path)))
		require.NoError(t, err, path)
		assert.Equal(t, want, string(got), path)
	}

	s := report.Snapshot()
	assert.Equal(t, 2, s.FoldersListed)
	assert.Equal(t, 3, s.Downloaded)
	assert.Equal(t, int64(len("root contents")+len("one")+len("two")), s.Bytes)
	assert.Zero(t, s.Skipped)
	assert.Zero(t, s.Failed)

	// Paginated traversal must visit every file exactly once.
	for _, p := range []string{"/root.txt", "/A/1.txt", "/A/2.txt"} {
		assert.Equal(t, 1, remote.downloadCount(p), p)
	}
}

func TestWalk_DeepNesting(t *testing.T) {
	remote := newFakeRemote(100)
	remote.addFolder("", "/a")
	remote.addFolder("/a", "/a/b")
	remote.addFolder("/a/b", "/a/b/c")
	remote.addFile("/a/b/c", "/a/b/c/deep.txt", "deep")

	dest := t.TempDir()
	walker, report := newTestWalker(remote, dest)

	require.NoError(t, walker.Walk(context.Background(), ""))

	got, err := os.ReadFile(filepath.Join(dest, "a", "b", "c", "deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(got))
	assert.Equal(t, 4, report.Snapshot().FoldersListed)
}

func TestWalk_SkipsEntriesWithoutContent(t *testing.T) {
	remote := newFakeRemote(100)
	remote.addFile("", "/notes.paper", "")
	remote.addFile("", "/ok.txt", "fine")
	remote.fileErr["/notes.paper"] = &dropbox.APIError{
		StatusCode: http.StatusConflict,
		Err:        dropbox.ErrUnsupported,
	}

	dest := t.TempDir()
	walker, report := newTestWalker(remote, dest)

	require.NoError(t, walker.Walk(context.Background(), ""))

	s := report.Snapshot()
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Downloaded)
	assert.Zero(t, s.Failed)

	// Neither the target nor a partial file may survive a skip.
	assert.NoFileExists(t, filepath.Join(dest, "notes.paper"))
	assert.NoFileExists(t, filepath.Join(dest, "notes.paper.partial"))
}

func TestWalk_SubtreeFailureLeavesSiblingsAlone(t *testing.T) {
	remote := newFakeRemote(100)
	remote.addFolder("", "/locked")
	remote.addFolder("", "/open")
	remote.addFile("/open", "/open/file.txt", "data")
	remote.listErr["/locked"] = &dropbox.APIError{
		StatusCode: http.StatusForbidden,
		Err:        dropbox.ErrForbidden,
	}

	dest := t.TempDir()
	walker, report := newTestWalker(remote, dest)

	require.NoError(t, walker.Walk(context.Background(), ""), "a failed subtree must not fail the walk")

	s := report.Snapshot()
	assert.Equal(t, 1, s.Failed)
	require.Len(t, s.Failures, 1)
	assert.Equal(t, "/locked", s.Failures[0].Path)
	assert.ErrorIs(t, s.Failures[0].Err, dropbox.ErrForbidden)

	got, err := os.ReadFile(filepath.Join(dest, "open", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestWalk_TransferFailureRecorded(t *testing.T) {
	remote := newFakeRemote(100)
	remote.addFile("", "/bad.bin", "")
	remote.addFile("", "/good.bin", "ok")
	remote.fileErr["/bad.bin"] = &dropbox.APIError{
		StatusCode: http.StatusInternalServerError,
		Err:        dropbox.ErrServerError,
	}

	dest := t.TempDir()
	walker, report := newTestWalker(remote, dest)

	require.NoError(t, walker.Walk(context.Background(), ""))

	s := report.Snapshot()
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Downloaded)
	assert.NoFileExists(t, filepath.Join(dest, "bad.bin"))
	assert.FileExists(t, filepath.Join(dest, "good.bin"))
}

func TestWalk_RefreshFailureAbortsRun(t *testing.T) {
	remote := newFakeRemote(100)
	remote.addFile("", "/a.txt", "a")
	remote.fileErr["/a.txt"] = fmt.Errorf("download: %w", dropbox.ErrRefreshFailed)

	walker, _ := newTestWalker(remote, t.TempDir())

	err := walker.Walk(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, dropbox.ErrRefreshFailed)
}

func TestWalk_IgnoresDeletedEntries(t *testing.T) {
	remote := newFakeRemote(100)
	remote.addFile("", "/keep.txt", "keep")
	remote.folders[""] = append(remote.folders[""], dropbox.Entry{
		Tag:         dropbox.TagDeleted,
		Name:        "gone.txt",
		PathDisplay: "/gone.txt",
	})

	dest := t.TempDir()
	walker, report := newTestWalker(remote, dest)

	require.NoError(t, walker.Walk(context.Background(), ""))

	assert.Equal(t, 1, report.Snapshot().Downloaded)
	assert.NoFileExists(t, filepath.Join(dest, "gone.txt"))
}

func TestWalk_RerunFullyReplacesFiles(t *testing.T) {
	remote := newFakeRemote(100)
	remote.addFile("", "/doc.txt", "first version, quite long")

	dest := t.TempDir()
	walker, _ := newTestWalker(remote, dest)
	require.NoError(t, walker.Walk(context.Background(), ""))

	remote.mu.Lock()
	remote.files["/doc.txt"] = "v2"
	remote.mu.Unlock()

	walker2, _ := newTestWalker(remote, dest)
	require.NoError(t, walker2.Walk(context.Background(), ""))

	got, err := os.ReadFile(filepath.Join(dest, "doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got), "a re-run replaces the whole file, never appends")
}
