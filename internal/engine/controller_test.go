package engine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/datallboy/manifetch/internal/domain"
)

func newTestController() *Controller {
	return NewController(Options{
		Workers:          4,
		Digest:           "sha1",
		StopGrace:        50 * time.Millisecond,
		ProgressInterval: 10 * time.Millisecond,
		Timeout:          5 * time.Second,
	}, testLogger())
}

func waitRun(t *testing.T, c *Controller) domain.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return snap
}

func fileSHA1(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.RunRecord
}

func (f *fakeRecorder) SaveRun(_ context.Context, rec domain.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func TestControllerCompletesRun(t *testing.T) {
	files := map[string][]byte{
		"/one.bin":        pattern(1000),
		"/two.bin":        pattern(70000),
		"/nested/three.b": []byte("three"),
	}
	server := newFileServer(t, files)
	out := t.TempDir()

	m := manifestOf(
		domain.FileDescriptor{Path: "one.bin", URL: server.URL + "/one.bin", Hash: sha1Hex(files["/one.bin"])},
		domain.FileDescriptor{Path: "two.bin", URL: server.URL + "/two.bin", Hash: sha1Hex(files["/two.bin"])},
		domain.FileDescriptor{Path: "nested/three.b", URL: server.URL + "/nested/three.b", Hash: sha1Hex(files["/nested/three.b"])},
	)

	c := newTestController()
	rec := &fakeRecorder{}
	c.SetRecorder(rec)

	id, err := c.Start(context.Background(), m, out, RunOptions{Source: "test.xml"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("Start returned an empty run id")
	}

	snap := waitRun(t, c)
	if snap.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed (%s)", snap.Status, snap.Error)
	}
	if snap.Completed != 3 || snap.Total != 3 || snap.Succeeded != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.BytesWritten != 1000+70000+5 {
		t.Errorf("BytesWritten = %d", snap.BytesWritten)
	}
	if snap.RunID != id {
		t.Errorf("RunID = %q, want %q", snap.RunID, id)
	}

	for path, data := range files {
		if got := fileSHA1(t, filepath.Join(out, filepath.FromSlash(path[1:]))); got != sha1Hex(data) {
			t.Errorf("%s: digest %s", path, got)
		}
	}

	if rec.count() != 1 {
		t.Fatalf("recorder got %d runs, want 1", rec.count())
	}
	r := rec.records[0]
	if r.RunID != id || r.Manifest != "test.xml" || r.OutDir != out || len(r.Outcomes) != 3 {
		t.Errorf("recorded run = %+v", r)
	}
}

func TestControllerFailedFilesStillComplete(t *testing.T) {
	good := []byte("good")
	server := newFileServer(t, map[string][]byte{"/good": good, "/bad": []byte("corrupted")})
	dead := unreachableURL(t)

	m := manifestOf(
		domain.FileDescriptor{Path: "good", URL: server.URL + "/good", Hash: sha1Hex(good)},
		domain.FileDescriptor{Path: "bad", URL: server.URL + "/bad", Hash: sha1Hex(good)},
		domain.FileDescriptor{Path: "dead", URL: dead + "/dead", Hash: sha1Hex(good)},
	)

	c := newTestController()
	if _, err := c.Start(context.Background(), m, t.TempDir(), RunOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap := waitRun(t, c)
	if snap.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if snap.Completed != 3 || snap.Succeeded != 1 || snap.Failed != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	outcomes := c.Outcomes()
	if outcomes[1].Reason != domain.ReasonChecksum {
		t.Errorf("bad entry reason = %q", outcomes[1].Reason)
	}
	if outcomes[2].Reason != domain.ReasonDownload {
		t.Errorf("dead entry reason = %q", outcomes[2].Reason)
	}

	records := c.OutcomeRecords()
	if len(records) != 3 {
		t.Fatalf("got %d outcome records, want 3", len(records))
	}
	for i, rec := range records {
		if rec.Index != i {
			t.Errorf("records[%d].Index = %d", i, rec.Index)
		}
	}
	if records[1].Kind != domain.OutcomeFailed || records[1].Error == "" {
		t.Errorf("bad entry record = %+v", records[1])
	}
}

func TestControllerEmptyManifest(t *testing.T) {
	c := newTestController()
	if _, err := c.Start(context.Background(), manifestOf(), t.TempDir(), RunOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap := waitRun(t, c); snap.Status != domain.StatusCompleted || snap.Total != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestControllerStopBeforePickup(t *testing.T) {
	data := []byte("never")
	server := newFileServer(t, map[string][]byte{"/a": data, "/b": data})

	m := manifestOf(
		domain.FileDescriptor{Path: "a", URL: server.URL + "/a", Hash: sha1Hex(data)},
		domain.FileDescriptor{Path: "b", URL: server.URL + "/b", Hash: sha1Hex(data)},
	)

	c := newTestController()
	out := t.TempDir()
	if _, err := c.Start(context.Background(), m, out, RunOptions{StartPaused: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Snapshot().Paused {
		t.Error("run did not start paused")
	}

	c.Stop()
	snap := waitRun(t, c)

	if snap.Status != domain.StatusStopped {
		t.Fatalf("status = %s, want stopped", snap.Status)
	}
	if snap.Completed >= snap.Total {
		t.Errorf("completed %d of %d after stop", snap.Completed, snap.Total)
	}
	if len(c.Outcomes()) != 0 {
		t.Errorf("got outcomes %v, want none", c.Outcomes())
	}
	if snap.Paused {
		t.Error("terminal snapshot reports paused")
	}
	if _, err := os.Stat(filepath.Join(out, "a")); !os.IsNotExist(err) {
		t.Error("file written after stop")
	}
}

func TestControllerPauseHoldsTransfer(t *testing.T) {
	data := pattern(256 * 1024)
	server := newSlowServer(t, data, 8*1024, 5*time.Millisecond)
	out := t.TempDir()

	c := newTestController()
	m := manifestOf(domain.FileDescriptor{Path: "slow.bin", URL: server.URL, Hash: sha1Hex(data)})
	if _, err := c.Start(context.Background(), m, out, RunOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	eventually(t, 5*time.Second, func() bool { return c.Snapshot().BytesWritten > 0 }, "transfer never started")
	c.Pause()

	// A chunk already past the gate may still land
	time.Sleep(50 * time.Millisecond)
	held := c.Snapshot()
	dest := filepath.Join(out, "slow.bin")
	size := fileSize(dest)

	time.Sleep(200 * time.Millisecond)
	if after := c.Snapshot(); after.BytesWritten != held.BytesWritten || !after.Paused {
		t.Errorf("progress while paused: %d -> %d (paused=%v)", held.BytesWritten, after.BytesWritten, after.Paused)
	}
	if got := fileSize(dest); got != size {
		t.Errorf("file grew while paused: %d -> %d", size, got)
	}
	if held.Status != domain.StatusRunning {
		t.Errorf("status while paused = %s", held.Status)
	}

	c.Resume()
	snap := waitRun(t, c)
	if snap.Status != domain.StatusCompleted || snap.Succeeded != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := fileSHA1(t, dest); got != sha1Hex(data) {
		t.Errorf("digest after resume = %s", got)
	}
}

func TestControllerStopMidTransfer(t *testing.T) {
	data := pattern(512 * 1024)
	server := newSlowServer(t, data, 8*1024, 10*time.Millisecond)
	out := t.TempDir()

	c := newTestController()
	m := manifestOf(domain.FileDescriptor{Path: "big.bin", URL: server.URL, Hash: sha1Hex(data)})
	if _, err := c.Start(context.Background(), m, out, RunOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	eventually(t, 5*time.Second, func() bool { return c.Snapshot().BytesWritten > 0 }, "transfer never started")
	before := c.Snapshot().Completed
	c.Stop()
	snap := waitRun(t, c)

	if snap.Status != domain.StatusStopped {
		t.Fatalf("status = %s, want stopped", snap.Status)
	}
	if snap.Completed < before || snap.Completed != 0 {
		t.Errorf("completed = %d, want 0", snap.Completed)
	}
	if snap.Cancelled != 1 {
		t.Errorf("cancelled = %d, want 1", snap.Cancelled)
	}
	if o := c.Outcomes()[0]; o.Kind != domain.OutcomeCancelled {
		t.Errorf("outcome = %+v, want cancelled", o)
	}
	if size := fileSize(filepath.Join(out, "big.bin")); size <= 0 || size >= int64(len(data)) {
		t.Errorf("partial file size = %d", size)
	}

	// Controls on a finished run are no-ops
	c.Resume()
	c.Pause()
	if again := c.Snapshot(); again.Status != domain.StatusStopped || again.Paused {
		t.Errorf("snapshot after late controls = %+v", again)
	}
}

func TestControllerTerminalSnapshotOnce(t *testing.T) {
	data := []byte("obs")
	server := newFileServer(t, map[string][]byte{"/o": data})

	var (
		mu        sync.Mutex
		terminal  int
		snapshots int
	)
	c := newTestController()
	c.AddObserver(ObserverFunc(func(s domain.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snapshots++
		if s.Status.Terminal() {
			terminal++
		}
	}))

	m := manifestOf(domain.FileDescriptor{Path: "o", URL: server.URL + "/o", Hash: sha1Hex(data)})
	if _, err := c.Start(context.Background(), m, t.TempDir(), RunOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	eventually(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return terminal > 0
	}, "no terminal snapshot delivered")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if terminal != 1 {
		t.Errorf("terminal snapshot delivered %d times", terminal)
	}
}

func TestControllerRejectsSecondRun(t *testing.T) {
	data := pattern(128 * 1024)
	server := newSlowServer(t, data, 8*1024, 5*time.Millisecond)
	m := manifestOf(domain.FileDescriptor{Path: "s", URL: server.URL, Hash: sha1Hex(data)})

	c := newTestController()
	if _, err := c.Start(context.Background(), m, t.TempDir(), RunOptions{StartPaused: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := c.Start(context.Background(), m, t.TempDir(), RunOptions{}); !errors.Is(err, domain.ErrRunActive) {
		t.Errorf("second Start error = %v, want ErrRunActive", err)
	}

	c.Stop()
	waitRun(t, c)

	if _, err := c.Start(context.Background(), m, t.TempDir(), RunOptions{}); err != nil {
		t.Fatalf("Start after finish: %v", err)
	}
	waitRun(t, c)
}

func TestControllerInvalidOutDir(t *testing.T) {
	notDir := filepath.Join(t.TempDir(), "file")
	os.WriteFile(notDir, []byte("x"), 0644)

	tests := []struct {
		name   string
		outDir string
		ro     RunOptions
	}{
		{name: "empty", outDir: ""},
		{name: "missing", outDir: filepath.Join(t.TempDir(), "absent")},
		{name: "file", outDir: notDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController()
			id, err := c.Start(context.Background(), manifestOf(), tt.outDir, tt.ro)

			var ferr *domain.FilesystemError
			if !errors.As(err, &ferr) {
				t.Fatalf("expected FilesystemError, got %v", err)
			}
			snap := waitRun(t, c)
			if snap.Status != domain.StatusFailed || snap.RunID != id || snap.Error == "" {
				t.Errorf("snapshot = %+v", snap)
			}
		})
	}
}

func TestControllerCreatesOutDir(t *testing.T) {
	out := filepath.Join(t.TempDir(), "new", "dir")
	c := newTestController()
	if _, err := c.Start(context.Background(), manifestOf(), out, RunOptions{CreateOutDir: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)
	if info, err := os.Stat(out); err != nil || !info.IsDir() {
		t.Errorf("output directory not created: %v", err)
	}
}

func TestControllerIdle(t *testing.T) {
	c := newTestController()

	if s := c.Snapshot(); s.Status != domain.StatusIdle {
		t.Errorf("status = %s, want idle", s.Status)
	}
	if _, err := c.Wait(context.Background()); !errors.Is(err, domain.ErrNoRun) {
		t.Errorf("Wait error = %v, want ErrNoRun", err)
	}

	// Controls without a run do nothing
	c.Pause()
	c.Resume()
	c.Stop()
	if len(c.Outcomes()) != 0 {
		t.Error("outcomes without a run")
	}
}

func TestControllerSnapshotIsStable(t *testing.T) {
	data := []byte("stable")
	server := newFileServer(t, map[string][]byte{"/s": data})
	c := newTestController()
	m := manifestOf(domain.FileDescriptor{Path: "s", URL: server.URL + "/s", Hash: sha1Hex(data)})
	if _, err := c.Start(context.Background(), m, t.TempDir(), RunOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, c)

	a, b := c.Snapshot(), c.Snapshot()
	if a != b {
		t.Errorf("snapshots differ: %+v vs %+v", a, b)
	}
}

func TestControllerSetupFailureIsReported(t *testing.T) {
	rec := &fakeRecorder{}
	var (
		mu    sync.Mutex
		snaps []domain.Snapshot
	)

	c := newTestController()
	c.SetRecorder(rec)
	c.AddObserver(ObserverFunc(func(s domain.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	}))

	id, err := c.Start(context.Background(), manifestOf(), filepath.Join(t.TempDir(), "absent"), RunOptions{})
	if err == nil {
		t.Fatal("Start succeeded with a missing output directory")
	}
	waitRun(t, c)

	if rec.count() != 1 {
		t.Fatalf("recorded %d runs, want 1", rec.count())
	}
	rec.mu.Lock()
	saved := rec.records[0].Snapshot
	rec.mu.Unlock()
	if saved.RunID != id || saved.Status != domain.StatusFailed || saved.Error == "" {
		t.Errorf("recorded snapshot = %+v", saved)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) != 1 || snaps[0].Status != domain.StatusFailed || snaps[0].RunID != id {
		t.Errorf("observer got %+v, want one failed snapshot", snaps)
	}
}

func TestControllerDone(t *testing.T) {
	c := newTestController()
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed without a run")
	}

	data := []byte("done")
	server := newFileServer(t, map[string][]byte{"/d": data})
	m := manifestOf(domain.FileDescriptor{Path: "d", URL: server.URL + "/d", Hash: sha1Hex(data)})
	if _, err := c.Start(context.Background(), m, t.TempDir(), RunOptions{StartPaused: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := c.Done()
	select {
	case <-done:
		t.Fatal("Done closed while the run is paused")
	case <-time.After(50 * time.Millisecond):
	}

	c.Resume()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after the run finished")
	}
	if s := c.Snapshot(); s.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", s.Status)
	}
}

func TestControllerSlowObserverDoesNotStallOthers(t *testing.T) {
	data := pattern(16 * 1024)
	server := newFileServer(t, map[string][]byte{"/x": data})

	release := make(chan struct{})
	var fast atomic.Int32
	var slowTerminal atomic.Bool

	c := newTestController()
	c.AddObserver(ObserverFunc(func(s domain.Snapshot) {
		<-release
		if s.Status.Terminal() {
			slowTerminal.Store(true)
		}
	}))
	c.AddObserver(ObserverFunc(func(domain.Snapshot) { fast.Add(1) }))

	m := manifestOf(domain.FileDescriptor{Path: "x", URL: server.URL + "/x", Hash: sha1Hex(data)})
	if _, err := c.Start(context.Background(), m, t.TempDir(), RunOptions{StartPaused: true}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	eventually(t, 2*time.Second, func() bool { return fast.Load() >= 5 }, "fast observer stalled behind a blocked one")

	c.Resume()
	waitRun(t, c)
	close(release)

	eventually(t, 2*time.Second, slowTerminal.Load, "slow observer never got the terminal snapshot")
}
