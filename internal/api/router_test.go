package api

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/datallboy/manifetch/internal/api/controllers"
	"github.com/datallboy/manifetch/internal/app"
	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/engine"
	"github.com/datallboy/manifetch/internal/infra/config"
	"github.com/datallboy/manifetch/internal/infra/logger"
	"github.com/datallboy/manifetch/internal/store"
	"github.com/labstack/echo/v5"
)

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// newContentServer serves two payload files and a manifest describing them
// at /manifest.xml.
func newContentServer(t *testing.T) *httptest.Server {
	t.Helper()
	files := map[string][]byte{
		"/files/a.bin": []byte("alpha"),
		"/files/b.bin": []byte("bravo bravo"),
	}

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/manifest.xml" {
			fmt.Fprintf(w, `<Manifest>
  <File><Path>a.bin</Path><Download>%[1]s/files/a.bin</Download><Hash>%[2]s</Hash></File>
  <File><Path>nested/b.bin</Path><Download>%[1]s/files/b.bin</Download><Hash>%[3]s</Hash></File>
</Manifest>`, server.URL, sha1Hex(files["/files/a.bin"]), sha1Hex(files["/files/b.bin"]))
			return
		}
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestApp(t *testing.T, withStore bool) (*echo.Echo, *app.Context) {
	t.Helper()

	cfg := &config.Config{
		Download: config.DownloadConfig{
			OutDir:           t.TempDir(),
			Workers:          4,
			ChunkSize:        config.DefaultChunkSize,
			Digest:           "sha1",
			Timeout:          5 * time.Second,
			StopGrace:        50 * time.Millisecond,
			ProgressInterval: 10 * time.Millisecond,
			UserAgent:        "manifetch-test",
		},
		Store: config.StoreConfig{Driver: "none"},
	}

	a := app.NewContext(cfg, logger.NewWithWriter(io.Discard, logger.LevelDebug))
	if withStore {
		s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
		if err != nil {
			t.Fatalf("NewSQLiteStore: %v", err)
		}
		a.Store = s
		a.Controller.SetRecorder(s)
	}
	t.Cleanup(func() { a.Close() })

	e := echo.New()
	RegisterRoutes(e, a)
	return e, a
}

func do(t *testing.T, e *echo.Echo, method, target, body string, out any) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func waitFinished(t *testing.T, a *app.Context) domain.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := a.Controller.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return snap
}

func TestRunLifecycle(t *testing.T) {
	server := newContentServer(t)
	e, a := newTestApp(t, true)

	var idle domain.Snapshot
	if code := do(t, e, http.MethodGet, "/api/run", "", &idle); code != http.StatusOK || idle.Status != domain.StatusIdle {
		t.Fatalf("GET /api/run = %d %+v", code, idle)
	}

	var started controllers.StartResponse
	body := fmt.Sprintf(`{"manifest": %q}`, server.URL+"/manifest.xml")
	if code := do(t, e, http.MethodPost, "/api/run", body, &started); code != http.StatusAccepted {
		t.Fatalf("POST /api/run = %d", code)
	}
	if started.RunID == "" || started.Total != 2 {
		t.Fatalf("start response = %+v", started)
	}

	snap := waitFinished(t, a)
	if snap.Status != domain.StatusCompleted || snap.Completed != 2 {
		t.Fatalf("run = %+v", snap)
	}

	var status domain.Snapshot
	do(t, e, http.MethodGet, "/api/run", "", &status)
	if status.RunID != started.RunID || status.Status != domain.StatusCompleted {
		t.Errorf("GET /api/run = %+v", status)
	}

	var outcomes controllers.OutcomesResponse
	do(t, e, http.MethodGet, "/api/run/outcomes", "", &outcomes)
	if len(outcomes.Outcomes) != 2 || outcomes.Outcomes[0].Index != 0 || outcomes.Outcomes[1].Kind != domain.OutcomeSuccess {
		t.Errorf("outcomes = %+v", outcomes)
	}

	var runs controllers.RunsResponse
	if code := do(t, e, http.MethodGet, "/api/runs?limit=5", "", &runs); code != http.StatusOK || len(runs.Runs) != 1 {
		t.Fatalf("GET /api/runs = %d %+v", code, runs)
	}

	var run domain.RunRecord
	if code := do(t, e, http.MethodGet, "/api/runs/"+started.RunID, "", &run); code != http.StatusOK {
		t.Fatalf("GET /api/runs/:id = %d", code)
	}
	if run.RunID != started.RunID || len(run.Outcomes) != 2 {
		t.Errorf("run record = %+v", run)
	}

	var audit controllers.AuditResponse
	target := "/api/audit?manifest=" + server.URL + "/manifest.xml"
	if code := do(t, e, http.MethodGet, target, "", &audit); code != http.StatusOK {
		t.Fatalf("GET /api/audit = %d", code)
	}
	for _, r := range audit.Results {
		if r.Status != engine.AuditOK {
			t.Errorf("audit result %+v", r)
		}
	}
}

func TestStartPausedThenStop(t *testing.T) {
	server := newContentServer(t)
	e, a := newTestApp(t, false)

	body := fmt.Sprintf(`{"manifest": %q, "paused": true}`, server.URL+"/manifest.xml")
	if code := do(t, e, http.MethodPost, "/api/run", body, nil); code != http.StatusAccepted {
		t.Fatalf("POST /api/run = %d", code)
	}

	var snap domain.Snapshot
	do(t, e, http.MethodPost, "/api/run/pause", "", &snap)
	if !snap.Paused {
		t.Errorf("pause snapshot = %+v", snap)
	}

	if code := do(t, e, http.MethodPost, "/api/run", body, nil); code != http.StatusConflict {
		t.Errorf("second POST /api/run = %d, want 409", code)
	}

	// The conflict is reported before the manifest is fetched
	missing := fmt.Sprintf(`{"manifest": %q}`, server.URL+"/nope.xml")
	if code := do(t, e, http.MethodPost, "/api/run", missing, nil); code != http.StatusConflict {
		t.Errorf("POST /api/run with unloadable manifest during a run = %d, want 409", code)
	}

	if code := do(t, e, http.MethodPost, "/api/run/stop", "", nil); code != http.StatusAccepted {
		t.Errorf("POST /api/run/stop = %d", code)
	}
	if final := waitFinished(t, a); final.Status != domain.StatusStopped {
		t.Errorf("status = %s, want stopped", final.Status)
	}
}

func TestResumeCompletesRun(t *testing.T) {
	server := newContentServer(t)
	e, a := newTestApp(t, false)

	body := fmt.Sprintf(`{"manifest": %q, "paused": true}`, server.URL+"/manifest.xml")
	do(t, e, http.MethodPost, "/api/run", body, nil)

	var snap domain.Snapshot
	do(t, e, http.MethodPost, "/api/run/resume", "", &snap)
	if snap.Paused {
		t.Errorf("resume snapshot still paused")
	}
	if final := waitFinished(t, a); final.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", final.Status)
	}
}

func TestStartErrors(t *testing.T) {
	server := newContentServer(t)
	e, _ := newTestApp(t, false)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "bad json", body: `{"manifest":`, want: http.StatusBadRequest},
		{name: "missing manifest", body: fmt.Sprintf(`{"manifest": %q}`, server.URL+"/nope.xml"), want: http.StatusUnprocessableEntity},
		{name: "bad out dir", body: fmt.Sprintf(`{"manifest": %q, "out_dir": "/dev/null/x"}`, server.URL+"/manifest.xml"), want: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp controllers.ErrorResponse
			if code := do(t, e, http.MethodPost, "/api/run", tt.body, &resp); code != tt.want {
				t.Errorf("code = %d, want %d (%s)", code, tt.want, resp.Error)
			}
			if resp.Error == "" {
				t.Error("error response has no message")
			}
		})
	}
}

func TestHistoryEndpoints(t *testing.T) {
	e, _ := newTestApp(t, true)

	var resp controllers.ErrorResponse
	if code := do(t, e, http.MethodGet, "/api/runs/unknown", "", &resp); code != http.StatusNotFound {
		t.Errorf("GET unknown run = %d", code)
	}
	if code := do(t, e, http.MethodGet, "/api/runs?limit=abc", "", &resp); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", code)
	}

	var runs controllers.RunsResponse
	if code := do(t, e, http.MethodGet, "/api/runs", "", &runs); code != http.StatusOK || runs.Runs == nil {
		t.Errorf("empty history = %d %+v", code, runs)
	}
}

func TestHistoryDisabled(t *testing.T) {
	e, _ := newTestApp(t, false)

	if code := do(t, e, http.MethodGet, "/api/runs", "", nil); code != http.StatusServiceUnavailable {
		t.Errorf("GET /api/runs = %d, want 503", code)
	}
	if code := do(t, e, http.MethodGet, "/api/runs/x", "", nil); code != http.StatusServiceUnavailable {
		t.Errorf("GET /api/runs/x = %d, want 503", code)
	}
}
