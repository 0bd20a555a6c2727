package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/render"
	"github.com/cuemby/burrow/pkg/types"
)

type nopExecutor struct{}

func (nopExecutor) Run(ctx context.Context, art *types.Artifact, timeout time.Duration) *executor.Result {
	return &executor.Result{Step: -1}
}

func (nopExecutor) Verify(ctx context.Context, art *types.Artifact) ([]string, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()
	dir := t.TempDir()
	mgr, err := manager.NewManager(&manager.Config{
		DataDir: filepath.Join(dir, "data"),
		Render: render.Config{
			ZoneDir:        filepath.Join(dir, "zones"),
			VHostDir:       filepath.Join(dir, "sites"),
			CertTool:       render.CertToolCertbot,
			CertbotPath:    "certbot",
			CertLiveDir:    filepath.Join(dir, "live"),
			DefaultWebroot: filepath.Join(dir, "www"),
			StackDir:       filepath.Join(dir, "stacks"),
			DockerPath:     "docker",
		},
	}, manager.WithExecutor(nopExecutor{}))
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Shutdown() })
	return NewServer(mgr), mgr
}

func do(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func reconcile(t *testing.T, mgr *manager.Manager) {
	t.Helper()
	_, err := mgr.Reconciler().RunOnce(context.Background())
	require.NoError(t, err)
}

func TestSubmitAndQuery(t *testing.T) {
	s, mgr := newTestServer(t)

	w := do(t, s, http.MethodPost, "/v1/resources/cron_job/alice-backup",
		`{"user":"alice","schedule":"*/5 * * * *","command":"/usr/bin/php backup.php"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var submitted SubmitResponse
	decode(t, w, &submitted)
	assert.Nil(t, submitted.Error)
	assert.Equal(t, types.StatusPending, submitted.Record.Status)
	assert.Equal(t, int64(1), submitted.Record.DesiredRevision)

	reconcile(t, mgr)

	w = do(t, s, http.MethodGet, "/v1/resources/cron_job/alice-backup", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec types.ResourceRecord
	decode(t, w, &rec)
	assert.Equal(t, types.StatusApplied, rec.Status)
	assert.Equal(t, submitted.Record.ID, rec.ID)

	w = do(t, s, http.MethodGet, "/v1/records/"+rec.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitErrors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
		wantRecord bool
	}{
		{
			name:       "invalid schedule is stored as failed",
			path:       "/v1/resources/cron_job/alice-bad",
			body:       `{"user":"alice","schedule":"* * *","command":"true"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation",
			wantRecord: true,
		},
		{
			name:       "unknown kind",
			path:       "/v1/resources/mailbox/a",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "unsupported",
		},
		{
			name:       "malformed body",
			path:       "/v1/resources/vhost/example.com",
			body:       `{"docroot":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			var body struct {
				Record *types.ResourceRecord `json:"record"`
				Error  struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			decode(t, w, &body)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			if tt.wantRecord {
				require.NotNil(t, body.Record)
				assert.Equal(t, types.StatusFailed, body.Record.Status)
			} else {
				assert.Nil(t, body.Record)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/resources/vhost/missing.example.com"},
		{http.MethodDelete, "/v1/resources/vhost/missing.example.com"},
		{http.MethodPost, "/v1/resources/vhost/missing.example.com/retry"},
		{http.MethodGet, "/v1/resources/vhost/missing.example.com/history"},
		{http.MethodGet, "/v1/records/does-not-exist"},
	} {
		w := do(t, s, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRemoveAndHistory(t *testing.T) {
	s, mgr := newTestServer(t)

	w := do(t, s, http.MethodPut, "/v1/resources/ssl_cert/example.com", `{"email":"admin@example.com"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var submitted SubmitResponse
	decode(t, w, &submitted)
	reconcile(t, mgr)

	w = do(t, s, http.MethodDelete, "/v1/resources/ssl_cert/example.com", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var removed types.ResourceRecord
	decode(t, w, &removed)
	assert.Equal(t, types.StatusDeleted, removed.Status)

	reconcile(t, mgr)

	w = do(t, s, http.MethodGet, "/v1/resources/ssl_cert/example.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/v1/records/"+submitted.Record.ID+"/history?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var attempts []*types.Attempt
	decode(t, w, &attempts)
	require.Len(t, attempts, 1)
	assert.Equal(t, types.ActionTeardown, attempts[0].Action)

	w = do(t, s, http.MethodGet, "/v1/records/"+submitted.Record.ID+"/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	decode(t, w, &resp)
	assert.Equal(t, "validation", resp.Error.Code)
	assert.Equal(t, "Query parameter is not valid", resp.Error.Message)
	assert.Contains(t, resp.Error.Cause, `"x"`)
}

func TestListResources(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/v1/resources", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	do(t, s, http.MethodPost, "/v1/resources/vhost/example.com", `{"docroot":"/var/www/example"}`)
	do(t, s, http.MethodPost, "/v1/resources/ssl_cert/example.com", `{"email":"admin@example.com"}`)

	w = do(t, s, http.MethodGet, "/v1/resources?kind=vhost", "")
	require.Equal(t, http.StatusOK, w.Code)
	var records []*types.ResourceRecord
	decode(t, w, &records)
	require.Len(t, records, 1)
	assert.Equal(t, types.KindVHost, records[0].Kind)

	w = do(t, s, http.MethodGet, "/v1/resources?kind=mailbox", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventStream(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events?kind=vhost", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	do(t, s, http.MethodPost, "/v1/resources/ssl_cert/example.com", `{"email":"admin@example.com"}`)
	do(t, s, http.MethodPost, "/v1/resources/vhost/example.com", `{"docroot":"/var/www/example"}`)

	lines := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		if scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	select {
	case line := <-lines:
		var event events.Event
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		assert.Equal(t, events.EventRecordSubmitted, event.Type)
		assert.Equal(t, "vhost", event.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(t, s, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")

	w = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "burrow_api_requests_total")

	w = do(t, s, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatusFor(t *testing.T) {
	w := httptest.NewRecorder()
	s := &Server{logger: zerolog.Nop()}
	s.error(w, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"store"`)
}
