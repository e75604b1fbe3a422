package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avsync/internal/config"
	"avsync/internal/history"
	"avsync/internal/httpapi"
	"avsync/internal/iteration"
	"avsync/internal/logging"
	"avsync/internal/notifications"
	"avsync/internal/services"
	"avsync/internal/testsupport"
	"avsync/internal/workflow"
)

type stubProcessor struct {
	mu      sync.Mutex
	outcome workflow.Outcome
	inputs  []string
	names   []string
	// contents captures the upload as seen during processing.
	contents []string
	onRun    func(ctx context.Context)
}

func (p *stubProcessor) Process(ctx context.Context, inputPath, name string) workflow.Outcome {
	data, _ := os.ReadFile(inputPath)
	p.mu.Lock()
	p.inputs = append(p.inputs, inputPath)
	p.names = append(p.names, name)
	p.contents = append(p.contents, string(data))
	p.mu.Unlock()
	if p.onRun != nil {
		p.onRun(ctx)
	}
	return p.outcome
}

func (p *stubProcessor) Status() workflow.Snapshot {
	return workflow.Snapshot{Limit: 2, Completed: len(p.inputs)}
}

func newServer(t *testing.T, cfg *config.Config, proc httpapi.Processor, hist httpapi.HistoryReader, logs *logging.StreamHub) (*httpapi.Server, *notifications.Hub) {
	t.Helper()
	hub := notifications.NewHub(nil)
	srv, err := httpapi.New(httpapi.Options{
		Config:    cfg,
		Processor: proc,
		History:   hist,
		Hub:       hub,
		Logs:      logs,
	})
	require.NoError(t, err)
	return srv, hub
}

func uploadRequest(t *testing.T, field, filename, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/process", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestProcessReturnsDownloadURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	proc := &stubProcessor{outcome: workflow.Outcome{
		Status:       workflow.StatusCorrected,
		OutputPath:   filepath.Join(cfg.Paths.FinalOutputDir, "corrected_my clip.mp4"),
		TotalShiftMS: -120,
	}}
	srv, _ := newServer(t, cfg, proc, nil, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, uploadRequest(t, "file", "my clip.mp4", "video-bytes"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp httpapi.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "corrected_my clip.mp4", resp.Filename)
	assert.Equal(t, "/download/corrected_my%20clip.mp4", resp.URL)
	assert.Equal(t, -120, resp.TotalShiftMS)

	require.Len(t, proc.inputs, 1)
	assert.Equal(t, "my clip.mp4", proc.names[0])
	assert.Equal(t, ".mp4", filepath.Ext(proc.inputs[0]))
	assert.Equal(t, cfg.Paths.UploadDir, filepath.Dir(proc.inputs[0]))
	assert.Equal(t, "video-bytes", proc.contents[0])
	assert.NoFileExists(t, proc.inputs[0], "upload should be removed after processing")
}

func TestProcessPropagatesRequestID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var got string
	proc := &stubProcessor{
		outcome: workflow.AlreadyInSync(filepath.Join(cfg.Paths.FinalOutputDir, "corrected_a.avi")),
		onRun: func(ctx context.Context) {
			got, _ = services.RequestIDFromContext(ctx)
		},
	}
	srv, _ := newServer(t, cfg, proc, nil, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, uploadRequest(t, "file", "a.avi", "x"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, got)
}

func TestProcessMapsFailuresToStatusCodes(t *testing.T) {
	offset := 80
	tests := []struct {
		name    string
		outcome workflow.Outcome
		status  int
	}{
		{"no audio", workflow.Outcome{Status: workflow.StatusError, Kind: services.KindNoAudioStream, Message: "No audio stream found in the video."}, http.StatusUnprocessableEntity},
		{"fps", workflow.Outcome{Status: workflow.StatusError, Kind: services.KindFPSUnavailable}, http.StatusUnprocessableEntity},
		{"verification", workflow.Outcome{Status: workflow.StatusError, Kind: services.KindVerificationFailed, FinalOffsetMS: &offset}, http.StatusUnprocessableEntity},
		{"pipeline", workflow.Outcome{Status: workflow.StatusError, Kind: services.KindPipelineFailure}, http.StatusInternalServerError},
		{"generic", workflow.Outcome{Status: workflow.StatusError, Kind: services.KindGeneric}, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			srv, _ := newServer(t, cfg, &stubProcessor{outcome: tc.outcome}, nil, nil)

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, uploadRequest(t, "file", "clip.avi", "x"))
			require.Equal(t, tc.status, w.Code)

			var resp httpapi.ProcessError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.outcome.Kind, resp.Kind)
			assert.Equal(t, workflow.StatusError, resp.Status)
			if tc.outcome.FinalOffsetMS != nil {
				require.NotNil(t, resp.FinalOffsetMS)
				assert.Equal(t, 80, *resp.FinalOffsetMS)
			}
		})
	}
}

func TestProcessRejectsMissingFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	proc := &stubProcessor{}
	srv, _ := newServer(t, cfg, proc, nil, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, uploadRequest(t, "video", "clip.avi", "x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, proc.inputs)
}

func TestProcessRejectsOversizedUpload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.MaxUploadMB = 1
	proc := &stubProcessor{}
	srv, _ := newServer(t, cfg, proc, nil, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, uploadRequest(t, "file", "clip.avi", strings.Repeat("x", 2<<20)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, proc.inputs)
}

func TestDownloadServesFinalOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, _ := newServer(t, cfg, &stubProcessor{}, nil, nil)
	path := filepath.Join(cfg.Paths.FinalOutputDir, "corrected_clip.avi")
	require.NoError(t, os.MkdirAll(cfg.Paths.FinalOutputDir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte("synced"), 0o644))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/download/corrected_clip.avi", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "synced", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "corrected_clip.avi")

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/download/missing.avi", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadRejectsTraversal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, _ := newServer(t, cfg, &stubProcessor{}, nil, nil)
	secret := filepath.Join(testsupport.BaseDir(cfg), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("nope"), 0o644))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/download/..%2Fsecret.txt", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "nope")
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	srv, _ := newServer(t, cfg, &stubProcessor{}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/process", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIRequiresBearerToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.APIToken = "s3cret"
	srv, _ := newServer(t, cfg, &stubProcessor{}, nil, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp httpapi.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Workflow.Limit)
}

func TestSessionEndpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()
	sess, err := store.Begin(ctx, "req-1", "clip.avi", "/uploads/x.avi")
	require.NoError(t, err)
	require.NoError(t, store.AddIteration(ctx, sess.ID, iteration.Record{
		Iteration: 1, Reference: 3, OffsetMS: 120, Confidence: 7.5, TotalShiftMS: 120, State: iteration.StateShifting,
	}))
	require.NoError(t, store.Complete(ctx, sess.ID, history.Completion{Status: history.StatusCorrected, TotalShiftMS: 120, Iterations: 2}))

	srv, _ := newServer(t, cfg, &stubProcessor{}, store, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions?status=corrected", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list httpapi.SessionListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "clip.avi", list.Sessions[0].OriginalFilename)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/"+strconv.FormatInt(sess.ID, 10), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var detail httpapi.SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, history.StatusCorrected, detail.Session.Status)
	require.Len(t, detail.Iterations, 1)
	assert.Equal(t, 120, detail.Iterations[0].OffsetMS)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/999", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogsEndpointFiltersEvents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	logs := logging.NewStreamHub(16)
	logs.Publish(logging.LogEvent{Message: "one", Component: "iteration", Reference: 3})
	logs.Publish(logging.LogEvent{Message: "two", Component: "ffmpeg", Reference: 3})
	logs.Publish(logging.LogEvent{Message: "three", Component: "iteration", Reference: 4})
	srv, _ := newServer(t, cfg, &stubProcessor{}, nil, logs)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/logs?component=iteration&reference=3", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp httpapi.LogStreamResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "one", resp.Events[0].Message)
	assert.Equal(t, uint64(3), resp.Next)
}

func TestWebsocketEchoesAndReceivesBroadcasts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, hub := newServer(t, cfg, &stubProcessor{}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Echo: hello", string(msg))

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast("Pass number 1 in progress...")
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "Pass number 1 in progress...", string(msg))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}
	srv, _ := newServer(t, cfg, &stubProcessor{}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStartServesOnEphemeralPort(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	srv, _ := newServer(t, cfg, &stubProcessor{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()
	resp, err := http.Get("http://" + srv.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
