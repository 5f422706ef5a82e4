package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/promptloop/internal/config"
	"github.com/fyrsmithlabs/promptloop/internal/loop"
	"github.com/fyrsmithlabs/promptloop/internal/server"
)

// fakeLoopService records calls and returns canned responses.
type fakeLoopService struct {
	startInput *loop.LoopInput
	startErr   error

	signalLoopID string
	signalKind   loop.CommandKind
	signalErr    error

	state     *loop.LoopState
	statusErr error
}

func (f *fakeLoopService) Start(_ context.Context, input loop.LoopInput) (*loop.Handle, error) {
	f.startInput = &input
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &loop.Handle{LoopID: "improvement-loop-support-triage-abc", RunID: "run-1"}, nil
}

func (f *fakeLoopService) Signal(_ context.Context, loopID string, kind loop.CommandKind) error {
	f.signalLoopID = loopID
	f.signalKind = kind
	return f.signalErr
}

func (f *fakeLoopService) Status(_ context.Context, loopID string) (*loop.LoopState, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.state, nil
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:            "localhost",
		Port:            8420,
		RateLimit:       100,
		Burst:           200,
		ShutdownTimeout: config.Duration(time.Second),
	}
}

func loopDefaults() config.LoopConfig {
	return config.LoopConfig{MaxIterations: 3, ImprovementThreshold: 0.02, QualityFloor: 0.7}
}

func newTestServer(t *testing.T, svc *fakeLoopService) http.Handler {
	t.Helper()
	srv, err := server.New(svc, serverConfig(), loopDefaults(), nil)
	require.NoError(t, err)
	return srv.Handler()
}

func TestNewRequiresService(t *testing.T) {
	_, err := server.New(nil, serverConfig(), loopDefaults(), nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeLoopService{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStartLoop(t *testing.T) {
	svc := &fakeLoopService{}
	h := newTestServer(t, svc)

	body := `{"projectId":"acme","promptId":"support-triage","signalTypes":["thumbs_down"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/loops", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp server.StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "improvement-loop-support-triage-abc", resp.LoopID)
	assert.Equal(t, "run-1", resp.RunID)

	// Unset knobs picked up the configured defaults.
	require.NotNil(t, svc.startInput)
	assert.Equal(t, 3, svc.startInput.MaxIterations)
	assert.Equal(t, 0.02, svc.startInput.ImprovementThreshold)
	assert.Equal(t, 0.7, svc.startInput.QualityFloor)
}

func TestStartLoopExplicitKnobsKept(t *testing.T) {
	svc := &fakeLoopService{}
	h := newTestServer(t, svc)

	body := `{"projectId":"acme","promptId":"p","maxIterations":5,"improvementThreshold":0.1,"qualityFloor":0.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/loops", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 5, svc.startInput.MaxIterations)
	assert.Equal(t, 0.1, svc.startInput.ImprovementThreshold)
	assert.Equal(t, 0.5, svc.startInput.QualityFloor)
}

func TestStartLoopMissingIDs(t *testing.T) {
	h := newTestServer(t, &fakeLoopService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/loops", strings.NewReader(`{"projectId":"acme"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartLoopServiceError(t *testing.T) {
	svc := &fakeLoopService{startErr: errors.New("temporal unavailable")}
	h := newTestServer(t, svc)

	body := `{"projectId":"acme","promptId":"p"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/loops", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSignalLoop(t *testing.T) {
	svc := &fakeLoopService{}
	h := newTestServer(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/loops/loop-1/signals/pause", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "loop-1", svc.signalLoopID)
	assert.Equal(t, loop.CommandPause, svc.signalKind)
}

func TestSignalLoopUnknownKind(t *testing.T) {
	svc := &fakeLoopService{}
	h := newTestServer(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/loops/loop-1/signals/restart", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.signalLoopID)
}

func TestSignalLoopDeliveryFailure(t *testing.T) {
	svc := &fakeLoopService{signalErr: errors.New("workflow not found")}
	h := newTestServer(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/loops/loop-1/signals/abort", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestLoopStatus(t *testing.T) {
	baseline := 0.9
	svc := &fakeLoopService{state: &loop.LoopState{
		LoopID:           "loop-1",
		CurrentIteration: 2,
		MaxIterations:    3,
		Stage:            loop.StageEvaluating,
		BaselineScore:    &baseline,
		PendingApproval:  true,
	}}
	h := newTestServer(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/loops/loop-1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var state loop.LoopState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "loop-1", state.LoopID)
	assert.Equal(t, 2, state.CurrentIteration)
	assert.Equal(t, loop.StageEvaluating, state.Stage)
	assert.True(t, state.PendingApproval)
	require.NotNil(t, state.BaselineScore)
	assert.Equal(t, 0.9, *state.BaselineScore)
}

func TestLoopStatusNotFound(t *testing.T) {
	svc := &fakeLoopService{statusErr: errors.New("no such workflow")}
	h := newTestServer(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/loops/loop-1/status", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := serverConfig()
	cfg.RateLimit = 1
	cfg.Burst = 2
	srv, err := server.New(&fakeLoopService{}, cfg, loopDefaults(), nil)
	require.NoError(t, err)
	h := srv.Handler()

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}
