package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voxen-labs/voxen/internal/models"
	"github.com/voxen-labs/voxen/internal/store"
	"github.com/voxen-labs/voxen/pkg/events"
	"github.com/voxen-labs/voxen/pkg/executor"
	"github.com/voxen-labs/voxen/pkg/governor"
	"github.com/voxen-labs/voxen/pkg/lifecycle"
	"github.com/voxen-labs/voxen/pkg/response"
	"github.com/voxen-labs/voxen/pkg/signaling"
	"github.com/voxen-labs/voxen/pkg/telephony"
)

type stubTelephony struct {
	mu     sync.Mutex
	placed int
}

func (s *stubTelephony) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed++
	return fmt.Sprintf("PV-%d", s.placed), nil
}

func (s *stubTelephony) TerminateCall(ctx context.Context, providerRef string) error {
	return nil
}

type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	store  store.Store
	agent  *models.Agent
}

func newTestEnv(t *testing.T, maxConcurrent int) *testEnv {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Call{}, &models.TranscriptFragment{},
		&models.UserCredential{}, &models.Agent{},
	))

	agent := &models.Agent{UserID: 7, Name: "sales", FromNumber: "+15550002222", Enabled: true}
	require.NoError(t, db.Create(agent).Error)

	st := store.NewGormStore(db)
	gov := governor.New(governor.Config{
		RateLimit:          1000,
		RateWindow:         time.Minute,
		MaxConcurrentCalls: maxConcurrent,
	}, zap.NewNop())
	machine := lifecycle.NewMachine(st, gov, executor.New(zap.NewNop()), &stubTelephony{},
		events.NewBus(zap.NewNop()), zap.NewNop())

	h := NewHandlers(db, st, machine, signaling.NewHub(signaling.Config{}, zap.NewNop()), nil, zap.NewNop())
	router := gin.New()
	h.Register(router)

	return &testEnv{router: router, db: db, store: st, agent: agent}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, response.Body) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var parsed response.Body
	if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
		parsed = response.Body{}
	}
	return w, parsed
}

func (e *testEnv) initiate(t *testing.T) *models.Call {
	w, body := e.request(t, http.MethodPost, "/api/calls", InitiateCallRequest{
		UserID:   7,
		AgentID:  e.agent.ID,
		ToNumber: "+15550001111",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, body.Code)

	raw, err := json.Marshal(body.Data)
	require.NoError(t, err)
	var call models.Call
	require.NoError(t, json.Unmarshal(raw, &call))
	require.NotNil(t, call.ExternalID)
	return &call
}

func TestInitiateCallUsesAgentFromNumber(t *testing.T) {
	e := newTestEnv(t, 5)
	call := e.initiate(t)

	assert.Equal(t, models.CallStatusInitiated, call.Status)
	assert.Equal(t, "+15550002222", call.FromNumber)
}

func TestInitiateCallMissingFields(t *testing.T) {
	e := newTestEnv(t, 5)

	w, body := e.request(t, http.MethodPost, "/api/calls", map[string]interface{}{"userId": 7})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, 0, body.Code)
}

func TestInitiateCallAdmissionRejectedMapsTo429(t *testing.T) {
	e := newTestEnv(t, 1)
	e.initiate(t)

	w, _ := e.request(t, http.MethodPost, "/api/calls", InitiateCallRequest{
		UserID:   7,
		AgentID:  e.agent.ID,
		ToNumber: "+15550003333",
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestGetCallNotFound(t *testing.T) {
	e := newTestEnv(t, 5)

	w, _ := e.request(t, http.MethodGet, "/api/calls/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndCallBeforeAcceptIs400(t *testing.T) {
	e := newTestEnv(t, 5)
	call := e.initiate(t)

	w, _ := e.request(t, http.MethodPost, "/api/calls/"+call.ID+"/end", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusWebhookDrivesLifecycle(t *testing.T) {
	e := newTestEnv(t, 5)
	call := e.initiate(t)

	for i, status := range []string{"ringing", "in-progress", "completed"} {
		w, body := e.request(t, http.MethodPost, "/api/webhooks/telephony/status", TelephonyStatusPayload{
			CallID:  *call.ExternalID,
			Status:  status,
			EventID: fmt.Sprintf("evt-%d", i),
		})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 0, body.Code)
	}

	stored, err := e.store.FindCall(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusCompleted, stored.Status)
}

func TestStatusWebhookDuplicateEventDeduped(t *testing.T) {
	e := newTestEnv(t, 5)
	call := e.initiate(t)

	payload := TelephonyStatusPayload{
		CallID:  *call.ExternalID,
		Status:  "ringing",
		EventID: "evt-1",
	}
	_, first := e.request(t, http.MethodPost, "/api/webhooks/telephony/status", payload)
	require.Equal(t, 0, first.Code)

	_, second := e.request(t, http.MethodPost, "/api/webhooks/telephony/status", payload)
	require.Equal(t, 0, second.Code)
	data := second.Data.(map[string]interface{})
	assert.Equal(t, true, data["deduped"])
}

func TestStatusWebhookUnknownStatusIgnored(t *testing.T) {
	e := newTestEnv(t, 5)
	call := e.initiate(t)

	_, body := e.request(t, http.MethodPost, "/api/webhooks/telephony/status", TelephonyStatusPayload{
		CallID: *call.ExternalID,
		Status: "warbling",
	})
	require.Equal(t, 0, body.Code)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, true, data["ignored"])

	stored, err := e.store.FindCall(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusInitiated, stored.Status)
}

func TestStatusWebhookUnknownRefIs404(t *testing.T) {
	e := newTestEnv(t, 5)

	w, _ := e.request(t, http.MethodPost, "/api/webhooks/telephony/status", TelephonyStatusPayload{
		CallID: "PV-unknown",
		Status: "ringing",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordingWebhookStoresURL(t *testing.T) {
	e := newTestEnv(t, 5)
	call := e.initiate(t)

	_, body := e.request(t, http.MethodPost, "/api/webhooks/telephony/recording", TelephonyRecordingPayload{
		CallID:       *call.ExternalID,
		RecordingURL: "https://recordings.example.com/PV-1.wav",
		EventID:      "rec-1",
	})
	require.Equal(t, 0, body.Code)

	stored, err := e.store.FindCall(context.Background(), call.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://recordings.example.com/PV-1.wav", stored.RecordingURL)
}

func TestGetTranscript(t *testing.T) {
	e := newTestEnv(t, 5)
	call := e.initiate(t)

	require.NoError(t, e.store.AppendTranscriptFragment(context.Background(), &models.TranscriptFragment{
		CallID: call.ID, OffsetSec: 0.5, Text: "hello", Final: true,
	}))

	_, body := e.request(t, http.MethodGet, "/api/calls/"+call.ID+"/transcript", nil)
	require.Equal(t, 0, body.Code)
	data := body.Data.(map[string]interface{})
	fragments := data["fragments"].([]interface{})
	assert.Len(t, fragments, 1)
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t, 5)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
