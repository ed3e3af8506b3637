package server_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/octue/twined-server/internal/clock"
	"github.com/octue/twined-server/internal/config"
	obsmetrics "github.com/octue/twined-server/internal/observability/metrics"
	questiondomain "github.com/octue/twined-server/internal/question/domain"
	questionservice "github.com/octue/twined-server/internal/question/service"
	"github.com/octue/twined-server/internal/server"
	srdomain "github.com/octue/twined-server/internal/servicerevision/domain"
	srservice "github.com/octue/twined-server/internal/servicerevision/service"
	usagedomain "github.com/octue/twined-server/internal/serviceusage/domain"
	"github.com/octue/twined-server/internal/serviceusage/notify"
	usageservice "github.com/octue/twined-server/internal/serviceusage/service"
	transportdomain "github.com/octue/twined-server/internal/transport/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Ask(ctx context.Context, req transportdomain.AskRequest) (transportdomain.Subscription, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(transportdomain.Subscription), args.Error(1)
}

type testServer struct {
	engine    *gin.Engine
	db        *gorm.DB
	transport *mockTransport
	registry  srdomain.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)

	err = db.AutoMigrate(
		&srdomain.ServiceRevision{},
		&questiondomain.Question{},
		&usagedomain.ServiceUsageEvent{},
	)
	assert.NoError(t, err)

	node, err := snowflake.NewNode(1)
	assert.NoError(t, err)

	cfg := config.Config{
		DefaultNamespace: "octue",
		DefaultTag:       "latest",
		BaseURL:          "http://callbacks.local",
		AskerName:        "twined",
		AskTimeout:       time.Minute,
		HTTPAddr:         ":0",
	}

	transport := &mockTransport{}
	registry := srservice.NewService(srservice.ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Cfg:       cfg,
		Transport: transport,
	})

	questions := questionservice.NewService(questionservice.ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clock.NewSystemClock(),
		Types:    questiondomain.NewTypeRegistry(),
		Registry: registry,
	})

	usage := usageservice.NewService(usageservice.ServiceParam{
		DB:  db,
		Log: zap.NewNop(),
		Hub: notify.NewHub(),
	})

	promRegistry := prometheus.NewRegistry()
	metrics := obsmetrics.New(promRegistry)

	engine := server.NewEngine(metrics)
	srv := server.NewServer(server.ServerParam{
		Engine:       engine,
		Cfg:          cfg,
		Log:          zap.NewNop(),
		Registry:     registry,
		Questions:    questions,
		Ingestor:     usage,
		Views:        usage,
		PromRegistry: promRegistry,
	})
	srv.RegisterRoutes()

	return &testServer{
		engine:    engine,
		db:        db,
		transport: transport,
		registry:  registry,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		assert.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRegisterAndGetServiceRevision(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/services/octue/new-service", gin.H{"revision_tag": "3.9.9"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Body.String())

	// Without a tag the latest semantic version answers when no default is
	// flagged.
	rec = ts.request(t, http.MethodGet, "/services/octue/new-service", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "octue", body["namespace"])
	assert.Equal(t, "new-service", body["name"])
	assert.Equal(t, "3.9.9", body["revision_tag"])

	rec = ts.request(t, http.MethodGet, "/services/octue/new-service/3.9.9", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/services/octue/new-service/0.0.1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetServiceRevisionPrefersDefault(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/services/octue/new-service", gin.H{"revision_tag": "1.0.0", "is_default": true})
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = ts.request(t, http.MethodPost, "/services/octue/new-service", gin.H{"revision_tag": "2.0.0"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(t, http.MethodGet, "/services/octue/new-service", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "1.0.0", body["revision_tag"])
	assert.Equal(t, true, body["is_default"])
}

func TestGetServiceRevisionNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/services/octue/ghost-service", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeJSON(t, rec)
	errBody, ok := body["error"].(map[string]any)
	if assert.True(t, ok) {
		assert.Equal(t, "not_found", errBody["type"])
	}
}

func TestRegisterServiceRevisionValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/services/octue/new-service", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodPost, "/services/octue/new-service", gin.H{"revision_tag": "1.0.0"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(t, http.MethodPost, "/services/octue/new-service", gin.H{"revision_tag": "1.0.0"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQuestionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/services/octue/example-service", gin.H{"revision_tag": "1.0.0"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	revision, err := ts.registry.Get(context.Background(), "octue", "example-service", "1.0.0")
	assert.NoError(t, err)

	rec = ts.request(t, http.MethodPost, "/questions", gin.H{
		"service_revision_id": revision.ID.String(),
		"input_values":        gin.H{"height": 3},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	questionID, _ := decodeJSON(t, rec)["id"].(string)
	assert.NotEmpty(t, questionID)

	ts.transport.On("Ask", mock.Anything, mock.Anything).
		Return(transportdomain.Subscription{ID: "sub-1"}, nil).Once()

	rec = ts.request(t, http.MethodPost, "/questions/"+questionID+"/ask", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, "octue/example-service:1.0.0", body["sruid"])
	assert.Contains(t, body["push_url"], questionID)

	rec = ts.request(t, http.MethodPost, "/questions/"+questionID+"/ask", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.request(t, http.MethodGet, "/questions/"+questionID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ts.transport.AssertExpectations(t)
}

func TestAskWithoutRevisionReturnsBadRequest(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/questions", gin.H{})
	assert.Equal(t, http.StatusCreated, rec.Code)
	questionID, _ := decodeJSON(t, rec)["id"].(string)

	rec = ts.request(t, http.MethodPost, "/questions/"+questionID+"/ask", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func pushBody(t *testing.T, payload map[string]any, publishTime time.Time, messageID string) gin.H {
	t.Helper()
	raw, err := json.Marshal(payload)
	assert.NoError(t, err)
	return gin.H{
		"message": gin.H{
			"data":        base64.StdEncoding.EncodeToString(raw),
			"messageId":   messageID,
			"publishTime": publishTime.Format(time.RFC3339Nano),
		},
		"subscription": "octue.services.octue.example-service.answers",
	}
}

func TestReceiveEventRecordsAndProjects(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/services/octue/example-service", gin.H{"revision_tag": "1.0.0"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	revision, err := ts.registry.Get(context.Background(), "octue", "example-service", "1.0.0")
	assert.NoError(t, err)

	rec = ts.request(t, http.MethodPost, "/questions", gin.H{"service_revision_id": revision.ID.String()})
	assert.Equal(t, http.StatusCreated, rec.Code)
	questionID, _ := decodeJSON(t, rec)["id"].(string)

	path := fmt.Sprintf("/events/q-response-updated/%s?srid=%s&sruid=%s",
		questionID, revision.ID.String(), "octue%2Fexample-service%3A1.0.0")
	publishTime := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	rec = ts.request(t, http.MethodPost, path,
		pushBody(t, map[string]any{"kind": "log_record", "log_record": gin.H{"msg": "hello"}}, publishTime, "m-1"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(t, http.MethodPost, path,
		pushBody(t, map[string]any{"kind": "result", "output_values": gin.H{"ok": true}}, publishTime.Add(time.Minute), "m-2"))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(t, http.MethodGet, "/questions/"+questionID+"/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, float64(2), body["total"])

	rec = ts.request(t, http.MethodGet, "/questions/"+questionID+"/events?kind=log_record", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body = decodeJSON(t, rec)
	assert.Equal(t, float64(1), body["total"])

	// The question detail now carries the result projection.
	rec = ts.request(t, http.MethodGet, "/questions/"+questionID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body = decodeJSON(t, rec)
	assert.Equal(t, float64(2), body["event_count"])
	assert.Contains(t, body, "result")
}

func TestReceiveEventIgnoresForeignKinds(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/services/octue/example-service", gin.H{"revision_tag": "1.0.0"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	revision, err := ts.registry.Get(context.Background(), "octue", "example-service", "1.0.0")
	assert.NoError(t, err)

	rec = ts.request(t, http.MethodPost, "/questions", gin.H{"service_revision_id": revision.ID.String()})
	questionID, _ := decodeJSON(t, rec)["id"].(string)

	path := fmt.Sprintf("/events/billing-updated/%s?srid=%s", questionID, revision.ID.String())
	rec = ts.request(t, http.MethodPost, path,
		pushBody(t, map[string]any{"kind": "result"}, time.Now(), "m-1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	var count int64
	assert.NoError(t, ts.db.Model(&usagedomain.ServiceUsageEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReceiveEventRejectsBadEnvelope(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/events/q-response-updated/not-a-uuid?srid=1", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	questionID := "8e56bd40-68c8-48f9-a567-2f5f4b1a9a1c"
	rec = ts.request(t, http.MethodPost, "/events/q-response-updated/"+questionID, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodPost, "/events/q-response-updated/"+questionID+"?srid=12345",
		gin.H{"message": gin.H{"data": "!!not-base64!!"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDuplicateQuestionOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/services/octue/example-service", gin.H{"revision_tag": "1.0.0"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	revision, err := ts.registry.Get(context.Background(), "octue", "example-service", "1.0.0")
	assert.NoError(t, err)

	rec = ts.request(t, http.MethodPost, "/questions", gin.H{
		"service_revision_id": revision.ID.String(),
		"input_values":        gin.H{"height": 3},
	})
	questionID, _ := decodeJSON(t, rec)["id"].(string)

	rec = ts.request(t, http.MethodPost, "/questions/"+questionID+"/duplicate", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeJSON(t, rec)
	assert.NotEqual(t, questionID, body["id"])
	assert.Equal(t, revision.ID.String(), body["service_revision_id"])
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
