package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadgen-outreach-go/internal/config"
	"leadgen-outreach-go/internal/handler"
	"leadgen-outreach-go/internal/health"
	"leadgen-outreach-go/internal/mailer"
	"leadgen-outreach-go/internal/metrics"
	"leadgen-outreach-go/internal/model"
	"leadgen-outreach-go/internal/mxroute"
	"leadgen-outreach-go/internal/repository"
	"leadgen-outreach-go/internal/router"
	"leadgen-outreach-go/internal/schedule"
	"leadgen-outreach-go/internal/scheduler"
	"leadgen-outreach-go/internal/service"
)

type acceptTransport struct{}

func (acceptTransport) Send(_ context.Context, env mailer.Envelope) (mailer.Receipt, error) {
	return mailer.Receipt{MessageID: "<" + uuid.NewString() + "@test>", Response: "250 ok"}, nil
}

type mapResolver map[string][]string

func (r mapResolver) LookupMX(_ context.Context, domain string) ([]string, error) {
	hosts, ok := r[domain]
	if !ok {
		return nil, errors.New("no such host")
	}
	return hosts, nil
}

type testAPI struct {
	engine *gin.Engine
	store  *repository.MemoryStore
	sched  *scheduler.Scheduler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repository.NewMemoryStore()
	m := metrics.NewMetricsWith(prometheus.NewRegistry())

	planner, err := schedule.NewPlanner(config.ScheduleConfig{
		Timezone:      "UTC",
		WindowStart:   "00:00",
		WindowEnd:     "23:59",
		MinDelay:      time.Minute,
		MaxDelay:      2 * time.Minute,
		LookaheadDays: 7,
		Weekdays:      []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"},
	})
	require.NoError(t, err)

	resolver := mapResolver{"corp.example": {"mx.yandex.net"}, "acme.example": {"aspmx.l.google.com"}}
	classifier := mxroute.NewClassifier(config.RoutingConfig{
		Enabled:         true,
		MXCacheTTLHours: 1,
		DNSTimeoutMS:    500,
		RUMXPatterns:    []string{"mx.yandex.net"},
		ForceRUDomains:  []string{"mail.ru"},
	}, resolver, resolver, nil)

	mailRouter, err := mailer.NewRouter("gmail", map[string]string{"RU": "gmail"},
		&mailer.Channel{Name: "gmail", Transport: acceptTransport{}, From: &mail.Address{Address: "sales@example.com"}})
	require.NoError(t, err)

	executor := service.NewExecutor(store, store, classifier, mailRouter, m)
	sched := scheduler.NewScheduler(&config.SchedulerConfig{Interval: time.Hour, BatchSize: 10, ClaimLease: time.Minute}, store, executor, m)
	t.Cleanup(func() { _ = sched.Stop() })

	h := handler.NewHandlers(handler.Dependencies{
		Store:      store,
		OptOuts:    store,
		Writer:     service.NewQueueWriter(store, planner, "default", m),
		Executor:   executor,
		Classifier: classifier,
		Scheduler:  sched,
		Health:     health.NewChecker(),
		Metrics:    m,
	})
	engine := router.SetupRouter(h)
	return &testAPI{engine: engine, store: store, sched: sched}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) seed(t *testing.T, status model.OutreachStatus, to string) *model.OutreachMessage {
	t.Helper()
	due := time.Now().Add(-time.Minute)
	msg := &model.OutreachMessage{
		ID:           uuid.NewString(),
		CompanyID:    "company-1",
		Channel:      "email",
		Subject:      "Hello",
		Body:         "Body",
		Status:       status,
		ScheduledFor: &due,
		Metadata:     model.Metadata{model.KeyToEmail: to},
	}
	a.store.Put(msg)
	return msg
}

func TestEnqueueAndGet(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/outreach", service.EnqueueRequest{
		CompanyID: "company-1",
		ToEmail:   "buyer@acme.example",
		Subject:   "Hi",
		Body:      "Offer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.OutreachMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, model.StatusScheduled, created.Status)
	require.NotNil(t, created.ScheduledFor)

	rec = api.do(t, http.MethodGet, "/api/v1/outreach/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "buyer@acme.example")
}

func TestEnqueueValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/outreach", service.EnqueueRequest{ToEmail: "a@b.example"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request", resp.Error)
}

func TestGetUnknownIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/v1/outreach/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFiltersByStatus(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, model.StatusScheduled, "a@acme.example")
	api.seed(t, model.StatusFailed, "b@acme.example")

	rec := api.do(t, http.MethodGet, "/api/v1/outreach?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Outreach   []model.OutreachMessage `json:"outreach"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Outreach, 1)
	assert.Equal(t, model.StatusFailed, resp.Outreach[0].Status)
	assert.EqualValues(t, 1, resp.Pagination.Total)

	rec = api.do(t, http.MethodGet, "/api/v1/outreach?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliverThenConflict(t *testing.T) {
	api := newTestAPI(t)
	msg := api.seed(t, model.StatusFailed, "buyer@acme.example")

	rec := api.do(t, http.MethodPost, "/api/v1/outreach/"+msg.ID+"/deliver", handler.DeliverRequest{Subject: "Second try", Operator: "ops"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handler.DeliverResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.StatusSent, resp.Status)
	assert.Equal(t, "Second try", resp.Outreach.Subject)
	assert.NotNil(t, resp.Outreach.Metadata[model.KeyManual])

	rec = api.do(t, http.MethodPost, "/api/v1/outreach/"+msg.ID+"/deliver", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/outreach/missing/deliver", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsCountsByStatus(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, model.StatusScheduled, "a@acme.example")
	api.seed(t, model.StatusScheduled, "b@acme.example")
	api.seed(t, model.StatusSkipped, "c@acme.example")

	rec := api.do(t, http.MethodGet, "/api/v1/outreach/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handler.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 3, resp.Total)
	assert.EqualValues(t, 2, resp.Counts[model.StatusScheduled])
}

func TestCheckOptOut(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.store.AddOptOut(context.Background(), &model.OptOutEntry{
		ContactValue: "acme.example",
		ContactType:  model.ContactTypeDomain,
	}))

	rec := api.do(t, http.MethodGet, "/api/v1/opt-outs/check?address=mailto:Buyer@Acme.example", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handler.OptOutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OptedOut)
	assert.Equal(t, "buyer@acme.example", resp.Address)

	rec = api.do(t, http.MethodGet, "/api/v1/opt-outs/check", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyMX(t *testing.T) {
	api := newTestAPI(t)

	cases := map[string]string{
		"buyer@corp.example": "RU",
		"buyer@acme.example": "OTHER",
		"buyer@mail.ru":      "RU",
		"buyer@nowhere.test": "UNKNOWN",
	}
	for email, class := range cases {
		rec := api.do(t, http.MethodPost, "/api/v1/mx/classify", handler.ClassifyRequest{Email: email})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp handler.ClassifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, class, resp.Class, email)
	}

	rec := api.do(t, http.MethodPost, "/api/v1/mx/classify", handler.ClassifyRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	api := newTestAPI(t)
	msg := api.seed(t, model.StatusScheduled, "buyer@acme.example")

	rec := api.do(t, http.MethodPost, "/api/v1/scheduler/run-once", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sent":1`)

	stored, err := api.store.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, stored.Status)

	rec = api.do(t, http.MethodPost, "/api/v1/scheduler/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/v1/scheduler/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/scheduler/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status handler.SchedulerStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "1h0m0s", status.Interval)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, 1, status.LastResult.Sent)

	rec = api.do(t, http.MethodPost, "/api/v1/scheduler/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, api.sched.IsRunning())
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"scheduler":"stopped"`)

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/live", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/ready", nil).Code)
}
