package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accessrequesthandler "github.com/jwalitptl/medaccess-api/internal/handler/accessrequest"
	"github.com/jwalitptl/medaccess-api/internal/handler/admin"
	"github.com/jwalitptl/medaccess-api/internal/handler/health"
	medicalhandler "github.com/jwalitptl/medaccess-api/internal/handler/medical"
	permissionhandler "github.com/jwalitptl/medaccess-api/internal/handler/permission"
	userhandler "github.com/jwalitptl/medaccess-api/internal/handler/user"
	"github.com/jwalitptl/medaccess-api/internal/middleware"
	"github.com/jwalitptl/medaccess-api/internal/model"
	"github.com/jwalitptl/medaccess-api/internal/repository/memory"
	"github.com/jwalitptl/medaccess-api/internal/service/accessrequest"
	"github.com/jwalitptl/medaccess-api/internal/service/medical"
	"github.com/jwalitptl/medaccess-api/internal/service/notification"
	"github.com/jwalitptl/medaccess-api/internal/service/permission"
	"github.com/jwalitptl/medaccess-api/internal/service/user"
	"github.com/jwalitptl/medaccess-api/pkg/auth"
)

type nopDeliverer struct{}

func (nopDeliverer) Deliver(context.Context, *model.Notification) (string, error) { return "m", nil }

type nopLog struct{}

func (nopLog) Delivered(context.Context, *model.Notification, string) error { return nil }
func (nopLog) Failed(context.Context, *model.Notification, error) error     { return nil }

type testServer struct {
	engine *gin.Engine
	jwt    *auth.JWTService
	store  *memory.Store
	queue  *notification.Queue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, model.CollectionDoctors, "D1", model.Doctor{
		User: model.User{UID: "D1", FullName: "Gregory House", Role: model.RoleDoctor, Status: model.UserStatusActive},
	}))
	require.NoError(t, store.Set(ctx, model.CollectionPatients, "P1", model.Patient{
		User: model.User{UID: "P1", FullName: "Jane Roe", Role: model.RolePatient},
	}))

	queue := notification.NewQueue(nopDeliverer{}, nopLog{}, notification.QueueConfig{})
	registry := permission.NewRegistry(store, queue, nil, nil)
	requests := accessrequest.NewService(store, nil)

	jwtSvc, err := auth.NewJWTService("test-secret", "medaccess", time.Hour)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	r := NewRouter(
		middleware.NewAuthMiddleware(jwtSvc),
		health.NewHandler(nil),
		RouterConfig{
			MetricsPrefix: "test",
			CORSConfig:    middleware.DefaultCORSConfig(),
			Registerer:    reg,
			Gatherer:      reg,
		},
		permissionhandler.NewHandler(registry),
		accessrequesthandler.NewHandler(requests),
		admin.NewHandler(queue, registry),
		medicalhandler.NewHandler(medical.NewService(store, nil, nil)),
		userhandler.NewHandler(user.NewService(store, nil)),
	)
	r.Setup()

	return &testServer{engine: r.Engine(), jwt: jwtSvc, store: store, queue: queue}
}

func (s *testServer) token(t *testing.T, uid, role string) string {
	t.Helper()
	tok, err := s.jwt.Issue(auth.Principal{UID: uid, Email: uid + "@example.com", Role: role})
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	out := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestPermissionRoutes(t *testing.T) {
	s := newTestServer(t)
	patient := s.token(t, "P1", auth.RolePatient)
	doctor := s.token(t, "D1", auth.RoleDoctor)

	w, body := s.do(t, http.MethodPost, "/api/v1/patients/P1/permissions/D1", patient, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "D1", data["doctorId"])
	assert.Equal(t, "active", data["status"])

	w, _ = s.do(t, http.MethodPost, "/api/v1/patients/P1/permissions/D1", patient, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/v1/patients/P1/doctors", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, body = s.do(t, http.MethodGet, "/api/v1/doctors/D1/patients", doctor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/patients/P1/permissions/D1", patient, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/patients/P1/permissions/D1", patient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 2, s.queue.Len())
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/v1/patients/P1/doctors", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/patients/P1/doctors", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := s.token(t, "P2", auth.RolePatient)
	w, _ = s.do(t, http.MethodPost, "/api/v1/patients/P1/permissions/D1", other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/reconcile", other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	adminTok := s.token(t, "root", auth.RoleAdmin)
	w, _ = s.do(t, http.MethodPost, "/api/v1/patients/P1/permissions/D1", adminTok, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAccessRequestRoutes(t *testing.T) {
	s := newTestServer(t)
	patient := s.token(t, "P1", auth.RolePatient)
	doctor := s.token(t, "D1", auth.RoleDoctor)

	w, _ := s.do(t, http.MethodPost, "/api/v1/patients/P1/access-requests", patient, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only doctors file requests")

	w, _ = s.do(t, http.MethodPost, "/api/v1/patients/P1/access-requests", doctor, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := s.do(t, http.MethodGet, "/api/v1/patients/P1/access-requests", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/patients/P1/access-requests/D1", patient, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/v1/patients/P1/access-requests/D1", patient, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordRoutes(t *testing.T) {
	s := newTestServer(t)
	patient := s.token(t, "P1", auth.RolePatient)
	doctor := s.token(t, "D1", auth.RoleDoctor)

	w, _ := s.do(t, http.MethodPost, "/api/v1/patients/P1/records", doctor, map[string]string{"diagnosis": "flu"})
	assert.Equal(t, http.StatusForbidden, w.Code, "no permission yet")

	w, _ = s.do(t, http.MethodPost, "/api/v1/patients/P1/permissions/D1", patient, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/patients/P1/records", doctor, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := s.do(t, http.MethodPost, "/api/v1/patients/P1/records", doctor, map[string]string{"diagnosis": "flu"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := body["data"].(map[string]interface{})["id"].(string)

	w, body = s.do(t, http.MethodPut, "/api/v1/patients/P1/records/"+id+"/diagnosis", doctor, map[string]string{"diagnosis": "bronchitis"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bronchitis", body["data"].(map[string]interface{})["diagnosis"])

	w, body = s.do(t, http.MethodGet, "/api/v1/patients/P1/records", patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, _ = s.do(t, http.MethodPut, "/api/v1/patients/P1/records/"+id+"/diagnosis", patient, map[string]string{"diagnosis": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	adminTok := s.token(t, "root", auth.RoleAdmin)

	w, _ := s.do(t, http.MethodPost, "/api/v1/admin/notifications", adminTok, map[string]interface{}{
		"userId": "P1",
		"type":   "DIAGNOSIS_UPDATE",
		"title":  "Diagnosis update",
		"body":   "Please review",
	})
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, 1, s.queue.Len())

	w, _ = s.do(t, http.MethodPost, "/api/v1/admin/notifications", adminTok, map[string]interface{}{
		"userId": "P1",
		"type":   "NOT_A_TYPE",
		"title":  "x",
		"body":   "y",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, s.store.Update(context.Background(), model.CollectionDoctors, "D1",
		map[string]interface{}{"activePatientCount": 5}))
	w, body := s.do(t, http.MethodPost, "/api/v1/admin/reconcile", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["data"].(map[string]interface{})["corrected"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.do(t, http.MethodGet, "/health/live", "", nil)
	w, _ = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_requests_total")
}

func TestPushTokenRoute(t *testing.T) {
	s := newTestServer(t)
	patient := s.token(t, "P1", auth.RolePatient)

	w, _ := s.do(t, http.MethodPut, "/api/v1/users/me/push-token", "", map[string]string{"token": "tok-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPut, "/api/v1/users/me/push-token", patient, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := s.do(t, http.MethodPut, "/api/v1/users/me/push-token", patient, map[string]string{"token": "tok-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "tok-1", data["fcmToken"])
	assert.NotEmpty(t, data["lastTokenUpdate"])

	token, err := notification.NewStoreTokenResolver(s.store).PushToken(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}
