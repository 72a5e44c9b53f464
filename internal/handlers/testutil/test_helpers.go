package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/api"
	"github.com/charlesng35/smallworld/internal/app"
	iauth "github.com/charlesng35/smallworld/internal/auth"
	sharedtestutil "github.com/charlesng35/smallworld/internal/database/testutil"
	"github.com/charlesng35/smallworld/internal/middleware"
	"github.com/charlesng35/smallworld/internal/realtime"
	"github.com/charlesng35/smallworld/pkg/response"
)

// TransportKey is the worker API key configured on every test router.
const TransportKey = "transport-test-key"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
	Hub    *realtime.Hub
	Config *app.Config
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: jwtSecret,
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Audience:      app.AudienceConfig{FingerprintConfidenceFloor: 0.3},
		Feed:          app.FeedConfig{DefaultPageSize: 20, MaxPageSize: 100},
		Notifications: app.NotificationsConfig{SMSFallbackEnabled: true, RealtimeEnabled: true},
		Transport:     app.TransportConfig{APIKey: TransportKey, DeliveredRateLimit: 1000, DeliveredWindow: time.Minute},
		Monitoring:    app.MonitoringConfig{Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"}},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	hub := realtime.NewHub()
	router, err := api.NewRouter(db, jwtSvc, cfg, hub, middleware.NewMemoryRateStore())
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		JWT:    jwtSvc,
		Hub:    hub,
		Config: cfg,
	}
}

// Owner captures the subset of the signup response the tests need.
type Owner struct {
	UserID      string
	WorldID     string
	Handle      string
	AccessToken string
}

type authPayload struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	World struct {
		ID     string `json:"id"`
		Handle string `json:"handle"`
	} `json:"world"`
	AccessToken string `json:"access_token"`
}

// RegisterOwner signs up a new owner with a random handle and returns its access token.
func (e *Env) RegisterOwner(password string) Owner {
	e.T.Helper()

	handle := "world-" + uuid.NewString()[:8]
	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"name":     "Owner " + handle,
		"email":    handle + "@example.com",
		"password": password,
		"handle":   handle,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var payload authPayload
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &payload)
	require.NotEmpty(e.T, payload.AccessToken)

	return Owner{
		UserID:      payload.User.ID,
		WorldID:     payload.World.ID,
		Handle:      payload.World.Handle,
		AccessToken: payload.AccessToken,
	}
}

// Friend captures a created friend and its capability token.
type Friend struct {
	ID          string
	AccessToken string
}

// CreateFriend adds a friend to the owner's world.
func (e *Env) CreateFriend(owner Owner, body map[string]any) Friend {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/friends", body, owner.AccessToken)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var payload struct {
		Friend struct {
			ID string `json:"id"`
		} `json:"friend"`
		AccessToken string `json:"access_token"`
	}
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &payload)
	require.NotEmpty(e.T, payload.AccessToken)

	return Friend{ID: payload.Friend.ID, AccessToken: payload.AccessToken}
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request as an owner (bearer token) or anonymously when token is empty.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return e.Do(method, path, body, headers)
}

// FriendRequest executes an HTTP request carrying a friend capability token.
func (e *Env) FriendRequest(method, path string, body any, friendToken string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.Do(method, path, body, map[string]string{middleware.FriendTokenHeader: friendToken})
}

// TransportRequest executes an HTTP request with the worker API key.
func (e *Env) TransportRequest(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.Do(method, path, body, map[string]string{middleware.TransportKeyHeader: TransportKey})
}

// Do executes an HTTP request against the test router with JSON encoding and the given headers.
func (e *Env) Do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
