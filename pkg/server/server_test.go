package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/llmeval/qa-registry/pkg/authz"
	"github.com/llmeval/qa-registry/pkg/cache"
	"github.com/llmeval/qa-registry/pkg/config"
	regdb "github.com/llmeval/qa-registry/pkg/db"
	"github.com/llmeval/qa-registry/pkg/versioning"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), NowFunc: regdb.NowUTC})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, versioning.AutoMigrate(db))
	return db
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Auth.Mode = authz.AuthzModeGroups
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, http.Handler) {
	t.Helper()
	s, err := New(cfg, setupDB(t), nil)
	require.NoError(t, err)
	return s, s.Handler()
}

func send(h http.Handler, method, path, groups, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Remote-User", "alice")
	if groups != "" {
		req.Header.Set("X-Remote-Group", groups)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	for _, path := range []string{"/healthz", "/livez"} {
		w := send(h, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"ok"`)
	}

	w := send(h, http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, false, body["leader"], "not leading until Serve runs election")
}

func TestAPI_AuthorizedWriteIsAudited(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	denied := send(h, http.MethodPost, "/api/v1/questions", "viewers",
		`{"question":"What is 2+2?","questionType":"simple_fact"}`)
	assert.Equal(t, http.StatusForbidden, denied.Code)

	created := send(h, http.MethodPost, "/api/v1/questions", "qa-editors",
		`{"question":"What is 2+2?","questionType":"simple_fact"}`)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())

	read := send(h, http.MethodGet, "/api/v1/questions/1", "", "")
	assert.Equal(t, http.StatusOK, read.Code)

	assert.Equal(t, http.StatusForbidden, send(h, http.MethodGet, "/api/audit/v1/events", "qa-editors", "").Code)

	w := send(h, http.MethodGet, "/api/audit/v1/events?eventType=api.request", "qa-admins", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Events []struct {
			Actor    string `json:"actor"`
			Action   string `json:"action"`
			Outcome  string `json:"outcome"`
			Resource string `json:"resourceType"`
		} `json:"events"`
		TotalSize int `json:"totalSize"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Equal(t, 2, page.TotalSize, "the denied and the successful create")
	for _, e := range page.Events {
		assert.Equal(t, "alice", e.Actor)
		assert.Equal(t, "create", e.Action)
		assert.Equal(t, "question", e.Resource)
	}
}

func TestAPI_NoneModeAllowsAnonymousWrites(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Mode = authz.AuthzModeNone
	cfg.Audit.Enabled = false
	_, h := newTestServer(t, cfg)

	w := send(h, http.MethodPost, "/api/v1/questions", "", `{"question":"Q","questionType":"subjective"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	send(h, http.MethodGet, "/api/v1/questions/42", "", "")
	send(h, http.MethodPost, "/api/v1/questions", "qa-editors", `{"question":"Q","questionType":"subjective"}`)

	w := send(h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "qa_registry_http_requests_total")
	assert.Contains(t, body, `route="/api/v1/questions/{questionId}`)
	assert.NotContains(t, body, "questions/42", "labels use the route pattern")
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MetricsEnabled = false
	_, h := newTestServer(t, cfg)

	w := send(h, http.MethodGet, "/metrics", "", "")
	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestNew_RejectsBadAuthMode(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Mode = "rbac"
	_, err := New(cfg, setupDB(t), nil)
	assert.Error(t, err)
}

func TestServe_LeadsAndShutsDown(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	// Election is disabled by default, so this replica leads.
	require.Eventually(t, s.IsLeader, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.False(t, s.IsLeader())
}

func TestCacheConfig_ReplicasShortenVersionTTL(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.VersionTTL = 10 * time.Minute
	assert.Equal(t, 10*time.Minute, cacheConfig(cfg).VersionTTL)

	cfg.HA.LeaderElectionEnabled = true
	got := cacheConfig(cfg)
	assert.Equal(t, cache.MaxReplicatedVersionTTL, got.VersionTTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.VersionTTL)
}
