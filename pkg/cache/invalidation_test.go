package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewCacheManager_Disabled(t *testing.T) {
	if cm := NewCacheManager(nil); cm != nil {
		t.Fatal("expected nil manager for nil config")
	}
	cfg := DefaultCacheConfig()
	cfg.Enabled = false
	if cm := NewCacheManager(cfg); cm != nil {
		t.Fatal("expected nil manager when disabled")
	}
}

func TestCacheManager_NilSafe(t *testing.T) {
	var cm *CacheManager
	cm.InvalidateVersion(1)
	cm.InvalidateAll()
	cm.StoreVersion(1, []byte(`{}`))
	if _, ok := cm.Version(1); ok {
		t.Fatal("nil manager must not cache")
	}

	calls := 0
	h := cm.StatsMiddleware()(jsonHandler(&calls, http.StatusOK))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if calls != 2 {
		t.Fatalf("expected passthrough, calls=%d", calls)
	}
}

func TestCacheManager_InvalidateVersion(t *testing.T) {
	cm := NewCacheManager(&CacheConfig{Enabled: true, VersionTTL: time.Minute, StatsTTL: time.Minute, MaxSize: 10})

	cm.StoreVersion(7, []byte(`{"id":7}`))
	cm.StoreVersion(8, []byte(`{"id":8}`))
	if got, ok := cm.Version(7); !ok || string(got) != `{"id":7}` {
		t.Fatalf("expected cached version 7, got %q ok=%v", got, ok)
	}

	cm.InvalidateVersion(7)
	if _, ok := cm.Version(7); ok {
		t.Fatal("expected version 7 to be dropped")
	}
	if _, ok := cm.Version(8); !ok {
		t.Fatal("expected version 8 to stay cached")
	}
}

func TestCacheConfig_ForReplicas(t *testing.T) {
	cfg := DefaultCacheConfig()
	replicated := cfg.ForReplicas()
	if replicated.VersionTTL != MaxReplicatedVersionTTL {
		t.Fatalf("VersionTTL = %v, want %v", replicated.VersionTTL, MaxReplicatedVersionTTL)
	}
	if cfg.VersionTTL != 10*time.Minute {
		t.Fatalf("original config modified: %v", cfg.VersionTTL)
	}

	short := &CacheConfig{Enabled: true, VersionTTL: 5 * time.Second}
	if got := short.ForReplicas().VersionTTL; got != 5*time.Second {
		t.Fatalf("shorter TTL should be kept, got %v", got)
	}
}

func TestCacheManager_StatsClearedOnWrite(t *testing.T) {
	cm := NewCacheManager(DefaultCacheConfig())

	calls := 0
	stats := cm.StatsMiddleware()(jsonHandler(&calls, http.StatusOK))
	stats.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/versions/statistics", nil))
	stats.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/versions/statistics", nil))
	if calls != 1 {
		t.Fatalf("expected cached statistics, calls=%d", calls)
	}

	writes := 0
	write := cm.WriteInvalidation()(jsonHandler(&writes, http.StatusCreated))
	write.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/questions/1/versions", nil))

	stats.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/versions/statistics", nil))
	if calls != 2 {
		t.Fatalf("expected statistics recomputed after write, calls=%d", calls)
	}
}

func TestVersionKey(t *testing.T) {
	if got := VersionKey(42); got != "version:42" {
		t.Fatalf("unexpected key %q", got)
	}
}
