package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmeval/qa-registry/pkg/versioning"
)

var _ versioning.Observer = (*Metrics)(nil)

func TestObserverCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.VersionCreated("edit")
	m.VersionCreated("edit")
	m.VersionCreated("rollback")
	m.WriteRetried("conflict")
	m.DatasetPublished()
	m.DatasetMembershipChanged("add", 3)
	m.DatasetMembershipChanged("remove", -2)
	m.DatasetMembershipChanged("add", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.versionsCreated.WithLabelValues("edit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.versionsCreated.WithLabelValues("rollback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeRetries.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.datasetsPublished))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.membershipChanges.WithLabelValues("add")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.membershipDelta.WithLabelValues("add")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.membershipDelta.WithLabelValues("remove")))
}

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	assert.Panics(t, func() { New(reg) }, "registering the same collectors twice must fail")
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/questions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/questions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})

	for _, path := range []string{"/questions/1", "/questions/2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/questions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/questions/{id}", "GET", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/questions", "POST", "200")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.httpDuration))
}
