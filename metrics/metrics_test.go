package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/intake-ledger/intake"
)

func TestObserveMutation_Outcomes(t *testing.T) {
	m := New()

	m.ObserveMutation("log", nil)
	m.ObserveMutation("log", nil)
	m.ObserveMutation("update", &intake.ValidationError{Field: "calories", Reason: "bad"})
	m.ObserveMutation("delete", &intake.NotFoundError{EntryID: "x"})
	m.ObserveMutation("update", &intake.PartialMutationError{Op: "update", Step: "increment", Err: errors.New("disk")})
	m.ObserveMutation("log", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutations.WithLabelValues("log", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("update", OutcomeInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("delete", OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("update", OutcomePartial)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("log", OutcomeError)))
}

func TestObserveRepairs(t *testing.T) {
	m := New()

	m.ObserveRepairs(3)
	m.ObserveRepairs(0)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.repairs))
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	// GIVEN a chi router with a parameterized route behind the middleware
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/entries/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	// WHEN two different ids are requested
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entries/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	// THEN both land on the same pattern label
	got := testutil.ToFloat64(m.requests.WithLabelValues("/api/entries/{id}", http.MethodGet, "404"))
	assert.Equal(t, 2.0, got)
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveMutation("log", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `intake_mutations_total{op="log",outcome="ok"} 1`))
}
