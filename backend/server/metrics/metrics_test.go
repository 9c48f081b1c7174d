package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInstrumentUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Instrument)
	r.HandleFunc("/challenges/{challengeId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	before := testutil.ToFloat64(httpRequests.WithLabelValues("DELETE", "/challenges/{challengeId}", "204"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/challenges/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/challenges/def", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("DELETE", "/challenges/{challengeId}", "204"))

	assert.Equal(t, float64(2), after-before)
}

func TestDomainCounters(t *testing.T) {
	before := testutil.ToFloat64(domainEvents.WithLabelValues(EventRewardRedeem, "failure"))
	RecordEvent(EventRewardRedeem, errors.New("no coins"))
	assert.Equal(t, float64(1), testutil.ToFloat64(domainEvents.WithLabelValues(EventRewardRedeem, "failure"))-before)

	credit := testutil.ToFloat64(coinsMoved.WithLabelValues("credit"))
	RecordCoins(50)
	RecordCoins(-30)
	RecordCoins(0)
	assert.Equal(t, float64(50), testutil.ToFloat64(coinsMoved.WithLabelValues("credit"))-credit)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "duet_domain_events_total")
}
