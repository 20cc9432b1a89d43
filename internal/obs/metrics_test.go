package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/credentials":                 "/v1/credentials",
		"/v1/credentials/ed25519:AAAA":    "/v1/credentials/:key",
		"/v1/credentials/abc/extra":       "/v1/credentials/abc/extra",
		"/v1/actions/delegated":           "/v1/actions/delegated",
		"/v1/actions/direct/batch?x=1":    "/v1/actions/direct/batch",
		"/v1/credentials/ed25519:AAAA?q=": "/v1/credentials/:key",
		"/v1/ledger/accounts/bob.near":    "/v1/ledger/accounts/:id",
		"/v1/ledger/receipts":             "/v1/ledger/receipts",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsCanonicalRoute(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/credentials/:key", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/credentials/ed25519:Zm9v", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/credentials/:key", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request counted, got %v", after-before)
	}
	if testutil.ToFloat64(httpInFlight) != 0 {
		t.Fatal("in-flight gauge not released")
	}
}

func TestGatewayCounters(t *testing.T) {
	before := testutil.ToFloat64(gatewayCalls.WithLabelValues("direct", "ok"))
	ObserveCall("direct", "ok")
	if got := testutil.ToFloat64(gatewayCalls.WithLabelValues("direct", "ok")); got-before != 1 {
		t.Fatalf("gateway_calls_total delta = %v", got-before)
	}
	ObservePromise("transfer")
	if got := testutil.ToFloat64(scheduledPromises.WithLabelValues("transfer")); got < 1 {
		t.Fatalf("scheduled promises = %v", got)
	}
}
