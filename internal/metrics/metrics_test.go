package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsAreIndependentPerInstance(t *testing.T) {
	a, b := New(), New()
	a.EventsTotal.WithLabelValues("SupplyReceived", OutcomeApplied).Inc()

	if got := testutil.ToFloat64(a.EventsTotal.WithLabelValues("SupplyReceived", OutcomeApplied)); got != 1 {
		t.Fatalf("a counter = %v", got)
	}
	if got := testutil.ToFloat64(b.EventsTotal.WithLabelValues("SupplyReceived", OutcomeApplied)); got != 0 {
		t.Fatalf("b counter = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.LastBlock.Set(42)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "mmledger_last_block 42") {
		t.Fatalf("last block missing from exposition:\n%s", body)
	}
}
