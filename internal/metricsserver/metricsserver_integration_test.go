package metricsserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/citygrid/h3delay/internal/observability"
)

func Test_PipelineMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)

	observability.ObserveProviderCall("tomtom", nil, 0.120)
	observability.IncProviderInFlight(2)
	observability.IncProviderInFlight(-1)
	observability.ObserveEnrichment("2026-07-29", 1.250)
	observability.IncEnrichedCell("pure_orange")
	observability.IncEnrichedCell("blended")
	observability.ObserveSinkWrite("jsonl", nil, 0.003)
	observability.ObserveRender(0.050, 184)
	observability.ObserveComputeDay(nil, 3.4)
	observability.IncKafkaConsumerError("decode")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`provider_calls_total{outcome="ok",provider="tomtom"} 1`,
		`provider_calls_in_flight 1`,
		`enrichment_duration_seconds_bucket`,
		`enrichment_cells_total{outcome="pure_orange"} 1`,
		`enrichment_cells_total{outcome="blended"} 1`,
		`history_sink_writes_total{outcome="ok",sink="jsonl"} 1`,
		`render_features 184`,
		`compute_day_duration_seconds_bucket`,
		`kafka_consumer_errors_total{kind="decode"} 1`,
		`app_build_info{`,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}
}
