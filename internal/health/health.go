// Package health exposes the two ops endpoints every long-running
// component in this codebase serves: a liveness check that never fails
// once the process is up, and a readiness check delegated to whatever
// component knows whether it has work it can safely serve (the OD-ready
// Kafka consumer's partition assignment, in cmd/dayrunner's case).
package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// ReadinessReporter is implemented by any component that can be asked,
// at any time, whether it is ready to participate (e.g. the OD-ready
// consumer group once it holds partition assignments).
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status     string  `json:"status"`
			Partitions []int32 `json:"partitions,omitempty"`
		}
		ready, parts := rr.Readiness()
		out := resp{Status: "not_ready"}
		if ready {
			out.Status = "ready"
			out.Partitions = parts
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
