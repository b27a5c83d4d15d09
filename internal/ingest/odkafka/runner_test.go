package odkafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/citygrid/h3delay/internal/observability"
)

type recordingCompute struct {
	mu    sync.Mutex
	calls []ODReadyEvent
	err   error
}

func (c *recordingCompute) fn(_ context.Context, date, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, ODReadyEvent{Date: date, Source: source})
	return c.err
}

func (c *recordingCompute) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newTestRunner(compute ComputeDayFn) *Runner {
	reg := prometheus.NewRegistry()
	observability.Init(reg, true)
	return New(Config{Enabled: true}, compute, Options{Register: reg})
}

func TestHandleMessage_ValidEvent_InvokesCompute(t *testing.T) {
	rec := &recordingCompute{}
	r := newTestRunner(rec.fn)

	ev := ODReadyEvent{Date: "2025-10-27", Rows: 48213, Source: "od_today.csv"}
	b, _ := json.Marshal(ev)
	msg := &sarama.ConsumerMessage{Topic: "od.ready", Value: b, Timestamp: time.Now()}

	if err := r.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 compute_day call, got %d", rec.count())
	}
}

func TestHandleMessage_UndecodableMessage_DroppedNotError(t *testing.T) {
	rec := &recordingCompute{}
	r := newTestRunner(rec.fn)

	msg := &sarama.ConsumerMessage{Topic: "od.ready", Value: []byte("not json"), Timestamp: time.Now()}
	if err := r.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected nil error for undecodable message (poison-message safe), got %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("compute_day should not run for an undecodable message")
	}
}

func TestHandleMessage_MissingDate_DroppedNotError(t *testing.T) {
	rec := &recordingCompute{}
	r := newTestRunner(rec.fn)

	b, _ := json.Marshal(ODReadyEvent{Rows: 10})
	msg := &sarama.ConsumerMessage{Topic: "od.ready", Value: b, Timestamp: time.Now()}
	if err := r.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected nil error for missing-date message, got %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("compute_day should not run without a date")
	}
}

func TestHandleMessage_ComputeError_StillMarkedConsumed(t *testing.T) {
	rec := &recordingCompute{err: errors.New("boom")}
	r := newTestRunner(rec.fn)

	b, _ := json.Marshal(ODReadyEvent{Date: "2025-10-27", Rows: 1})
	msg := &sarama.ConsumerMessage{Topic: "od.ready", Value: b, Timestamp: time.Now()}

	if err := r.handleMessage(context.Background(), msg); err != nil {
		t.Fatalf("a compute_day failure must not block the consumer group, got %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("compute_day should still have been invoked once")
	}
}

func TestReadiness_FalseBeforeAssignment(t *testing.T) {
	r := newTestRunner((&recordingCompute{}).fn)
	ready, parts := r.Readiness()
	if ready || parts != nil {
		t.Fatalf("expected not-ready with no partitions before Start, got ready=%v parts=%v", ready, parts)
	}
}
