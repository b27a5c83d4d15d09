package provider

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/citygrid/h3delay/internal/model"
)

type countingProvider struct {
	calls atomic.Int32
	fn    func(ctx context.Context, cell string) (*model.TrafficSample, error)
}

func (p *countingProvider) DelayForCell(ctx context.Context, cell string) (*model.TrafficSample, error) {
	p.calls.Add(1)
	return p.fn(ctx, cell)
}

func TestCached_RepeatedCall_HitsUnderlyingOnce(t *testing.T) {
	inner := &countingProvider{fn: func(ctx context.Context, cell string) (*model.TrafficSample, error) {
		return &model.TrafficSample{Delay: 2.0, Confidence: 0.9}, nil
	}}
	c, err := NewCached(inner, "test", 64, time.Minute)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	cell := testCell(t)
	s1, err := c.DelayForCell(context.Background(), cell)
	if err != nil {
		t.Fatalf("DelayForCell: %v", err)
	}
	s2, err := c.DelayForCell(context.Background(), cell)
	if err != nil {
		t.Fatalf("DelayForCell: %v", err)
	}

	if inner.calls.Load() != 1 {
		t.Fatalf("underlying provider called %d times, want 1", inner.calls.Load())
	}
	if *s1 != *s2 {
		t.Fatalf("cached and live responses differ: %+v vs %+v", s1, s2)
	}
}

func TestCached_None_NotCached(t *testing.T) {
	inner := &countingProvider{fn: func(ctx context.Context, cell string) (*model.TrafficSample, error) {
		return nil, nil
	}}
	c, err := NewCached(inner, "test", 64, time.Minute)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	cell := testCell(t)
	c.DelayForCell(context.Background(), cell)
	c.DelayForCell(context.Background(), cell)

	if inner.calls.Load() != 2 {
		t.Fatalf("a none response must not be cached: underlying called %d times, want 2", inner.calls.Load())
	}
}

func TestCached_Expiry_RefetchesFromUnderlying(t *testing.T) {
	inner := &countingProvider{fn: func(ctx context.Context, cell string) (*model.TrafficSample, error) {
		return &model.TrafficSample{Delay: 1.5, Confidence: 0.7}, nil
	}}
	c, err := NewCached(inner, "test", 64, time.Millisecond)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	cell := testCell(t)
	c.DelayForCell(context.Background(), cell)
	time.Sleep(5 * time.Millisecond)
	c.DelayForCell(context.Background(), cell)

	if inner.calls.Load() != 2 {
		t.Fatalf("expired entry should re-fetch: underlying called %d times, want 2", inner.calls.Load())
	}
}
