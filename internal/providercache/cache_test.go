package providercache

import (
	"fmt"
	"testing"
	"time"

	"github.com/citygrid/h3delay/internal/model"
)

func TestCache_SetGet_RoundTrips(t *testing.T) {
	c, err := New(16, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := model.TrafficSample{Delay: 1.42, Confidence: 0.8}
	c.Set("871f24ac0ffffff", want)

	got, ok := c.Get("871f24ac0ffffff")
	if !ok {
		t.Fatalf("expected hit")
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestCache_Get_MissOnUnknownKey(t *testing.T) {
	c, err := New(16, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Get("nope"); ok {
		t.Fatalf("expected miss on unknown key")
	}
}

func TestCache_Expiry(t *testing.T) {
	c, err := New(16, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	frozen := time.Unix(0, 0)
	c.now = func() time.Time { return frozen }

	c.Set("cell-a", model.TrafficSample{Delay: 1.1})
	if _, ok := c.Get("cell-a"); !ok {
		t.Fatalf("expected hit before expiry")
	}

	c.now = func() time.Time { return frozen.Add(time.Second) }
	if _, ok := c.Get("cell-a"); ok {
		t.Fatalf("expected miss after ttl elapses")
	}
}

func TestCache_ShardsAcrossManyKeys(t *testing.T) {
	c, err := New(4, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 200; i++ {
		c.Set(fmt.Sprintf("cell-%d", i), model.TrafficSample{Delay: float64(i)})
	}
	if c.Len() == 0 {
		t.Fatalf("expected entries to survive across shards")
	}
	if c.Len() > 200 {
		t.Fatalf("unexpected growth: len=%d", c.Len())
	}
}
