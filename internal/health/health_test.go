package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mhingston/switchboard/internal/events"
)

func TestGetDefaultsWhenAbsent(t *testing.T) {
	s := NewInMemory()
	r := s.Get("gpt-4")
	assert.Equal(t, "gpt-4", r.ModelID)
	assert.Equal(t, 1.0, r.RollingSuccessRate)
	assert.Zero(t, r.CooldownUntil)
	assert.Zero(t, r.DegradedUntil)
}

func TestMarkRateLimitedSetsCooldownAndPreservesOtherFields(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(WithClock(func() time.Time { return clock }))

	lat := 50.0
	s.RecordResult("m1", true, &lat)
	s.MarkRateLimited("m1", 10_000, 2, clock.UnixMilli())

	r := s.Get("m1")
	assert.Equal(t, clock.UnixMilli()+10_000, r.CooldownUntil)
	assert.Equal(t, 2, r.RateLimitStrikes)
	assert.InDelta(t, 50*emaAlpha, r.RollingLatencyMs, 1e-9) // latency EMA preserved from RecordResult
}

func TestMarkDegradedPreservesCooldown(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(WithClock(func() time.Time { return clock }))

	s.MarkRateLimited("m1", 5_000, 1, clock.UnixMilli())
	s.MarkDegraded("m1", 30_000)

	r := s.Get("m1")
	assert.Equal(t, clock.UnixMilli()+5_000, r.CooldownUntil)
	assert.Equal(t, clock.UnixMilli()+30_000, r.DegradedUntil)
}

func TestRecordResultEMA(t *testing.T) {
	s := NewInMemory()
	lat1 := 100.0
	s.RecordResult("m1", true, &lat1)
	r := s.Get("m1")
	// old=1 (default), observed=1 -> unchanged at 1
	assert.InDelta(t, 1.0, r.RollingSuccessRate, 1e-9)
	assert.InDelta(t, 100*0.2, r.RollingLatencyMs, 1e-9)

	s.RecordResult("m1", false, nil)
	r = s.Get("m1")
	assert.InDelta(t, 1.0*0.8+0*0.2, r.RollingSuccessRate, 1e-9)
	// latency unchanged because this observation had nil latency
	assert.InDelta(t, 100*0.2, r.RollingLatencyMs, 1e-9)
}

func TestNextStrikeCountResetsOutsideWindow(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(WithClock(func() time.Time { return clock }))

	s.MarkRateLimited("m1", 1_000, 1, clock.UnixMilli())
	assert.Equal(t, 2, s.NextStrikeCount("m1"))

	clock = clock.Add(61 * time.Second)
	assert.Equal(t, 1, s.NextStrikeCount("m1"))
}

func TestNextStrikeCountCapsAtSix(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(WithClock(func() time.Time { return clock }))

	s.MarkRateLimited("m1", 1_000, 6, clock.UnixMilli())
	assert.Equal(t, 6, s.NextStrikeCount("m1"))
}

func TestWithEventBusPublishesOnTransition(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	s := NewInMemory(WithEventBus(bus))
	s.MarkRateLimited("m1", 1_000, 1, 0)

	select {
	case evt := <-sub.C:
		assert.Equal(t, events.EventHealthChange, evt.Type)
		assert.Equal(t, "m1", evt.ModelID)
		assert.Equal(t, "rate_limited", evt.Reason)
	default:
		t.Fatal("expected a health_change event on the bus")
	}
}

func TestWithoutEventBusPublishIsNoop(t *testing.T) {
	s := NewInMemory()
	assert.NotPanics(t, func() { s.MarkDegraded("m1", 1_000) })
}
