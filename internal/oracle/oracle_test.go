package oracle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serpworks/serpd/internal/model"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var testPair = model.Pair{Base: "SRD", Quote: "USD"}

func TestAdapter_MedianAcrossSources(t *testing.T) {
	now := time.Now()
	a := NewAdapter(30*time.Second, 0)
	a.SetClock(func() time.Time { return now })

	for _, price := range []string{"1.00", "1.10", "1.02"} {
		src := NewStaticSource()
		src.PushAt(testPair, dec(price), now)
		a.AddSource(src)
	}

	obs, ok := a.Observe(testPair, 1)
	require.True(t, ok)
	assert.True(t, obs.Price.Equal(dec("1.02")), "got %s", obs.Price)
	assert.Equal(t, 3, obs.Sources)
	assert.False(t, obs.IsStale)
	assert.Equal(t, uint64(1), obs.ObservedAt)
}

func TestAdapter_EvenSourceCountAveragesMiddle(t *testing.T) {
	now := time.Now()
	a := NewAdapter(30*time.Second, 0)
	a.SetClock(func() time.Time { return now })

	for _, price := range []string{"1.00", "1.04"} {
		src := NewStaticSource()
		src.PushAt(testPair, dec(price), now)
		a.AddSource(src)
	}

	obs, ok := a.Observe(testPair, 1)
	require.True(t, ok)
	assert.True(t, obs.Price.Equal(dec("1.02")), "got %s", obs.Price)
}

func TestAdapter_NoSourceData(t *testing.T) {
	a := NewAdapter(30*time.Second, 0, NewStaticSource())

	_, ok := a.Observe(testPair, 1)
	assert.False(t, ok)
}

func TestAdapter_StaleBeyondFreshnessWindow(t *testing.T) {
	now := time.Now()
	src := NewStaticSource()
	src.PushAt(testPair, dec("1.05"), now.Add(-time.Minute))

	a := NewAdapter(30*time.Second, 0, src)
	a.SetClock(func() time.Time { return now })

	obs, ok := a.Observe(testPair, 1)
	require.True(t, ok)
	assert.True(t, obs.IsStale)
	assert.True(t, obs.Price.Equal(dec("1.05")), "price is still reported")
}

func TestAdapter_FreshInsideWindow(t *testing.T) {
	now := time.Now()
	src := NewStaticSource()
	src.PushAt(testPair, dec("1.05"), now.Add(-5*time.Second))

	a := NewAdapter(30*time.Second, 0, src)
	a.SetClock(func() time.Time { return now })

	obs, ok := a.Observe(testPair, 1)
	require.True(t, ok)
	assert.False(t, obs.IsStale)
}

func TestAdapter_DeviationGuardDistrustsJumps(t *testing.T) {
	now := time.Now()
	src := NewStaticSource()
	a := NewAdapter(30*time.Second, 500, src) // 5%
	a.SetClock(func() time.Time { return now })

	src.PushAt(testPair, dec("1.00"), now)
	obs, ok := a.Observe(testPair, 1)
	require.True(t, ok)
	require.False(t, obs.IsStale)

	// A 20% jump against the last accepted median is treated as stale.
	src.PushAt(testPair, dec("1.20"), now)
	obs, ok = a.Observe(testPair, 2)
	require.True(t, ok)
	assert.True(t, obs.IsStale)

	// The jump was not accepted, so a return to a nearby price is trusted.
	src.PushAt(testPair, dec("1.03"), now)
	obs, ok = a.Observe(testPair, 3)
	require.True(t, ok)
	assert.False(t, obs.IsStale)
}

func TestAdapter_FirstObservationBypassesDeviationGuard(t *testing.T) {
	now := time.Now()
	src := NewStaticSource()
	src.PushAt(testPair, dec("42.0"), now)

	a := NewAdapter(30*time.Second, 100, src)
	a.SetClock(func() time.Time { return now })

	obs, ok := a.Observe(testPair, 1)
	require.True(t, ok)
	assert.False(t, obs.IsStale, "no prior accepted price to deviate from")
}

func TestAdapter_IgnoresNonPositiveQuotes(t *testing.T) {
	now := time.Now()
	bad := NewStaticSource()
	bad.PushAt(testPair, decimal.Zero, now)
	good := NewStaticSource()
	good.PushAt(testPair, dec("1.01"), now)

	a := NewAdapter(30*time.Second, 0, bad, good)
	a.SetClock(func() time.Time { return now })

	obs, ok := a.Observe(testPair, 1)
	require.True(t, ok)
	assert.Equal(t, 1, obs.Sources)
	assert.True(t, obs.Price.Equal(dec("1.01")))
}

func TestMedian_OddAndEven(t *testing.T) {
	odd := median([]decimal.Decimal{dec("3"), dec("1"), dec("2")})
	assert.True(t, odd.Equal(dec("2")))

	even := median([]decimal.Decimal{dec("4"), dec("1"), dec("3"), dec("2")})
	assert.True(t, even.Equal(dec("2.5")))
}
