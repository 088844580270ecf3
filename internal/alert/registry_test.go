package alert

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3-frozen/defilens/internal/events"
)

func newTestRegistry() (*Registry, *events.Bus) {
	bus := events.NewBus()
	return NewRegistry(bus, slog.Default()), bus
}

func update(addr string, v float64) events.Update {
	return events.NewUpdate(addr, "price_update", v, time.Now())
}

func TestExceeds(t *testing.T) {
	assert.True(t, Exceeds(58, 0.05))  // 8 > 2.5
	assert.False(t, Exceeds(51, 0.05)) // 1 <= 2.5
	assert.True(t, Exceeds(40, 0.05))
	assert.False(t, Exceeds(52.5, 0.05), "equal to the band does not fire")
	assert.False(t, Exceeds(99, 1))
}

func TestEvaluateFiresOnBusAndCallback(t *testing.T) {
	r, bus := newTestRegistry()

	var onBus []events.Alert
	bus.SubscribeAlerts(func(a events.Alert) { onBus = append(onBus, a) })

	var direct []events.Alert
	r.Register("0xpool", Rule{Type: TypePriceChange, Threshold: 0.05, Callback: func(a events.Alert) {
		direct = append(direct, a)
	}})

	fired := r.Evaluate("0xpool", update("0xpool", 58))
	require.Len(t, fired, 1)
	a := fired[0]
	assert.Equal(t, events.SeverityHigh, a.Severity)
	assert.Equal(t, TypePriceChange, a.Type)
	assert.Equal(t, "0xpool", a.Address)
	require.NotNil(t, a.Value)
	assert.Equal(t, 58.0, *a.Value)

	assert.Len(t, onBus, 1)
	// The callback hears the bus delivery and the direct one.
	assert.Len(t, direct, 2)
	assert.Equal(t, direct[0].ID, direct[1].ID)
}

func TestEvaluateBelowThreshold(t *testing.T) {
	r, bus := newTestRegistry()
	count := 0
	bus.SubscribeAlerts(func(events.Alert) { count++ })
	r.Register("0xpool", Rule{Type: TypePriceChange, Threshold: 0.05})

	assert.Empty(t, r.Evaluate("0xpool", update("0xpool", 51)))
	assert.Equal(t, 0, count)
}

func TestEvaluateIgnoresOtherAddressesAndTypes(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register("0xpool", Rule{Type: TypeLiquidityDrop, Threshold: 0})
	r.Register("0xpool2", Rule{Type: TypePriceChange, Threshold: 0})
	r.Register("0xpoo", Rule{Type: TypePriceChange, Threshold: 0})

	assert.Empty(t, r.Evaluate("0xpool", update("0xpool", 99)))
}

func TestRegisterReplacesSameKey(t *testing.T) {
	r, bus := newTestRegistry()
	oldCalls, newCalls := 0, 0

	r.Register("0xa", Rule{Type: TypePriceChange, Threshold: 0.9, Callback: func(events.Alert) { oldCalls++ }})
	r.Register("0xa", Rule{Type: TypePriceChange, Threshold: 0.05, Callback: func(events.Alert) { newCalls++ }})

	rules := r.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, 0.05, rules[0].Threshold)
	assert.Equal(t, 1, bus.Subscribers(events.TopicAlert))

	r.Evaluate("0xa", update("0xa", 60))
	assert.Equal(t, 0, oldCalls)
	assert.Equal(t, 2, newCalls)
}

func TestDifferentTypesCoexist(t *testing.T) {
	r, _ := newTestRegistry()
	r.Register("0xa", Rule{Type: TypePriceChange, Threshold: 0.1})
	r.Register("0xa", Rule{Type: TypeVolumeSpike, Threshold: 0.2})

	rules := r.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, TypePriceChange, rules[0].Type)
	assert.Equal(t, TypeVolumeSpike, rules[1].Type)
}

func TestRemove(t *testing.T) {
	r, bus := newTestRegistry()
	r.Register("0xa", Rule{Type: TypePriceChange, Threshold: 0.1, Callback: func(events.Alert) {}})

	assert.True(t, r.Remove("0xa", TypePriceChange))
	assert.False(t, r.Remove("0xa", TypePriceChange))
	assert.Empty(t, r.Rules())
	assert.Equal(t, 0, bus.Subscribers(events.TopicAlert))
}

func TestValidType(t *testing.T) {
	for _, typ := range []string{TypePriceChange, TypeLiquidityDrop, TypeVolumeSpike, TypeRiskIncrease} {
		assert.True(t, ValidType(typ), typ)
	}
	assert.False(t, ValidType("opportunity"))
	assert.Equal(t, "price_change", NormalizeType("  Price_Change "))
}
