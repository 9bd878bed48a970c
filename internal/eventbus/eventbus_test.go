package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestNewEnvelope(t *testing.T) {
	payload := PathPayload{GridID: "g1", Start: r3.Vec{X: 1}, Goal: r3.Vec{Z: 2}, Cost: 3, Expanded: 4}
	ev, err := NewEnvelope(EventPathFound, "test", 3, payload)
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, EventPathFound, ev.EventType)
	assert.Equal(t, PayloadVersion, ev.Version)
	assert.Equal(t, time.UTC, ev.Timestamp.Location())

	var decoded PathPayload
	require.NoError(t, ev.Decode(&decoded))
	assert.Equal(t, payload, decoded)

	_, err = NewEnvelope(EventPathFound, "test", 3, make(chan int))
	assert.Error(t, err, "Несериализуемый payload должен давать ошибку")
}

func TestMemoryBus_FilteredDelivery(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	received := make(chan struct{}, 4)

	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventGridGenerated}}, func(ctx context.Context, ev *Envelope) {
		mu.Lock()
		got = append(got, ev.EventType)
		mu.Unlock()
		received <- struct{}{}
	})
	require.NoError(t, err)

	for _, typ := range []string{EventPathFound, EventGridGenerated, EventPathNotFound} {
		ev, err := NewEnvelope(typ, "test", 1, GridDeletedPayload{GridID: "x"})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("Событие не доставлено")
	}

	assert.Eventually(t, func() bool {
		return bus.Metrics().Published == 3 && bus.Metrics().Consumed == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{EventGridGenerated}, got, "Подписчик получает только отфильтрованные типы")
	mu.Unlock()
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()

	calls := make(chan struct{}, 4)
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		calls <- struct{}{}
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), &Envelope{EventType: EventPathFound}))
	assert.Eventually(t, func() bool { return bus.Metrics().InFlight == 0 }, time.Second, 5*time.Millisecond)

	select {
	case <-calls:
		t.Fatal("Отписанный обработчик не должен вызываться")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus(1)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "Повторное закрытие безопасно")

	err := bus.Publish(context.Background(), &Envelope{EventType: EventPathFound})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMatchFilter(t *testing.T) {
	ev := &Envelope{EventType: EventPathFound, Source: "nav"}
	assert.True(t, matchFilter(ev, Filter{}))
	assert.True(t, matchFilter(ev, Filter{Types: []string{EventPathNotFound, EventPathFound}}))
	assert.False(t, matchFilter(ev, Filter{Types: []string{EventGridDeleted}}))
	assert.False(t, matchFilter(ev, Filter{Sources: []string{"other"}}))
}

type staticBus struct {
	EventBus
	stats Stats
}

func (s *staticBus) Metrics() Stats { return s.stats }

func TestMetricsExporter_Collect(t *testing.T) {
	bus := &staticBus{stats: Stats{Published: 5, Consumed: 3, Dropped: 1, InFlight: 2}}
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)

	me.Collect()
	assert.Equal(t, 5.0, testutil.ToFloat64(me.published))
	assert.Equal(t, 2.0, testutil.ToFloat64(me.inflight))

	bus.stats = Stats{Published: 8, Consumed: 3, Dropped: 1}
	me.Collect()
	assert.Equal(t, 8.0, testutil.ToFloat64(me.published), "Счётчик увеличивается на дельту")
	assert.Equal(t, 3.0, testutil.ToFloat64(me.consumed))
	assert.Equal(t, 1.0, testutil.ToFloat64(me.dropped))
	assert.Equal(t, 0.0, testutil.ToFloat64(me.inflight))

	me.Start(5 * time.Millisecond)
	me.Stop()
	me.Stop()
}
