package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingTypeOnly(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	bus.Subscribe(JobFailed, func(e *Event) { got = append(got, e) })

	bus.Emit("queue", &JobStatusData{JobID: "a", Status: "queued"})
	bus.Emit("queue", &JobStatusData{JobID: "b", Status: "failed", Error: "boom"})
	bus.Emit("queue", &JobStatusData{JobID: "c", Status: "completed"})

	require.Len(t, got, 1)
	assert.Equal(t, JobFailed, got[0].Type)
	assert.Equal(t, "queue", got[0].Source)
	data, ok := got[0].Data.(*JobStatusData)
	require.True(t, ok)
	assert.Equal(t, "b", data.JobID)
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var types []EventType
	bus.SubscribeAll(func(e *Event) { types = append(types, e.Type) })

	bus.Emit("queue", &JobStatusData{Status: "queued"})
	bus.Emit("queue", &JobStatusData{Status: "started"})
	bus.Emit("scheduler", &ScheduleChangedData{ScheduledJobID: "s1"})
	bus.Emit("scheduler", &ScheduleChangedData{ScheduledJobID: "s1", Removed: true})

	assert.Equal(t, []EventType{JobQueued, JobStarted, ScheduleCreated, ScheduleRemoved}, types)
}

func TestSubscribeAllUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var first, second int
	unsubscribe := bus.SubscribeAll(func(e *Event) { first++ })
	bus.SubscribeAll(func(e *Event) { second++ })

	bus.Emit("queue", &JobStatusData{Status: "queued"})
	unsubscribe()
	bus.Emit("queue", &JobStatusData{Status: "completed"})

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestEmitStampsTimestamp(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got *Event
	bus.Subscribe(JobQueued, func(e *Event) { got = e })

	bus.Emit("queue", &JobStatusData{Status: "queued"})
	require.NotNil(t, got)
	assert.False(t, got.Timestamp.IsZero())
}

func TestEmitWithoutSubscribersIsHarmless(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	assert.NotPanics(t, func() {
		bus.Emit("queue", &JobStatusData{Status: "queued"})
	})
}
