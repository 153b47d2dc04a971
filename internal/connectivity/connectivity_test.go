package connectivity

import (
	"context"
	"errors"
	"testing"

	"github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/require"
)

func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor(EventBus.New(), nil)
	require.False(t, m.IsOnline())
}

func TestSetOnlinePublishesTransitionsOnly(t *testing.T) {
	bus := EventBus.New()
	var transitions []bool
	require.NoError(t, bus.Subscribe(TopicChanged, func(online bool) {
		transitions = append(transitions, online)
	}))

	m := NewMonitor(bus, nil)

	m.SetOnline(true)
	m.SetOnline(true) // no transition, no event
	m.SetOnline(false)

	require.Equal(t, []bool{true, false}, transitions)
	require.False(t, m.IsOnline())
}

func TestCheckFoldsProbeResult(t *testing.T) {
	probeErr := error(nil)
	m := NewMonitor(EventBus.New(), func(context.Context) error { return probeErr })

	m.Check(context.Background())
	require.True(t, m.IsOnline())

	probeErr = errors.New("link down")
	m.Check(context.Background())
	require.False(t, m.IsOnline())
}

func TestCheckWithoutProbeIsNoop(t *testing.T) {
	m := NewMonitor(EventBus.New(), nil)
	m.SetOnline(true)

	m.Check(context.Background())
	require.True(t, m.IsOnline())
}
