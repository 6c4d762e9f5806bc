package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/agentswarm/internal/common/config"
	"github.com/agentswarm/agentswarm/internal/common/logger"
	"github.com/agentswarm/agentswarm/internal/events/bus"
)

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	return log
}

func TestProvideMemoryBus(t *testing.T) {
	cfg := &config.Config{}

	provided, cleanup, err := Provide(cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, provided.Memory)
	assert.Nil(t, provided.NATS)
	assert.Same(t, provided.Memory, provided.Bus)
	assert.True(t, provided.Bus.IsConnected())

	require.NoError(t, cleanup())
	assert.False(t, provided.Bus.IsConnected())

	err = provided.Bus.Publish(context.Background(), TaskCreated, bus.NewEvent(TaskCreated, "test", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event bus is closed")
}

func TestProvideNATSBusUnreachable(t *testing.T) {
	cfg := &config.Config{}
	cfg.NATS.URL = "nats://127.0.0.1:1"
	cfg.NATS.MaxReconnects = 1

	_, _, err := Provide(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize NATS event bus")
}
