package deeplink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderLinks(t *testing.T) {
	b := NewBuilder("https://hive.example.com")

	assert.True(t, b.Enabled())
	assert.Equal(t, "https://hive.example.com/tasks/task-1", b.Task("task-1"))
	assert.Equal(t, "https://hive.example.com/channels/ch-1", b.Channel("ch-1"))
	assert.Equal(t, "https://hive.example.com/epics/epic-1", b.Epic("epic-1"))
	assert.Equal(t, "https://hive.example.com/agents/queen", b.Agent("queen"))
}

func TestBuilderTrimsTrailingSlash(t *testing.T) {
	b := NewBuilder("  https://hive.example.com// ")

	assert.Equal(t, "https://hive.example.com/tasks/task-1", b.Task("task-1"))
}

func TestBuilderDisabled(t *testing.T) {
	b := NewBuilder("")

	assert.False(t, b.Enabled())
	assert.Empty(t, b.Task("task-1"))
	assert.Empty(t, b.Channel("ch-1"))
	assert.Empty(t, b.Epic("epic-1"))
	assert.Empty(t, b.Agent("queen"))
}

func TestBuilderEmptyID(t *testing.T) {
	b := NewBuilder("https://hive.example.com")

	assert.Empty(t, b.Task(""))
	assert.Empty(t, b.Channel(""))
	assert.Empty(t, b.Epic(""))
	assert.Empty(t, b.Agent(""))
}
