package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/coop/internal/core/models"
)

func TestJoinRequiresAddr(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"join"})
	assert.ErrorIs(t, cmd.Execute(), errNoAddr)
}

func TestHostRejectsMemoryTransport(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"host", "--transport", "memory", "--log-level", "error"})
	assert.ErrorIs(t, cmd.Execute(), errMemoryTransport)
}

func TestInvalidTransportFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"host", "--transport", "tcp"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.kind")
}

func TestDemoWorldLayoutIsSharedByName(t *testing.T) {
	a := newDemoWorld(1)
	b := newDemoWorld(2)
	a.load("harbor", 0)
	b.load("harbor", 0)

	require.Len(t, a.handles, demoActors)
	require.Len(t, b.handles, demoActors)
	for i := range a.handles {
		ia, _ := a.world.Actor(a.handles[i])
		ib, _ := b.world.Actor(b.handles[i])
		assert.Equal(t, ia.Type, ib.Type)
		assert.Equal(t, ia.Position, ib.Position)
	}

	a.load("harbor", 0)
	assert.Equal(t, demoActors+1, a.world.Len(), "reload replaces the previous actors")
	_, ok := a.world.PlayerHandle(models.PeerID(1))
	assert.True(t, ok)
}
