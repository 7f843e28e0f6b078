package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInitialStatuses(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"orch", "vision", "nav", "web", "code", "research", "security"}, r.IDs())

	want := map[string]Status{
		Orchestrator: StatusIdle,
		Vision:       StatusIdle,
		Navigator:    StatusIdle,
		WebReader:    StatusReady,
		Coding:       StatusIdle,
		Research:     StatusIdle,
		Security:     StatusReady,
	}
	for id, status := range want {
		rec, ok := r.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, status, rec.Status, id)
	}
}

func TestRegistrySetStatus(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.SetStatus(Navigator, StatusWorking))
	rec, _ := r.Get(Navigator)
	assert.Equal(t, StatusWorking, rec.Status)

	assert.False(t, r.SetStatus("ghost", StatusReady))
	assert.False(t, r.Has("ghost"))
	assert.False(t, r.SetStatus(Navigator, Status("asleep")))
	assert.Len(t, r.List(), 7)
}

func TestRegistryCloneIsIndependent(t *testing.T) {
	r := NewRegistry()
	c := r.Clone()
	r.SetStatus(Vision, StatusWorking)

	rec, _ := c.Get(Vision)
	assert.Equal(t, StatusIdle, rec.Status)

	list := r.List()
	list[0].Status = StatusReady
	rec, _ = r.Get(Orchestrator)
	assert.Equal(t, StatusIdle, rec.Status)
}
