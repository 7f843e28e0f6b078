package persona

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

func TestLookupAndResolve(t *testing.T) {
	p, ok := Lookup("FRIDAY")
	require.True(t, ok)
	assert.Equal(t, "Kore", p.Voice)

	p, ok = Lookup("theme-ultron")
	require.True(t, ok)
	assert.Equal(t, "Fenrir", p.Voice)

	_, ok = Lookup("vision")
	assert.False(t, ok)
	assert.Equal(t, Jarvis, Resolve("vision").ID)
	assert.Equal(t, Jarvis, Resolve("").ID)
	assert.Equal(t, "Zephyr", Resolve("").Voice)
}

func TestNextCycles(t *testing.T) {
	assert.Equal(t, Friday, Next(Jarvis).ID)
	assert.Equal(t, Ultron, Next(Friday).ID)
	assert.Equal(t, Jarvis, Next(Ultron).ID)
	assert.Equal(t, Jarvis, Next("nope").ID)
}

func TestInstructionWithoutLocation(t *testing.T) {
	got := Instruction(Resolve(Jarvis), "", nil)
	assert.True(t, strings.HasPrefix(got, "You are JARVIS."))
	assert.Contains(t, got, "VISION & SENSORY INPUT:")
	assert.True(t, strings.HasSuffix(got, "CURRENT COORDS: Lat: N/A, Lon: N/A."))
}

func TestInstructionWithKnowledgeAndLocation(t *testing.T) {
	got := Instruction(Resolve(Friday), "  KNOWLEDGE BASE: test  ", &protocol.LatLng{Latitude: 19.8876, Longitude: 86.0945})
	assert.Contains(t, got, "'Boss'")
	assert.Contains(t, got, "\n\nKNOWLEDGE BASE: test\n\n")
	assert.True(t, strings.HasSuffix(got, "CURRENT COORDS: Lat: 19.8876, Lon: 86.0945."))
}
