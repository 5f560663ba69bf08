package ingestor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineHappyPath(t *testing.T) {
	var lines []string
	m := newMachine(func(f string, v ...any) { lines = append(lines, fmt.Sprintf(f, v...)) })

	for _, s := range []State{StateSchemaReady, StateDedupVersionReady, StateMerged, StateDone} {
		require.NoError(t, m.advance(s))
	}
	assert.Equal(t, StateDone, m.state)
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "state=NEW next=SCHEMA_READY")
	assert.Error(t, m.advance(StateFailed), "DONE is terminal")
}

func TestMachineRejectsSkips(t *testing.T) {
	m := newMachine(func(string, ...any) {})
	assert.Error(t, m.advance(StateMerged))
	assert.Error(t, m.advance(StateNew))
	assert.Equal(t, StateNew, m.state)
}

func TestMachineFailsFromAnyActiveState(t *testing.T) {
	for _, path := range [][]State{
		nil,
		{StateSchemaReady},
		{StateSchemaReady, StateDedupVersionReady},
		{StateSchemaReady, StateDedupVersionReady, StateMerged},
	} {
		m := newMachine(func(string, ...any) {})
		for _, s := range path {
			require.NoError(t, m.advance(s))
		}
		require.NoError(t, m.advance(StateFailed), "from %s", m.state)
		assert.Error(t, m.advance(StateFailed))
		assert.Error(t, m.advance(StateDone))
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "DEDUP_VERSION_READY", StateDedupVersionReady.String())
	assert.Equal(t, "State(9)", State(9).String())
}
