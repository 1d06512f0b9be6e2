package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(turns []Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Text
	}
	return out
}

func TestHistory_NeverExceedsLimit(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 7} {
		h := NewHistory(limit)
		for i := 0; i < 25; i++ {
			h.Append(NewTurn(RoleUser, fmt.Sprintf("m%d", i)))
			assert.LessOrEqual(t, len(h.Snapshot()), limit, "limit %d after %d appends", limit, i+1)
		}
	}
}

func TestHistory_EvictsOldestFirst(t *testing.T) {
	h := NewHistory(3)
	var evicted int
	for i := 0; i < 5; i++ {
		evicted += h.Append(NewTurn(RoleUser, fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, 2, evicted)
	assert.Equal(t, []string{"m2", "m3", "m4"}, texts(h.Snapshot()))
}

func TestHistory_UserAssistantUserScenario(t *testing.T) {
	h := NewHistory(2)
	h.Append(NewTurn(RoleUser, "a"))
	h.Append(NewTurn(RoleAssistant, "b"))
	h.Append(NewTurn(RoleUser, "c"))

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, RoleAssistant, snap[0].Role)
	assert.Equal(t, "b", snap[0].Text)
	assert.Equal(t, RoleUser, snap[1].Role)
	assert.Equal(t, "c", snap[1].Text)
}

func TestHistory_ClearEmpties(t *testing.T) {
	h := NewHistory(4)
	h.Append(NewTurn(RoleUser, "a"))
	h.Append(NewTurn(RoleAssistant, "b"))

	h.Clear()

	assert.Empty(t, h.Snapshot())
	assert.Equal(t, 0, h.Len())
}

func TestHistory_SnapshotIsCopy(t *testing.T) {
	h := NewHistory(2)
	h.Append(NewTurn(RoleUser, "a"))

	snap := h.Snapshot()
	snap[0].Text = "changed"

	assert.Equal(t, "a", h.Snapshot()[0].Text)
}

func TestHistory_LoadKeepsMostRecent(t *testing.T) {
	h := NewHistory(2)
	h.Load([]Turn{
		NewTurn(RoleUser, "a"),
		NewTurn(RoleAssistant, "b"),
		NewTurn(RoleUser, "c"),
	})

	assert.Equal(t, []string{"b", "c"}, texts(h.Snapshot()))
}

func TestNewHistory_ClampsLimit(t *testing.T) {
	assert.Equal(t, 1, NewHistory(0).Limit())
}

func TestNew_AssignsIdentifier(t *testing.T) {
	a := New("llamacpp", "phi-2.gguf")
	b := New("llamacpp", "phi-2.gguf")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.StartTime.IsZero())
}
