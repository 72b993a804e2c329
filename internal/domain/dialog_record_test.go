package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnRecords_PersistedLayout(t *testing.T) {
	records := ToRecords([]Turn{UserTurn("hello"), ModelTurn("hi there")})

	raw, err := json.Marshal(records)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user","parts":[{"text":"hello"}]},{"role":"model","parts":[{"text":"hi there"}]}]`, string(raw))
}

func TestFromRecords_JoinsParts(t *testing.T) {
	turns := FromRecords([]TurnRecord{
		{Role: RoleModel, Parts: []TurnPart{{Text: "first "}, {Text: "second"}}},
		{Role: RoleUser},
	})
	assert.Equal(t, []Turn{ModelTurn("first second"), UserTurn("")}, turns)
}

func TestValidateTurns(t *testing.T) {
	assert.NoError(t, ValidateTurns([]Turn{UserTurn("a"), ModelTurn("b")}))
	assert.Error(t, ValidateTurns([]Turn{{Role: "assistant", Text: "x"}}))
}
