package specialline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	line := SpecialLine{Prefix: "MEDIC"}

	assert.True(t, line.Matches("MEDIC-001"))
	assert.True(t, line.Matches("medic-001"))
	assert.True(t, line.Matches("MEDIC"))

	assert.False(t, line.Matches("MEDI"))
	assert.False(t, line.Matches(""))
	assert.False(t, line.Matches("OTROS-001"))
}
