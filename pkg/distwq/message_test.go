package distwq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectiveModeString(t *testing.T) {
	assert.Equal(t, "gather", Gather.String())
	assert.Equal(t, "CollectiveMode(0)", CollectiveMode(0).String())
	assert.Contains(t, CollectiveMode(99).String(), "CollectiveMode(99)")
}

func TestCollectiveModeValid(t *testing.T) {
	assert.True(t, Gather.valid())
	assert.False(t, CollectiveMode(0).valid())
	assert.False(t, CollectiveMode(2).valid())
}
