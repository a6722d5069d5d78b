package distwq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolveRegistered(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("mymod", "do_work", func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		called = true
		return 42, nil
	})

	fn, err := r.Resolve("mymod", "do_work")
	require.NoError(t, err)

	val, err := fn(nil, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 42, val)
}

func TestRegistryResolveUnregisteredIsProtocolViolation(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("mymod", "missing")
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	var pv *ProtocolViolationError
	assert.ErrorAs(t, err, &pv)
}

func TestRegistryReRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Register("m", "f", func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return "first", nil
	})
	r.Register("m", "f", func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return "second", nil
	})

	fn, err := r.Resolve("m", "f")
	require.NoError(t, err)
	val, _ := fn(nil, nil)
	assert.Equal(t, "second", val)
}

func TestRegistryEmptyModuleKey(t *testing.T) {
	r := NewRegistry()
	r.Register("", "bare", func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
	_, err := r.Resolve("", "bare")
	assert.NoError(t, err)
}
