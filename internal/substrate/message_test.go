package substrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Name  string
	Count int
}

func TestMessageTagString(t *testing.T) {
	assert.Equal(t, "READY", TagReady.String())
	assert.Equal(t, "TASK", TagTask.String())
	assert.Equal(t, "DONE", TagDone.String())
	assert.Equal(t, "EXIT", TagExit.String())
	assert.Contains(t, MessageTag(77).String(), "MessageTag(77)")
}

func TestEncodeDecodeEnvelopeRoundTrip(t *testing.T) {
	want := samplePayload{Name: "do_work", Count: 3}

	data, err := EncodeEnvelope(TagTask, 2, want)
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, TagTask, env.Tag)
	assert.Equal(t, 2, env.Rank)

	var got samplePayload
	require.NoError(t, DecodePayload(env, &got))
	assert.Equal(t, want, got)
}

func TestEncodeEnvelopeNilPayload(t *testing.T) {
	data, err := EncodeEnvelope(TagReady, 1, nil)
	require.NoError(t, err)

	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, TagReady, env.Tag)
	assert.Empty(t, env.Payload)
}

func TestDecodeBytesEmptyIsNoop(t *testing.T) {
	var out samplePayload
	assert.NoError(t, DecodeBytes(nil, &out))
	assert.Equal(t, samplePayload{}, out)
}
