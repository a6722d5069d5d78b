package distwq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distwq/distwq/internal/substrate"
)

// singleRankComm is a minimal substrate.Comm stub for the degenerate
// no-worker path (Size()==1), where the controller never sends/receives
// anything and executes calls synchronously via submitLocal.
type singleRankComm struct{}

func (singleRankComm) Rank() int { return 0 }
func (singleRankComm) Size() int { return 1 }
func (singleRankComm) Send(dest int, tag substrate.MessageTag, v interface{}) error {
	panic("singleRankComm: Send should never be called with no workers")
}
func (singleRankComm) Recv(ctx context.Context) (substrate.Envelope, error) {
	panic("singleRankComm: Recv should never be called with no workers")
}
func (singleRankComm) IProbe() (substrate.Envelope, error) {
	return substrate.Envelope{}, substrate.ErrNoMessage
}
func (singleRankComm) Abort(reason error) {}
func (singleRankComm) Close() error       { return nil }

func newTestController(t *testing.T) *Controller {
	t.Helper()
	registry := NewRegistry()
	registry.Register("m", "double", func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return args[0].(int) * 2, nil
	})
	return NewController(singleRankComm{}, registry, nil)
}

func TestSubmitCallRejectsNonPositiveTimeEst(t *testing.T) {
	c := newTestController(t)
	_, err := c.SubmitCall(context.Background(), "m", "double", []interface{}{1}, nil, 0, nil)
	require.Error(t, err)
	var ci *ConfigInvalidError
	assert.ErrorAs(t, err, &ci)
}

func TestSubmitCallNoWorkersRunsLocally(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	id, err := c.SubmitCall(ctx, "m", "double", []interface{}{21}, nil, 1.0, nil)
	require.NoError(t, err)

	val, err := c.GetResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestSubmitCallExplicitIDDuplicateRejected(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	id := TaskID(100)
	_, err := c.SubmitCall(ctx, "m", "double", []interface{}{1}, nil, 1.0, &id)
	require.NoError(t, err)

	_, err = c.SubmitCall(ctx, "m", "double", []interface{}{2}, nil, 1.0, &id)
	require.Error(t, err)
	var dup *DuplicateIDError
	assert.ErrorAs(t, err, &dup)
}

func TestGetResultEvictsOnRetrieve(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	id, err := c.SubmitCall(ctx, "m", "double", []interface{}{5}, nil, 1.0, nil)
	require.NoError(t, err)

	_, err = c.GetResult(ctx, id)
	require.NoError(t, err)

	// Second retrieval for the same id: it is no longer "assigned" nor
	// present in results, so GetResult fails with ErrOutOfOrder instead of
	// waiting. The short-lived context keeps the test from blocking forever
	// if it ever waited again.
	shortCtx, cancel := context.WithTimeout(ctx, 0)
	defer cancel()
	_, err = c.GetResult(shortCtx, id)
	assert.Error(t, err)
}

func TestGetNextResultDrainsInSubmissionOrder(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	var ids []TaskID
	for i := 1; i <= 3; i++ {
		id, err := c.SubmitCall(ctx, "m", "double", []interface{}{i}, nil, 1.0, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for i, want := range ids {
		id, val, ok, err := c.GetNextResult(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, id)
		assert.Equal(t, (i+1)*2, val)
	}

	_, _, ok, err := c.GetNextResult(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInfoReportsMeanOverEstimate(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	id, err := c.SubmitCall(ctx, "m", "double", []interface{}{1}, nil, 1.0, nil)
	require.NoError(t, err)
	_, err = c.GetResult(ctx, id)
	require.NoError(t, err)

	rs := c.Info()
	assert.Equal(t, int64(1), rs.NProcessed[0])
	assert.GreaterOrEqual(t, rs.Mean, 0.0)
}
