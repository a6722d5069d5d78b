package substrate

import "context"

// Collective control tags are internal to the substrate's scatter/gather/
// barrier implementation and never appear in distwq's own READY/TASK/DONE/
// EXIT protocol (see message.go); they are the wire equivalent of mpi4py's
// collective calls, which likewise carry no user tag.
const (
	ctrlScatter MessageTag = 100 + iota
	ctrlGather
	ctrlBarrier
)

// group is the subset of Comm that collective operations need; WSComm and
// MergedComm both satisfy it.
type group interface {
	Rank() int
	Size() int
	Send(dest int, tag MessageTag, v interface{}) error
	Recv(ctx context.Context) (Envelope, error)
}

// Barrier blocks every rank until all ranks in the group have entered it.
// Root (rank 0) collects one token from every other rank, then releases
// everyone with a second token — the same two-phase shape
// Ibarrier()+wait uses in the original implementation.
func Barrier(ctx context.Context, g group) error {
	if g.Rank() == 0 {
		for r := 1; r < g.Size(); r++ {
			if _, err := g.Recv(ctx); err != nil {
				return err
			}
		}
		for r := 1; r < g.Size(); r++ {
			if err := g.Send(r, ctrlBarrier, nil); err != nil {
				return err
			}
		}
		return nil
	}
	if err := g.Send(0, ctrlBarrier, nil); err != nil {
		return err
	}
	_, err := g.Recv(ctx)
	return err
}

// Scatter, called by every rank, distributes values[i] (provided by root) to
// rank i. Non-root callers pass a nil values slice and receive their share
// as the return value. Root's own share is values[0].
func Scatter(ctx context.Context, g group, root int, values []interface{}) (interface{}, error) {
	if g.Rank() == root {
		var mine interface{}
		for r := 0; r < g.Size(); r++ {
			if r == root {
				mine = values[r]
				continue
			}
			if err := g.Send(r, ctrlScatter, values[r]); err != nil {
				return nil, err
			}
		}
		return mine, nil
	}
	env, err := g.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return env.Payload, nil
}

// Gather, called by every rank, collects each rank's value at root. Root
// receives the size-1 remote values, indexed by sender rank; its own slot
// holds an Envelope with no payload, since root's value argument is not
// encoded. Non-root callers send their value and return nil.
func Gather(ctx context.Context, g group, root int, value interface{}) ([]Envelope, error) {
	if g.Rank() == root {
		results := make([]Envelope, g.Size())
		results[root] = Envelope{Tag: ctrlGather, Rank: root}
		for r := 0; r < g.Size(); r++ {
			if r == root {
				continue
			}
			env, err := g.Recv(ctx)
			if err != nil {
				return nil, err
			}
			results[env.Rank] = env
		}
		return results, nil
	}
	if err := g.Send(root, ctrlGather, value); err != nil {
		return nil, err
	}
	return nil, nil
}
