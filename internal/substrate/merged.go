package substrate

// MergedComm is the communicator a CollectiveBroker and its spawned
// CollectiveWorkers share once the broker's own group has merged with the
// point-to-point link to its parent, mirroring MPI's Merge(...) step in the
// original implementation. In this substrate a merge has no separate wire
// representation: the broker simply runs its own WSComm listener for the
// sub-group it spawned, with itself fixed at rank 0 and its children at
// ranks 1..size-1, so root is always rank 0 uniformly — this resolves the
// shared-root ambiguity the original implementation had between
// root=merged_rank and root=0.
type MergedComm struct {
	*WSComm
}

// NewMergedBroker starts listening for the sub-group this broker spawned.
// size includes the broker itself at rank 0.
func NewMergedBroker(addr string, size int) (*MergedComm, <-chan struct{}, error) {
	c, ready, err := NewControllerComm(addr, size)
	if err != nil {
		return nil, nil, err
	}
	return &MergedComm{WSComm: c}, ready, nil
}

// NewMergedWorker dials into the broker's sub-group as the given rank.
func NewMergedWorker(addr string, rank, size int) (*MergedComm, error) {
	c, err := NewWorkerComm(addr, rank, size)
	if err != nil {
		return nil, err
	}
	return &MergedComm{WSComm: c}, nil
}
