package substrate

import (
	"fmt"
	"os"
	"os/exec"
)

// SpawnArgs describes one child process to launch in place of
// MPI_Comm_spawn. The child is the same binary re-invoked with a role
// marker; it discovers its rank/parent address from environment variables
// rather than a shared MPI runtime.
type SpawnArgs struct {
	// Path to the executable to spawn; typically os.Args[0].
	Path string
	// ParentAddr is the controller-or-broker address the child dials.
	ParentAddr string
	// Rank is the rank the child should assume within the spawned group.
	Rank int
	// Size is the total size of the spawned group.
	Size int
	// Verbose mirrors the runner's verbose flag into the child.
	Verbose bool
	// Extra environment variables layered on top of the role markers.
	Env []string
}

// Env variable names a spawned child reads at startup to bootstrap itself,
// replacing the original module-level "distwq:spawned" argv sentinel.
const (
	EnvSpawned    = "DISTWQ_SPAWNED"
	EnvParentAddr = "DISTWQ_PARENT_ADDR"
	EnvRank       = "DISTWQ_RANK"
	EnvSize       = "DISTWQ_SIZE"
	EnvVerbose    = "DISTWQ_VERBOSE"
)

// Spawn launches a child distwq process with os/exec, the only mechanism
// available in a Go process for starting a new OS process in place of
// MPI_Comm_spawn; the child reports back over its own WSComm dial rather
// than over an inherited pipe.
func Spawn(args SpawnArgs) (*exec.Cmd, error) {
	verbose := "0"
	if args.Verbose {
		verbose = "1"
	}
	cmd := exec.Command(args.Path)
	cmd.Env = append(os.Environ(),
		EnvSpawned+"=1",
		fmt.Sprintf("%s=%s", EnvParentAddr, args.ParentAddr),
		fmt.Sprintf("%s=%d", EnvRank, args.Rank),
		fmt.Sprintf("%s=%d", EnvSize, args.Size),
		EnvVerbose+"="+verbose,
	)
	cmd.Env = append(cmd.Env, args.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("substrate: spawn child: %w", err)
	}
	return cmd, nil
}

// SpawnedFromEnv reports whether the current process was started by Spawn,
// and if so, returns the bootstrap parameters it was given.
func SpawnedFromEnv() (args SpawnArgs, ok bool) {
	if os.Getenv(EnvSpawned) != "1" {
		return SpawnArgs{}, false
	}
	var rank, size int
	fmt.Sscanf(os.Getenv(EnvRank), "%d", &rank)
	fmt.Sscanf(os.Getenv(EnvSize), "%d", &size)
	return SpawnArgs{
		ParentAddr: os.Getenv(EnvParentAddr),
		Rank:       rank,
		Size:       size,
		Verbose:    os.Getenv(EnvVerbose) == "1",
	}, true
}
