package pool

import "github.com/utkarsh5026/goloky/internal/cpu"

// MaxCPUCountEnv caps CPUCount when set to a positive integer.
const MaxCPUCountEnv = cpu.MaxCPUCountEnv

// CPUCount returns the number of CPUs the current process can use.
//
// The result is the smallest of the host's logical CPU count, the process
// affinity mask, the cgroup CPU quota (rounded up) and LOKY_MAX_CPU_COUNT,
// and never less than 1. With physicalOnly set, the physical core count
// is returned instead unless one of those constraints already applies.
// An invalid LOKY_MAX_CPU_COUNT is reported as an *EnvError.
func CPUCount(physicalOnly bool) (int, error) {
	return cpu.Count(physicalOnly)
}
