// Package cpu works out how many CPUs the current process may actually use.
//
// The answer is the smallest of four signals: the logical CPUs of the host,
// the process affinity mask, the cgroup CPU bandwidth quota and the
// LOKY_MAX_CPU_COUNT soft cap. Platform probes that fail are ignored so the
// result falls back to the host count instead of failing.
package cpu

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// MaxCPUCountEnv names the environment variable holding the soft cap.
const MaxCPUCountEnv = "LOKY_MAX_CPU_COUNT"

// DefaultCgroupRoot is where cgroup controllers are mounted on Linux.
const DefaultCgroupRoot = "/sys/fs/cgroup"

// ErrUnsupported is returned where the OS offers no affinity control.
var ErrUnsupported = errors.New("cpu affinity is not supported on this platform")

// EnvError reports an environment variable whose value cannot be used.
type EnvError struct {
	Name  string
	Value string
	Err   error
}

func (e *EnvError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %v", e.Value, e.Name, e.Err)
}

func (e *EnvError) Unwrap() error { return e.Err }

// Probe bundles the platform queries Count relies on. Tests substitute
// their own functions; DefaultProbe wires the real ones.
type Probe struct {
	NumCPU     func() int
	Affinity   func() (int, error)
	CgroupRoot string
	LookupEnv  func(string) (string, bool)
	Physical   func() (int, bool)
}

// DefaultProbe returns the probe for the running host.
func DefaultProbe() Probe {
	return Probe{
		NumCPU:     runtime.NumCPU,
		Affinity:   affinityCount,
		CgroupRoot: DefaultCgroupRoot,
		LookupEnv:  os.LookupEnv,
		Physical:   PhysicalCores,
	}
}

// Count returns the number of CPUs the process can use on this host.
func Count(physicalOnly bool) (int, error) {
	return DefaultProbe().Count(physicalOnly)
}

// Count applies the sizing rules to the probe's signals. The result is
// never below 1.
//
// With physicalOnly set, the physical core count is returned unless the
// affinity mask, the cgroup quota or the user cap already restrict the
// process below the host count; in that case the affinity count wins.
func (p Probe) Count(physicalOnly bool) (int, error) {
	system := 1
	if p.NumCPU != nil {
		system = max(p.NumCPU(), 1)
	}

	affinity := system
	if p.Affinity != nil {
		if n, err := p.Affinity(); err == nil && n > 0 {
			affinity = n
		}
	}

	bandwidth := system
	if n, ok := cgroupLimit(p.CgroupRoot); ok {
		bandwidth = n
	}

	user := system
	if p.LookupEnv != nil {
		if raw, ok := p.LookupEnv(MaxCPUCountEnv); ok && strings.TrimSpace(raw) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return 0, &EnvError{Name: MaxCPUCountEnv, Value: raw, Err: err}
			}
			user = n
		}
	}

	constrained := min(affinity, bandwidth, user)
	logical := min(system, constrained)

	if !physicalOnly {
		return max(logical, 1), nil
	}

	physical, known := 0, false
	if p.Physical != nil {
		physical, known = p.Physical()
	}

	switch {
	case constrained < system:
		return max(affinity, 1), nil
	case !known:
		return max(logical, 1), nil
	default:
		return max(physical, 1), nil
	}
}

var physicalCache struct {
	once  sync.Once
	count int
	known bool
}

// PhysicalCores reports the number of physical cores. The platform query
// runs at most once per process; later calls return the cached answer.
func PhysicalCores() (int, bool) {
	physicalCache.once.Do(func() {
		n, err := physicalCount()
		if err == nil && n > 0 {
			physicalCache.count, physicalCache.known = n, true
		}
	})
	return physicalCache.count, physicalCache.known
}
