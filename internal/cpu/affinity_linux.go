//go:build linux

package cpu

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// affinityCount returns how many CPUs the calling process may run on.
func affinityCount() (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, err
	}
	return set.Count(), nil
}

// PinProcess restricts process pid to a single core. core wraps around the
// logical CPU count so callers can pass a worker index directly.
func PinProcess(pid, core int) error {
	numCPU := runtime.NumCPU()
	if core < 0 || core >= numCPU {
		core = ((core % numCPU) + numCPU) % numCPU
	}

	var mask unix.CPUSet
	mask.Zero()
	mask.Set(core)
	return unix.SchedSetaffinity(pid, &mask)
}

// physicalCount counts distinct (package, core) pairs in sysfs topology.
func physicalCount() (int, error) {
	dirs, err := filepath.Glob("/sys/devices/system/cpu/cpu[0-9]*/topology")
	if err != nil {
		return 0, err
	}

	cores := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		pkg, err := readLine(filepath.Join(dir, "physical_package_id"))
		if err != nil {
			continue
		}
		core, err := readLine(filepath.Join(dir, "core_id"))
		if err != nil {
			continue
		}
		cores[pkg+":"+core] = struct{}{}
	}

	if len(cores) == 0 {
		return 0, unix.ENOENT
	}
	return len(cores), nil
}

func readLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", unix.ENODATA
	}
	return strings.TrimSpace(sc.Text()), nil
}
