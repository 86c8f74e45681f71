//go:build darwin

package cpu

import "golang.org/x/sys/unix"

// affinityCount is unavailable on macOS: there is no affinity mask to read.
func affinityCount() (int, error) {
	return 0, ErrUnsupported
}

// PinProcess cannot pin processes on macOS.
func PinProcess(pid, core int) error {
	return ErrUnsupported
}

func physicalCount() (int, error) {
	n, err := unix.SysctlUint32("hw.physicalcpu")
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
