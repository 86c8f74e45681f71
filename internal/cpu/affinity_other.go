//go:build !linux && !darwin && !windows

package cpu

func affinityCount() (int, error) { return 0, ErrUnsupported }

// PinProcess is a no-op error on platforms without affinity support.
func PinProcess(pid, core int) error { return ErrUnsupported }

func physicalCount() (int, error) { return 0, ErrUnsupported }
