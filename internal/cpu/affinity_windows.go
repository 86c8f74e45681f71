//go:build windows

package cpu

import (
	"context"
	"math/bits"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32               = windows.NewLazySystemDLL("kernel32.dll")
	getProcessAffinityMask = kernel32.NewProc("GetProcessAffinityMask")
	setProcessAffinityMask = kernel32.NewProc("SetProcessAffinityMask")
)

// affinityCount counts the bits of the current process affinity mask.
func affinityCount() (int, error) {
	var processMask, systemMask uintptr
	r, _, err := getProcessAffinityMask.Call(
		uintptr(windows.CurrentProcess()),
		uintptr(unsafe.Pointer(&processMask)),
		uintptr(unsafe.Pointer(&systemMask)),
	)
	if r == 0 {
		return 0, err
	}
	return bits.OnesCount64(uint64(processMask)), nil
}

// PinProcess restricts process pid to a single core.
func PinProcess(pid, core int) error {
	numCPU := runtime.NumCPU()
	if core < 0 || core >= numCPU {
		core = ((core % numCPU) + numCPU) % numCPU
	}

	h, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION|windows.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)

	r, _, callErr := setProcessAffinityMask.Call(uintptr(h), uintptr(1)<<uint(core))
	if r == 0 {
		return callErr
	}
	return nil
}

// physicalCount sums NumberOfCores over all sockets as reported by wmic.
func physicalCount() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "wmic", "CPU", "Get", "NumberOfCores", "/Format:csv").Output()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "Node,NumberOfCores" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
