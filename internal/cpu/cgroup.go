package cpu

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// cgroupLimit derives a CPU count from the CFS bandwidth quota. cgroup v1
// exposes quota and period as two files, v2 packs them into cpu.max. The
// count is rounded up so a quota of 1.5 CPUs still yields two workers.
func cgroupLimit(root string) (int, bool) {
	if root == "" {
		return 0, false
	}

	quota, okQuota := readInt(filepath.Join(root, "cpu", "cpu.cfs_quota_us"))
	period, okPeriod := readInt(filepath.Join(root, "cpu", "cpu.cfs_period_us"))
	if okQuota && okPeriod {
		return ceilDiv(quota, period)
	}

	raw, err := os.ReadFile(filepath.Join(root, "cpu.max"))
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(raw))
	if len(fields) != 2 || fields[0] == "max" {
		return 0, false
	}
	quota, errQuota := strconv.ParseInt(fields[0], 10, 64)
	period, errPeriod := strconv.ParseInt(fields[1], 10, 64)
	if errQuota != nil || errPeriod != nil {
		return 0, false
	}
	return ceilDiv(quota, period)
}

func ceilDiv(quota, period int64) (int, bool) {
	if quota <= 0 || period <= 0 {
		return 0, false
	}
	return int((quota + period - 1) / period), true
}

func readInt(path string) (int64, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
