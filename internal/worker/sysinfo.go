package worker

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	linux "github.com/c9s/goprocinfo/linux"
	"go.uber.org/zap"

	"androcompute/pkg/model"
)

// Battery defaults reported by hosts without a battery.
const (
	defaultBatteryLevel = 100
	defaultCharging     = true
)

// HostProbe reads a resource snapshot from procfs and sysfs. The roots are
// configurable so tests can point it at a fixture tree.
type HostProbe struct {
	ProcRoot string
	SysRoot  string
	logger   *zap.Logger
}

func NewHostProbe(logger *zap.Logger) *HostProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostProbe{ProcRoot: "/proc", SysRoot: "/sys", logger: logger.Named("sysinfo")}
}

// Snapshot never fails: unreadable sources fall back to runtime values or
// are left out.
func (p *HostProbe) Snapshot() model.Resources {
	res := model.Resources{
		model.ResCPUCores: runtime.NumCPU(),
	}

	if cpu, err := linux.ReadCPUInfo(filepath.Join(p.ProcRoot, "cpuinfo")); err == nil && cpu.NumCPU() > 0 {
		res[model.ResCPUCores] = cpu.NumCPU()
	} else if err != nil {
		p.logger.Debug("Reading cpuinfo failed", zap.Error(err))
	}

	if mem, err := linux.ReadMemInfo(filepath.Join(p.ProcRoot, "meminfo")); err == nil {
		res[model.ResMemoryTotal] = mem.MemTotal * 1024
	} else {
		p.logger.Debug("Reading meminfo failed", zap.Error(err))
	}

	if load, err := linux.ReadLoadAvg(filepath.Join(p.ProcRoot, "loadavg")); err == nil {
		res[model.ResLoad1m] = load.Last1Min
	} else {
		p.logger.Debug("Reading loadavg failed", zap.Error(err))
	}

	level, charging := p.battery()
	res[model.ResBatteryLevel] = level
	res[model.ResIsCharging] = charging
	return res
}

// battery reports the first power supply of type Battery.
func (p *HostProbe) battery() (int, bool) {
	supplies, err := os.ReadDir(filepath.Join(p.SysRoot, "class", "power_supply"))
	if err != nil {
		return defaultBatteryLevel, defaultCharging
	}
	for _, s := range supplies {
		dir := filepath.Join(p.SysRoot, "class", "power_supply", s.Name())
		if readTrimmed(filepath.Join(dir, "type")) != "Battery" {
			continue
		}
		level, err := strconv.Atoi(readTrimmed(filepath.Join(dir, "capacity")))
		if err != nil {
			continue
		}
		status := readTrimmed(filepath.Join(dir, "status"))
		return level, status == "Charging" || status == "Full"
	}
	return defaultBatteryLevel, defaultCharging
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
