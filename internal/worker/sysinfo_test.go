package worker

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"androcompute/pkg/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHostProbeReadsFixtures(t *testing.T) {
	root := t.TempDir()
	proc := filepath.Join(root, "proc")
	sys := filepath.Join(root, "sys")

	writeFile(t, filepath.Join(proc, "cpuinfo"), "processor\t: 0\nmodel name\t: test\n\nprocessor\t: 1\nmodel name\t: test\n\n")
	writeFile(t, filepath.Join(proc, "meminfo"), "MemTotal:        2048 kB\nMemFree:         1024 kB\n")
	writeFile(t, filepath.Join(proc, "loadavg"), "0.75 0.50 0.25 2/321 4242\n")

	writeFile(t, filepath.Join(sys, "class", "power_supply", "AC", "type"), "Mains\n")
	writeFile(t, filepath.Join(sys, "class", "power_supply", "BAT0", "type"), "Battery\n")
	writeFile(t, filepath.Join(sys, "class", "power_supply", "BAT0", "capacity"), "42\n")
	writeFile(t, filepath.Join(sys, "class", "power_supply", "BAT0", "status"), "Discharging\n")

	p := NewHostProbe(nil)
	p.ProcRoot, p.SysRoot = proc, sys
	res := p.Snapshot()

	assert.Equal(t, 2, res[model.ResCPUCores])
	assert.Equal(t, uint64(2048*1024), res[model.ResMemoryTotal])
	assert.Equal(t, 0.75, res[model.ResLoad1m])
	assert.Equal(t, 42, res[model.ResBatteryLevel])
	assert.Equal(t, false, res[model.ResIsCharging])
}

func TestHostProbeDefaults(t *testing.T) {
	root := t.TempDir()
	p := NewHostProbe(nil)
	p.ProcRoot, p.SysRoot = filepath.Join(root, "proc"), filepath.Join(root, "sys")

	res := p.Snapshot()
	assert.Equal(t, runtime.NumCPU(), res[model.ResCPUCores])
	assert.NotContains(t, res, model.ResMemoryTotal)
	assert.NotContains(t, res, model.ResLoad1m)
	assert.Equal(t, defaultBatteryLevel, res[model.ResBatteryLevel])
	assert.Equal(t, defaultCharging, res[model.ResIsCharging])
}
