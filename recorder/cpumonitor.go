package recorder

import "github.com/prometheus/procfs"

// clkTck is the kernel's USER_HZ, used to convert /proc/[pid]/stat's
// tick-denominated utime/stime into seconds so they're comparable with
// /proc/stat's already-normalized CPUStat fields. 100 is the value on
// every architecture Linux actually ships (_SC_CLK_TCK), so this avoids
// a cgo call to sysconf for a constant that never varies in practice.
const clkTck = 100.0

// cpuMonitor samples process and machine CPU time once per
// Recorder.CPUTick call (the engine's TickInterval ticker) and turns
// the deltas into the three ratios a CPU_LOAD event
// carries (spec.md §4.6 "CPU monitor"). Grounded on procfs's exposed
// /proc/stat and /proc/self/stat readings — the teacher's own CPU
// accounting lived in eBPF-collected kernel counters, out of reach for
// a userspace Go profiler, so this samples the same `/proc` counters
// the teacher's metrics/symtab code already treats as authoritative
// process accounting (SPEC_FULL.md §3 domain-stack table).
type cpuMonitor struct {
	fs   procfs.FS
	self procfs.Proc
	ok   bool

	prevProcUser   float64
	prevProcSystem float64
	prevMachine    float64
	prevIdle       float64
}

// newCPUMonitor opens the default procfs mount and caches a handle to
// the current process. If procfs is unavailable (e.g. non-Linux), the
// monitor degrades to always reporting zero ratios rather than erroring.
func newCPUMonitor() *cpuMonitor {
	m := &cpuMonitor{}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return m
	}
	self, err := fs.Self()
	if err != nil {
		return m
	}
	m.fs, m.self, m.ok = fs, self, true
	return m
}

// CPULoad is the payload for a CPU_LOAD event (spec.md §4.6).
type CPULoad struct {
	ProcUserRatio     float64
	ProcSystemRatio   float64
	MachineTotalRatio float64
}

// Sample reads current counters and returns the ratios accumulated
// since the previous Sample call, clamped to [0,1]. MachineTotalRatio
// is floored at ProcUserRatio+ProcSystemRatio to correct for small
// sampling skew between the two counter sources (spec.md §4.6
// "machine_total is floored at proc_user + proc_system").
func (m *cpuMonitor) Sample() CPULoad {
	if !m.ok {
		return CPULoad{}
	}

	pstat, err := m.self.Stat()
	if err != nil {
		return CPULoad{}
	}
	stat, err := m.fs.Stat()
	if err != nil {
		return CPULoad{}
	}

	// ProcStat times are in clock ticks; CPUTotal fields are already
	// normalized to seconds by procfs, so convert before comparing them.
	procUser := float64(pstat.UTime) / clkTck
	procSystem := float64(pstat.STime) / clkTck
	machine := machineTotal(stat.CPUTotal)
	idle := stat.CPUTotal.Idle + stat.CPUTotal.Iowait

	dUser := procUser - m.prevProcUser
	dSystem := procSystem - m.prevProcSystem
	dMachine := machine - m.prevMachine
	dIdle := idle - m.prevIdle

	m.prevProcUser, m.prevProcSystem, m.prevMachine, m.prevIdle = procUser, procSystem, machine, idle

	if dMachine <= 0 {
		return CPULoad{}
	}

	userRatio := clamp01(dUser / dMachine)
	systemRatio := clamp01(dSystem / dMachine)
	machineRatio := clamp01(1 - dIdle/dMachine)
	if floor := userRatio + systemRatio; machineRatio < floor {
		machineRatio = floor
	}

	return CPULoad{
		ProcUserRatio:     userRatio,
		ProcSystemRatio:   systemRatio,
		MachineTotalRatio: machineRatio,
	}
}

func machineTotal(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
