package stats

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/minicloud/minicloud/pkg/gpu"
	"github.com/minicloud/minicloud/pkg/types"
)

// Sampler builds point-in-time resource snapshots for the
// resource-status stream: host CPU and memory from the OS, GPU usage
// from the admission registry (the registry is the source of truth for
// slices, so the numbers users see match what admission enforces).
type Sampler struct {
	gpu *gpu.Controller
}

// NewSampler creates a sampler over the admission controller
func NewSampler(ctrl *gpu.Controller) *Sampler {
	return &Sampler{gpu: ctrl}
}

// Sample reads one resource snapshot
func (s *Sampler) Sample() (*types.ResourceStatus, error) {
	status := &types.ResourceStatus{}

	percents, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percents) > 0 {
		status.CPU.Percent = round1(percents[0])
	}
	cores, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("failed to count cpus: %w", err)
	}
	status.CPU.Cores = cores

	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}
	status.Memory = types.MemoryStatus{
		TotalMB: int64(vm.Total) / (1 << 20),
		UsedMB:  int64(vm.Used) / (1 << 20),
		Percent: round1(vm.UsedPercent),
	}

	snap, err := s.gpu.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to read gpu registry: %w", err)
	}
	status.GPU = []types.GPUStatus{
		{
			ID:            0,
			Name:          "slice-managed",
			MemoryUsedMB:  snap.UsedMB,
			MemoryTotalMB: snap.TotalMB,
			Load:          load(snap),
		},
	}

	return status, nil
}

func load(snap *types.GPUSnapshot) float64 {
	if snap.TotalMB == 0 {
		return 0
	}
	return round1(float64(snap.UsedMB) / float64(snap.TotalMB))
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
