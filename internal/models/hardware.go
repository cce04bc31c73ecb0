// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package models

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// HardwareProfile captures what the host can run.
type HardwareProfile struct {
	// TotalRAMGB and AvailableRAMGB are system memory in gigabytes
	TotalRAMGB     float64 `json:"total_ram_gb"`
	AvailableRAMGB float64 `json:"available_ram_gb"`

	// CPUCores is the logical core count
	CPUCores int `json:"cpu_cores"`

	// HasGPU and VRAMGB describe the first NVIDIA device, if any
	HasGPU  bool   `json:"has_gpu"`
	VRAMGB  int    `json:"vram_gb,omitempty"`
	GPUName string `json:"gpu_name,omitempty"`
}

const bytesPerGB = 1 << 30

// DetectHardware profiles the host. GPU detection failing is not an error;
// the profile simply reports no GPU.
func DetectHardware(ctx context.Context) (HardwareProfile, error) {
	var p HardwareProfile

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return p, err
	}
	p.TotalRAMGB = float64(vm.Total) / bytesPerGB
	p.AvailableRAMGB = float64(vm.Available) / bytesPerGB

	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return p, err
	}
	p.CPUCores = cores

	if name, vram, ok := detectNvidiaGPU(ctx); ok {
		p.HasGPU = true
		p.GPUName = name
		p.VRAMGB = vram
	}

	log.WithFields(log.Fields{
		"ram_gb": int(p.TotalRAMGB), "cores": p.CPUCores, "gpu": p.HasGPU,
	}).Debug("Hardware profile detected")
	return p, nil
}

// detectNvidiaGPU queries nvidia-smi for the first device's name and memory.
func detectNvidiaGPU(ctx context.Context) (name string, vramGB int, ok bool) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return "", 0, false
	}

	out, err := exec.CommandContext(ctx, path,
		"--query-gpu=name,memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		log.Debugf("nvidia-smi query failed: %v", err)
		return "", 0, false
	}

	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return "", 0, false
	}

	name = strings.TrimSpace(parts[0])
	mib, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return name, 0, true
	}
	return name, mib / 1024, true
}
