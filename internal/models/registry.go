// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package models owns the local-model lifecycle: the static catalog of
// supported models, hardware-aware selection, resumable downloads, and
// loading with single-flight semantics.
package models

import (
	"fmt"
	"sort"
	"sync"
)

// Quantization identifies the storage format of a model's weights.
type Quantization string

const (
	FullPrecision Quantization = "full_precision"
	GGUFQ4        Quantization = "gguf_q4"
	GGUFQ8        Quantization = "gguf_q8"
	FourBit       Quantization = "4bit"
)

// HardwareClass is the minimum hardware tier a model needs.
type HardwareClass string

const (
	CPUOnly HardwareClass = "cpu_only"
	GPULow  HardwareClass = "gpu_low"
	GPUMid  HardwareClass = "gpu_mid"
	GPUHigh HardwareClass = "gpu_high"
)

// Spec describes one supported model.
type Spec struct {
	// Name is the catalog key and the cache directory name
	Name string `json:"name" yaml:"name"`

	// SizeGB is the download size
	SizeGB float64 `json:"size_gb" yaml:"size_gb"`

	// MinVRAMGB is the GPU memory floor; zero means no GPU requirement
	MinVRAMGB int `json:"min_vram_gb,omitempty" yaml:"min_vram_gb"`

	// MinRAMGB is the system memory floor
	MinRAMGB int `json:"min_ram_gb" yaml:"min_ram_gb"`

	// Hardware is the minimum hardware tier
	Hardware HardwareClass `json:"hardware" yaml:"hardware"`

	// Quant is the weight format
	Quant Quantization `json:"quantization" yaml:"quantization"`

	// RepoID locates the upstream artifact
	RepoID string `json:"repo_id" yaml:"repo_id"`

	// SHA256 is the expected checksum of the artifact; empty skips
	// verification
	SHA256 string `json:"sha256,omitempty" yaml:"sha256"`

	// QualityScore and SpeedScore rank output quality and inference speed
	// on a 1-10 scale
	QualityScore int `json:"quality_score" yaml:"quality_score"`
	SpeedScore   int `json:"speed_score" yaml:"speed_score"`

	Description string `json:"description" yaml:"description"`
	License     string `json:"license" yaml:"license"`

	// Gated marks models that need upstream access approval
	Gated bool `json:"gated,omitempty" yaml:"gated"`
}

// CPUCompatible reports whether the model can run without a GPU.
func (s Spec) CPUCompatible() bool {
	return s.Hardware == CPUOnly || s.Quant == GGUFQ4 || s.Quant == GGUFQ8
}

// RequiresGPU reports whether the model cannot run on CPU at all.
func (s Spec) RequiresGPU() bool {
	return s.Hardware == GPULow || s.Hardware == GPUMid || s.Hardware == GPUHigh
}

// Registry holds the supported model catalog.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// NewRegistry returns a registry seeded with the built-in catalog.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[string]Spec)}
	for _, s := range builtinCatalog() {
		r.specs[s.Name] = s
	}
	return r
}

// Get returns a spec by name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Add registers or replaces a spec. Used for config-supplied extensions.
func (r *Registry) Add(s Spec) error {
	if s.Name == "" {
		return fmt.Errorf("model spec without a name")
	}
	if s.SizeGB <= 0 || s.MinRAMGB <= 0 {
		return fmt.Errorf("model %q: size and min RAM must be positive", s.Name)
	}
	r.mu.Lock()
	r.specs[s.Name] = s
	r.mu.Unlock()
	return nil
}

// All returns every spec sorted by name.
func (r *Registry) All() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CPUCompatibleSpecs returns every model runnable without a GPU.
func (r *Registry) CPUCompatibleSpecs() []Spec {
	all := r.All()
	out := all[:0]
	for _, s := range all {
		if s.CPUCompatible() {
			out = append(out, s)
		}
	}
	return out
}

func builtinCatalog() []Spec {
	return []Spec{
		{
			Name: "gpt2", SizeGB: 0.5, MinRAMGB: 2,
			Hardware: CPUOnly, Quant: FullPrecision, RepoID: "gpt2",
			QualityScore: 4, SpeedScore: 10,
			Description: "Lightweight model for testing and development",
			License:     "MIT",
		},
		{
			Name: "tinyllama-1.1b-chat", SizeGB: 2.2, MinVRAMGB: 4, MinRAMGB: 8,
			Hardware: GPULow, Quant: FullPrecision, RepoID: "TinyLlama/TinyLlama-1.1B-Chat-v1.0",
			QualityScore: 6, SpeedScore: 9,
			Description: "Chat-tuned 1.1B model designed for lightweight devices",
			License:     "Apache-2.0",
		},
		{
			Name: "tinyllama-1.1b-chat-gguf-q4", SizeGB: 0.6, MinRAMGB: 2,
			Hardware: CPUOnly, Quant: GGUFQ4, RepoID: "TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF",
			QualityScore: 5, SpeedScore: 10,
			Description: "Ultra-lightweight quantized TinyLlama",
			License:     "Apache-2.0",
		},
		{
			Name: "stablelm-2-zephyr-1.6b", SizeGB: 3.2, MinVRAMGB: 4, MinRAMGB: 8,
			Hardware: GPULow, Quant: FullPrecision, RepoID: "stabilityai/stablelm-2-zephyr-1_6b",
			QualityScore: 7, SpeedScore: 8,
			Description: "Chat-focused model tuned for instruction following",
			License:     "Apache-2.0",
		},
		{
			Name: "stablelm-2-zephyr-1.6b-gguf-q4", SizeGB: 1.0, MinRAMGB: 3,
			Hardware: CPUOnly, Quant: GGUFQ4, RepoID: "TheBloke/stablelm-2-zephyr-1_6b-GGUF",
			QualityScore: 6, SpeedScore: 9,
			Description: "CPU-optimized StableLM Zephyr",
			License:     "Apache-2.0",
		},
		{
			Name: "phi-2", SizeGB: 5.4, MinVRAMGB: 8, MinRAMGB: 16,
			Hardware: GPULow, Quant: FullPrecision, RepoID: "microsoft/phi-2",
			QualityScore: 8, SpeedScore: 7,
			Description: "Strong reasoning capabilities for 2.7B parameters",
			License:     "MIT",
		},
		{
			Name: "phi-2-gguf-q4", SizeGB: 1.7, MinRAMGB: 4,
			Hardware: CPUOnly, Quant: GGUFQ4, RepoID: "TheBloke/phi-2-GGUF",
			QualityScore: 7, SpeedScore: 8,
			Description: "CPU-optimized quantized Phi-2",
			License:     "MIT",
		},
		{
			Name: "mpt-7b-instruct", SizeGB: 13.5, MinVRAMGB: 16, MinRAMGB: 32,
			Hardware: GPUMid, Quant: FullPrecision, RepoID: "mosaicml/mpt-7b-instruct",
			QualityScore: 8, SpeedScore: 7,
			Description: "High-quality instruction-following model",
			License:     "Apache-2.0",
		},
		{
			Name: "mpt-7b-instruct-gguf-q4", SizeGB: 4.2, MinRAMGB: 8,
			Hardware: CPUOnly, Quant: GGUFQ4, RepoID: "TheBloke/mpt-7B-instruct-GGUF",
			QualityScore: 7, SpeedScore: 8,
			Description: "CPU-optimized quantized MPT-7B",
			License:     "Apache-2.0",
		},
		{
			Name: "mpt-7b-instruct-4bit", SizeGB: 4.5, MinVRAMGB: 6, MinRAMGB: 16,
			Hardware: GPULow, Quant: FourBit, RepoID: "mosaicml/mpt-7b-instruct",
			QualityScore: 7, SpeedScore: 8,
			Description: "4-bit quantized MPT-7B for lower VRAM",
			License:     "Apache-2.0",
		},
		{
			Name: "falcon-7b-instruct", SizeGB: 14.2, MinVRAMGB: 16, MinRAMGB: 32,
			Hardware: GPUMid, Quant: FullPrecision, RepoID: "tiiuae/falcon-7b-instruct",
			QualityScore: 8, SpeedScore: 6,
			Description: "Strong general-purpose instruction model",
			License:     "Apache-2.0",
		},
		{
			Name: "falcon-7b-instruct-gguf-q4", SizeGB: 4.1, MinRAMGB: 8,
			Hardware: CPUOnly, Quant: GGUFQ4, RepoID: "TheBloke/falcon-7b-instruct-GGUF",
			QualityScore: 7, SpeedScore: 7,
			Description: "CPU-optimized quantized Falcon-7B",
			License:     "Apache-2.0",
		},
	}
}
