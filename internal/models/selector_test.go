// Copyright 2026 The EchoVersa Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogSeeded(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		"gpt2",
		"tinyllama-1.1b-chat-gguf-q4",
		"stablelm-2-zephyr-1.6b-gguf-q4",
		"phi-2-gguf-q4",
		"mpt-7b-instruct-gguf-q4",
		"falcon-7b-instruct-gguf-q4",
	} {
		_, ok := r.Get(name)
		assert.True(t, ok, "catalog missing %s", name)
	}
}

func TestAddValidates(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Add(Spec{}))
	assert.Error(t, r.Add(Spec{Name: "x"}))
	assert.NoError(t, r.Add(Spec{Name: "x", SizeGB: 1, MinRAMGB: 1}))
}

func TestCPUCompatible(t *testing.T) {
	assert.True(t, Spec{Hardware: CPUOnly}.CPUCompatible())
	assert.True(t, Spec{Hardware: GPULow, Quant: GGUFQ4}.CPUCompatible())
	assert.False(t, Spec{Hardware: GPUMid, Quant: FullPrecision}.CPUCompatible())
}

func TestFitsRAMFloor(t *testing.T) {
	s := Spec{Name: "m", MinRAMGB: 8, Hardware: CPUOnly}
	assert.False(t, Fits(s, HardwareProfile{AvailableRAMGB: 4}))
	assert.True(t, Fits(s, HardwareProfile{AvailableRAMGB: 8}))
}

func TestFitsGPURequirement(t *testing.T) {
	s := Spec{Name: "m", MinRAMGB: 4, Hardware: GPULow, MinVRAMGB: 8}
	assert.False(t, Fits(s, HardwareProfile{AvailableRAMGB: 16}), "no GPU")
	assert.False(t, Fits(s, HardwareProfile{AvailableRAMGB: 16, HasGPU: true, VRAMGB: 4}), "too little VRAM")
	assert.True(t, Fits(s, HardwareProfile{AvailableRAMGB: 16, HasGPU: true, VRAMGB: 8}))
	assert.True(t, Fits(s, HardwareProfile{AvailableRAMGB: 16, HasGPU: true}), "unknown VRAM passes")
}

func TestSelectRanksByWeightedScore(t *testing.T) {
	r := &Registry{specs: map[string]Spec{}}
	require.NoError(t, r.Add(Spec{Name: "quality", SizeGB: 4, MinRAMGB: 1, Hardware: CPUOnly, QualityScore: 9, SpeedScore: 2}))
	require.NoError(t, r.Add(Spec{Name: "speed", SizeGB: 1, MinRAMGB: 1, Hardware: CPUOnly, QualityScore: 2, SpeedScore: 9}))

	ranked := NewSelector(r).Select(HardwareProfile{AvailableRAMGB: 16})
	require.Len(t, ranked, 2)
	// quality: 9*0.6+2*0.4 = 6.2; speed: 2*0.6+9*0.4 = 4.8
	assert.Equal(t, "quality", ranked[0].Spec.Name)
	assert.InDelta(t, 6.2, ranked[0].Score, 1e-9)
}

func TestSelectTieBreaksOnSize(t *testing.T) {
	r := &Registry{specs: map[string]Spec{}}
	require.NoError(t, r.Add(Spec{Name: "big", SizeGB: 8, MinRAMGB: 1, Hardware: CPUOnly, QualityScore: 6, SpeedScore: 6}))
	require.NoError(t, r.Add(Spec{Name: "tiny", SizeGB: 1, MinRAMGB: 1, Hardware: CPUOnly, QualityScore: 6, SpeedScore: 6}))

	ranked := NewSelector(r).Select(HardwareProfile{AvailableRAMGB: 16})
	require.Len(t, ranked, 2)
	assert.Equal(t, "tiny", ranked[0].Spec.Name, "equal scores must prefer the smaller model")
}

func TestBestFallsThroughWhenNothingFits(t *testing.T) {
	sel := NewSelector(NewRegistry())
	_, ok := sel.Best(HardwareProfile{AvailableRAMGB: 0.5})
	assert.False(t, ok)
}

func TestBestOnConstrainedMachinePicksQuantized(t *testing.T) {
	// 4 GB available, no GPU: only the small gguf models fit, and the
	// phi-2 q4 variant has the best weighted score among them.
	sel := NewSelector(NewRegistry())
	best, ok := sel.Best(HardwareProfile{AvailableRAMGB: 4, CPUCores: 4})
	require.True(t, ok)
	assert.Equal(t, "phi-2-gguf-q4", best.Name)
}
